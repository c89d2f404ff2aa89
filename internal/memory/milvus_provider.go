package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusFieldID           = "id"
	milvusFieldUser         = "user_id"
	milvusFieldContent      = "content"
	milvusFieldInstructions = "instructions"
	milvusFieldCreatedAt    = "created_at"
	milvusFieldVector       = "vector"
)

var milvusOutputFields = []string{
	milvusFieldID, milvusFieldUser, milvusFieldContent, milvusFieldInstructions, milvusFieldCreatedAt,
}

// MilvusProvider Milvus向量记忆，所有用户共用一个collection，按user_id过滤
type MilvusProvider struct {
	client     client.Client
	embedder   Embedder
	collection string
	dim        int

	ensureOnce sync.Once
	ensureErr  error
}

// NewMilvusProvider 连接Milvus
func NewMilvusProvider(ctx context.Context, cfg config.MilvusConfig, embedder Embedder) (*MilvusProvider, error) {
	if embedder == nil || !embedder.Ready() {
		return nil, ErrEmbedderNotConfigured
	}
	if cfg.Address == "" {
		cfg.Address = "localhost:19530"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "chat_memory"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.NewClient(connectCtx, client.Config{
		Address:  cfg.Address,
		DBName:   cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusProvider{
		client:     c,
		embedder:   embedder,
		collection: cfg.CollectionPrefix,
		dim:        embedder.Dimensions(),
	}, nil
}

func (p *MilvusProvider) Name() string { return "milvus" }

// Close 关闭连接
func (p *MilvusProvider) Close() error {
	return p.client.Close()
}

func (p *MilvusProvider) ensureCollection(ctx context.Context) error {
	p.ensureOnce.Do(func() {
		p.ensureErr = p.createCollection(ctx)
	})
	return p.ensureErr
}

func (p *MilvusProvider) createCollection(ctx context.Context) error {
	exists, err := p.client.HasCollection(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		schema := &entity.Schema{
			CollectionName: p.collection,
			Description:    "Long-term chat memory",
			Fields: []*entity.Field{
				{Name: milvusFieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "64"}},
				{Name: milvusFieldUser, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
				{Name: milvusFieldContent, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
				{Name: milvusFieldInstructions, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "4096"}},
				{Name: milvusFieldCreatedAt, DataType: entity.FieldTypeInt64},
				{Name: milvusFieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(p.dim)}},
			},
		}
		if err := p.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := p.client.CreateIndex(ctx, p.collection, milvusFieldVector, index, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := p.client.LoadCollection(ctx, p.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (p *MilvusProvider) Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error) {
	if err := p.ensureCollection(ctx); err != nil {
		return nil, err
	}
	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := p.client.Search(
		ctx,
		p.collection,
		[]string{},
		userExpr(userID),
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(p.fit(vector))},
		milvusFieldVector,
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []Snippet{}, nil
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", results[0].Err)
	}

	snippets := snippetsFromColumns(results[0].Fields, results[0].ResultCount)
	for i := range snippets {
		if i < len(results[0].Scores) {
			snippets[i].Score = float64(results[0].Scores[i])
		}
	}
	return snippets, nil
}

func (p *MilvusProvider) Add(ctx context.Context, userID string, turns []Turn, customInstructions string) error {
	docs := pairTurns(turns)
	if len(docs) == 0 {
		return nil
	}
	if err := p.ensureCollection(ctx); err != nil {
		return err
	}

	var (
		ids          = make([]string, 0, len(docs))
		users        = make([]string, 0, len(docs))
		instructions = make([]string, 0, len(docs))
		created      = make([]int64, 0, len(docs))
		vectors      = make([][]float32, 0, len(docs))
		now          = time.Now().Unix()
	)
	for _, doc := range docs {
		vector, err := p.embedder.Embed(ctx, doc)
		if err != nil {
			return err
		}
		ids = append(ids, uuid.NewString())
		users = append(users, userID)
		instructions = append(instructions, customInstructions)
		created = append(created, now)
		vectors = append(vectors, p.fit(vector))
	}

	_, err := p.client.Insert(ctx, p.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldUser, users),
		entity.NewColumnVarChar(milvusFieldContent, docs),
		entity.NewColumnVarChar(milvusFieldInstructions, instructions),
		entity.NewColumnInt64(milvusFieldCreatedAt, created),
		entity.NewColumnFloatVector(milvusFieldVector, p.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	return p.client.Flush(ctx, p.collection, false)
}

func (p *MilvusProvider) Delete(ctx context.Context, userID string, ids []string) error {
	if err := p.ensureCollection(ctx); err != nil {
		return err
	}
	expr := userExpr(userID) + " && " + idsExpr(ids)
	if err := p.client.Delete(ctx, p.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return p.client.Flush(ctx, p.collection, false)
}

func (p *MilvusProvider) DeleteAll(ctx context.Context, userID string) error {
	if err := p.ensureCollection(ctx); err != nil {
		return err
	}
	if err := p.client.Delete(ctx, p.collection, "", userExpr(userID)); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return p.client.Flush(ctx, p.collection, false)
}

func (p *MilvusProvider) List(ctx context.Context, userID string) ([]Snippet, error) {
	if err := p.ensureCollection(ctx); err != nil {
		return nil, err
	}
	rs, err := p.client.Query(ctx, p.collection, []string{}, userExpr(userID), milvusOutputFields)
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}
	columns := []entity.Column(rs)
	rows := 0
	if len(columns) > 0 {
		rows = columns[0].Len()
	}
	return snippetsFromColumns(columns, rows), nil
}

// fit 把向量补齐或截断到collection维度
func (p *MilvusProvider) fit(vector []float32) []float32 {
	if len(vector) == p.dim {
		return vector
	}
	out := make([]float32, p.dim)
	copy(out, vector)
	return out
}

func snippetsFromColumns(columns []entity.Column, rows int) []Snippet {
	snippets := make([]Snippet, rows)
	for _, col := range columns {
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			data := c.Data()
			for i := 0; i < rows && i < len(data); i++ {
				switch c.Name() {
				case milvusFieldID:
					snippets[i].ID = data[i]
				case milvusFieldUser:
					snippets[i].UserID = data[i]
				case milvusFieldContent:
					snippets[i].Text = data[i]
				case milvusFieldInstructions:
					if data[i] != "" {
						snippets[i].Metadata = map[string]string{"instructions": data[i]}
					}
				}
			}
		case *entity.ColumnInt64:
			if c.Name() != milvusFieldCreatedAt {
				continue
			}
			data := c.Data()
			for i := 0; i < rows && i < len(data); i++ {
				snippets[i].CreatedAt = time.Unix(data[i], 0).UTC()
			}
		}
	}
	return snippets
}

func userExpr(userID string) string {
	return fmt.Sprintf("%s == %s", milvusFieldUser, strconv.Quote(userID))
}

func idsExpr(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, strconv.Quote(id))
	}
	return fmt.Sprintf("%s in [%s]", milvusFieldID, strings.Join(quoted, ", "))
}
