package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrQueueClosed 队列已关闭
var ErrQueueClosed = errors.New("memory ingest queue is closed")

const ingestJobTimeout = 30 * time.Second

// IngestJob 一次记忆写入任务
type IngestJob struct {
	UserID             uint      `json:"user_id"`
	ConversationID     uint      `json:"conversation_id"`
	Turns              []Turn    `json:"turns"`
	CustomInstructions string    `json:"custom_instructions,omitempty"`
	EnqueuedAt         time.Time `json:"enqueued_at"`
}

// Queue 记忆写入队列，Enqueue不会阻塞请求路径
type Queue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Start(ctx context.Context)
	Close() error
	Errors() <-chan error
}

// IngestMetrics 写入结果计数
type IngestMetrics struct {
	jobs *prometheus.CounterVec
}

// NewIngestMetrics 注册写入指标，reg为nil时使用默认注册表
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &IngestMetrics{
		jobs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chat_memory_ingest_total",
			Help: "Memory ingest jobs by queue and result",
		}, []string{"queue", "result"}),
	}
}

func (m *IngestMetrics) observe(queue, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, result).Inc()
}

// Processor 执行写入任务，失败只记录不返回给调用方
type Processor struct {
	gateway *Gateway
	logger  *zap.Logger
	metrics *IngestMetrics
	errs    chan error
}

// NewProcessor 创建任务处理器
func NewProcessor(gateway *Gateway, logger *zap.Logger, metrics *IngestMetrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
		errs:    make(chan error, 64),
	}
}

// Errors 最近的写入错误，满了直接丢弃
func (p *Processor) Errors() <-chan error {
	return p.errs
}

// Process 执行一次写入
func (p *Processor) Process(ctx context.Context, queue string, job IngestJob) error {
	ctx, cancel := context.WithTimeout(ctx, ingestJobTimeout)
	defer cancel()

	ok, err := p.gateway.IngestWithError(ctx, job.UserID, job.Turns, job.CustomInstructions)
	switch {
	case err != nil:
		p.metrics.observe(queue, "error")
		p.logger.Warn("Memory ingest job failed",
			zap.String("queue", queue),
			zap.Uint("user_id", job.UserID),
			zap.Uint("conversation_id", job.ConversationID),
			zap.Error(err))
		select {
		case p.errs <- fmt.Errorf("ingest conversation %d: %w", job.ConversationID, err):
		default:
		}
		return err
	case !ok:
		p.metrics.observe(queue, "skipped")
	default:
		p.metrics.observe(queue, "ok")
	}
	return nil
}

// ChannelQueue 进程内有界队列+worker池
type ChannelQueue struct {
	jobs      chan IngestJob
	workers   int
	processor *Processor

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewChannelQueue 创建进程内队列
func NewChannelQueue(processor *Processor, workers, buffer int) *ChannelQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelQueue{
		jobs:      make(chan IngestJob, buffer),
		workers:   workers,
		processor: processor,
	}
}

func (q *ChannelQueue) Enqueue(_ context.Context, job IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.processor.metrics.observe("memory", "dropped")
		return ErrQueueFull
	}
}

// Start 启动worker，Close后处理完剩余任务再退出
func (q *ChannelQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				_ = q.processor.Process(context.WithoutCancel(ctx), "memory", job)
			}
		}()
	}
}

func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func (q *ChannelQueue) Errors() <-chan error {
	return q.processor.Errors()
}

// RedisQueue 基于Redis list的队列，LPUSH入队，BRPOP消费
type RedisQueue struct {
	client    redis.UniversalClient
	key       string
	workers   int
	processor *Processor
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisQueue 创建Redis队列
func NewRedisQueue(client redis.UniversalClient, key string, processor *Processor, workers int) *RedisQueue {
	if key == "" {
		key = "chat:memory:ingest"
	}
	if workers <= 0 {
		workers = 1
	}
	return &RedisQueue{
		client:    client,
		key:       key,
		workers:   workers,
		processor: processor,
		logger:    processor.logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job IngestJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consume(ctx)
		}()
	}
}

func (q *RedisQueue) consume(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Warn("Redis ingest queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP返回[key, value]
		if len(res) != 2 {
			continue
		}
		var job IngestJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Warn("Discarding malformed ingest job", zap.Error(err))
			continue
		}
		_ = q.processor.Process(context.WithoutCancel(ctx), "redis", job)
	}
}

func (q *RedisQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return nil
}

func (q *RedisQueue) Errors() <-chan error {
	return q.processor.Errors()
}

// KafkaQueue 发送到Kafka主题，由worker进程的消费者组执行写入
type KafkaQueue struct {
	producer  *kafka.Producer
	topic     string
	processor *Processor
}

// NewKafkaQueue 创建Kafka队列
func NewKafkaQueue(producer *kafka.Producer, topic string, processor *Processor) *KafkaQueue {
	return &KafkaQueue{producer: producer, topic: topic, processor: processor}
}

func (q *KafkaQueue) Enqueue(_ context.Context, job IngestJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	return q.producer.Publish(q.topic, UserKey(job.UserID), job, map[string]string{"user_id": UserKey(job.UserID)})
}

// Start 消费在cmd/worker里通过Handle注册
func (q *KafkaQueue) Start(context.Context) {}

func (q *KafkaQueue) Close() error { return nil }

func (q *KafkaQueue) Errors() <-chan error {
	return q.processor.Errors()
}

// Topic 写入主题
func (q *KafkaQueue) Topic() string {
	return q.topic
}

// Handle Kafka消息处理器，格式错误的消息直接确认
func (q *KafkaQueue) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var job IngestJob
	if err := json.Unmarshal(message.Value, &job); err != nil {
		q.processor.logger.Warn("Discarding malformed ingest job",
			zap.Int64("offset", message.Offset),
			zap.Error(err))
		return nil
	}
	return q.processor.Process(ctx, "kafka", job)
}
