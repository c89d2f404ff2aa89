package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	defaultBucket      = "chat-attachments"
	bucketCheckRetries = 5
	defaultURLExpiry   = 24 * time.Hour
)

// AttachmentStore 附件对象存储
type AttachmentStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewAttachmentStore 创建MinIO附件存储，并确保bucket存在
func NewAttachmentStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*AttachmentStore, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("attachment storage is disabled")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	// minio.New 不接受协议前缀
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := &AttachmentStore{client: client, bucket: bucket, logger: logger}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("Attachment storage ready", zap.String("endpoint", endpoint), zap.String("bucket", bucket))
	return store, nil
}

func (s *AttachmentStore) ensureBucket(ctx context.Context) error {
	var (
		exists bool
		err    error
	)
	for i := 0; i < bucketCheckRetries; i++ {
		exists, err = s.client.BucketExists(ctx, s.bucket)
		if err == nil {
			break
		}
		wait := time.Duration(i+1) * time.Second
		s.logger.Warn("MinIO bucket check failed, retrying",
			zap.Int("attempt", i+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Created attachment bucket", zap.String("bucket", s.bucket))
	return nil
}

// ObjectKey 附件对象路径 attachments/<user>/<uuid>-<filename>
func ObjectKey(userID uint, filename string) string {
	return fmt.Sprintf("attachments/%d/%s-%s", userID, uuid.NewString(), sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`?#%*:|"<>`, r):
			return '_'
		}
		return r
	}, name)
}

// PutAttachment 上传附件，返回对象key
func (s *AttachmentStore) PutAttachment(ctx context.Context, userID uint, filename, mimeType string, data []byte) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := ObjectKey(userID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}
	s.logger.Debug("Stored attachment", zap.String("key", key), zap.Int("size", len(data)))
	return key, nil
}

// GetAttachment 读取附件，只允许读取属于该用户的对象
func (s *AttachmentStore) GetAttachment(ctx context.Context, userID uint, key string) (io.ReadCloser, error) {
	if !OwnsKey(userID, key) {
		return nil, fmt.Errorf("attachment %q does not belong to user %d", key, userID)
	}
	return s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
}

// PresignedURL 附件的临时访问地址
func (s *AttachmentStore) PresignedURL(ctx context.Context, userID uint, key string, expires time.Duration) (string, error) {
	if !OwnsKey(userID, key) {
		return "", fmt.Errorf("attachment %q does not belong to user %d", key, userID)
	}
	if expires <= 0 {
		expires = defaultURLExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// DeleteUserAttachments 删除用户的全部附件
func (s *AttachmentStore) DeleteUserAttachments(ctx context.Context, userID uint) (int, error) {
	deleted := 0
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fmt.Sprintf("attachments/%d/", userID),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return deleted, obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// HealthCheck 检查bucket是否可访问
func (s *AttachmentStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// OwnsKey 对象key是否属于该用户
func OwnsKey(userID uint, key string) bool {
	return strings.HasPrefix(key, fmt.Sprintf("attachments/%d/", userID)) && !strings.Contains(key, "..")
}
