package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey(42, "report.pdf")
	assert.True(t, strings.HasPrefix(key, "attachments/42/"))
	assert.True(t, strings.HasSuffix(key, "-report.pdf"))
	assert.True(t, OwnsKey(42, key))
	assert.False(t, OwnsKey(4, key))

	assert.NotEqual(t, key, ObjectKey(42, "report.pdf"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\cat.jpg`, "cat.jpg"},
		{"what?.txt", "what_.txt"},
		{"", "file"},
		{"  ", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}

func TestOwnsKey_RejectsTraversal(t *testing.T) {
	assert.False(t, OwnsKey(1, "attachments/1/../2/x.png"))
	assert.False(t, OwnsKey(1, "attachments/12/x.png"))
}

func TestNewAttachmentStore_Disabled(t *testing.T) {
	_, err := NewAttachmentStore(context.Background(), config.StorageConfig{}, nil)
	require.Error(t, err)

	_, err = NewAttachmentStore(context.Background(), config.StorageConfig{Enabled: true}, nil)
	require.Error(t, err)
}
