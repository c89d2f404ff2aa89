package services

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", DeriveTitle("  hello  "))

	long := strings.Repeat("x", 60)
	assert.Equal(t, strings.Repeat("x", 50)+"...", DeriveTitle(long))

	exact := strings.Repeat("字", 50)
	assert.Equal(t, exact, DeriveTitle(exact))
}

func TestConversationService_AppendSetsTitleOnce(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, 7, "", "", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Empty(t, conv.Title)

	msg, updated, err := svc.AppendMessage(ctx, 7, conv.ID, models.RoleUser, "What is Go?", nil)
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", updated.Title)
	assert.Equal(t, 1, updated.MessageCount)
	assert.Equal(t, EstimateTokens("What is Go?"), msg.TokenCount)

	_, updated, err = svc.AppendMessage(ctx, 7, conv.ID, models.RoleUser, "second question", nil)
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", updated.Title)
	assert.Equal(t, 2, updated.MessageCount)
}

func TestConversationService_AppendValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, 1, "t", "", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		role    models.Role
		content string
		meta    *MessageMeta
		wantErr bool
	}{
		{"invalid role", models.Role("tool"), "hi", nil, true},
		{"blank content", models.RoleUser, "   ", nil, true},
		{"attachment only", models.RoleUser, "", &MessageMeta{Attachments: models.Attachments{{Kind: models.AttachmentImage, Filename: "a.png"}}}, false},
		{"assistant", models.RoleAssistant, "ok", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.AppendMessage(ctx, 1, conv.ID, tt.role, tt.content, tt.meta)
			if tt.wantErr {
				require.Error(t, err)
				appErr := apperrors.GetAppError(err)
				assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConversationService_OwnershipAndNotFound(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, 1, "mine", "", "")
	require.NoError(t, err)

	_, err = svc.GetConversation(ctx, 2, conv.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, _, err = svc.AppendMessage(ctx, 2, conv.ID, models.RoleUser, "hi", nil)
	assert.True(t, apperrors.IsNotFound(err))

	err = svc.DeleteConversation(ctx, 2, conv.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.CreateConversation(ctx, 0, "", "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetAppError(err).Code)
}

func TestConversationService_PersistenceError(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	store.failWith = stderrors.New("connection reset")

	_, err := svc.CreateConversation(context.Background(), 1, "", "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetAppError(err).Code)
}

func TestConversationService_UpdateConversation(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, 1, "old", "", "")
	require.NoError(t, err)

	title := "  renamed "
	pinned := true
	updated, err := svc.UpdateConversation(ctx, 1, conv.ID, ConversationPatch{Title: &title, IsPinned: &pinned})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.True(t, updated.IsPinned)
	assert.False(t, updated.IsArchived)
}

func TestConversationService_EditAndTruncate(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, 1, "", "", "")
	require.NoError(t, err)

	var ids []uint
	for _, content := range []string{"one", "two", "three", "four"} {
		msg, _, err := svc.AppendMessage(ctx, 1, conv.ID, models.RoleUser, content, nil)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	edited, err := svc.EditMessage(ctx, 1, ids[1], "two, but longer this time")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	_, err = svc.EditMessage(ctx, 1, ids[1], " ")
	require.Error(t, err)

	pos, err := svc.MessagePosition(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	deleted, err := svc.TruncateFrom(ctx, 1, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := svc.FetchRecentMessages(ctx, 1, conv.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "one", remaining[0].Content)

	_, err = svc.TruncateFrom(ctx, 1, conv.ID, -1)
	require.Error(t, err)
}

func TestMessageCursor_PagesNewestFirst(t *testing.T) {
	store := newMemStore()
	svc := newTestConversationService(store)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, 1, "", "", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		store.seedMessage(conv.ID, 1, models.RoleUser, "m", 1)
	}

	cursor := svc.NewMessageCursor(1, conv.ID, 2)
	var seen []uint
	for {
		page, err := cursor.Next(ctx)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			seen = append(seen, m.ID)
		}
	}
	assert.Equal(t, []uint{5, 4, 3, 2, 1}, seen)
}
