package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func conversationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "title", "message_count", "token_count"})
}

func TestMessageRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = .+ AND user_id = .+FOR UPDATE`).
		WillReturnRows(conversationRows().AddRow(1, 7, "", 0, 0))
	mock.ExpectQuery(`INSERT INTO "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectExec(`UPDATE "conversations" SET "last_message_at"=.+"message_count"=message_count \+ .+"title"=.+"token_count"=token_count \+ `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = `).
		WillReturnRows(conversationRows().AddRow(1, 7, "Hello", 1, 3))
	mock.ExpectCommit()

	msg := &models.Message{ConversationID: 1, UserID: 7, Role: models.RoleUser, Content: "Hello", TokenCount: 3}
	conv, err := repo.Append(context.Background(), msg, "Hello")
	require.NoError(t, err)

	assert.Equal(t, uint(10), msg.ID)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, 3, conv.TokenCount)
	assert.Equal(t, "Hello", conv.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_AppendForeignConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations"`).WillReturnRows(conversationRows())
	mock.ExpectRollback()

	msg := &models.Message{ConversationID: 1, UserID: 99, Role: models.RoleUser, Content: "hi", TokenCount: 1}
	_, err := repo.Append(context.Background(), msg, "")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_UpdateContentPropagatesDelta(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE id = .+ AND user_id = .+FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "user_id", "role", "content", "token_count"}).
			AddRow(5, 1, 7, "user", "old", 2))
	mock.ExpectExec(`UPDATE "messages" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "conversations" SET "token_count"=token_count \+ `).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, delta, err := repo.UpdateContent(context.Background(), 5, 7, "a much longer edit", 6, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, delta)
	assert.Equal(t, 6, msg.TokenCount)
	assert.True(t, msg.IsEdited)
	assert.NotNil(t, msg.EditedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_UpdateContentSameTokens(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "user_id", "token_count"}).AddRow(5, 1, 7, 2))
	mock.ExpectExec(`UPDATE "messages" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, delta, err := repo.UpdateContent(context.Background(), 5, 7, "new", 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, delta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_DeleteFrom(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations".+FOR UPDATE`).
		WillReturnRows(conversationRows().AddRow(1, 7, "t", 6, 30))
	mock.ExpectQuery(`SELECT id, token_count FROM "messages" WHERE conversation_id = .+ORDER BY id ASC.+OFFSET`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "token_count"}).AddRow(4, 5).AddRow(5, 5).AddRow(6, 5))
	mock.ExpectExec(`DELETE FROM "messages" WHERE id IN`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE "conversations" SET "message_count"=GREATEST\(message_count - .+"token_count"=GREATEST\(token_count - `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := repo.DeleteFrom(context.Background(), 1, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_DeleteFromNothingToDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations"`).
		WillReturnRows(conversationRows().AddRow(1, 7, "t", 2, 10))
	mock.ExpectQuery(`SELECT id, token_count FROM "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "token_count"}))
	mock.ExpectCommit()

	deleted, err := repo.DeleteFrom(context.Background(), 1, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE \(conversation_id = .+ AND user_id = .+\) AND id < .+ORDER BY id DESC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "content"}).AddRow(9, "assistant", "b").AddRow(8, "user", "a"))

	messages, err := repo.ListBefore(context.Background(), 1, 7, 10, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, uint(9), messages[0].ID)
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_UpdateNotOwned(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "conversations" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), 1, 99, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = .+ AND user_id = `).
		WillReturnRows(conversationRows().AddRow(3, 7, "Trip", 4, 40))

	conv, err := repo.GetByID(context.Background(), 3, 7)
	require.NoError(t, err)
	assert.Equal(t, "Trip", conv.Title)
	assert.Equal(t, 40, conv.TokenCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
