package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishUsage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewProducerConfig())
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event UsageEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.UserID != 7 || event.TotalTokens != 30 || event.State != "completed" {
			return errors.New("unexpected usage payload")
		}
		return nil
	})

	producer := WrapProducer(mock)
	defer producer.Close()

	event := &UsageEvent{
		ConversationID:   3,
		UserID:           7,
		Model:            "gpt-4o-mini",
		PromptTokens:     20,
		CompletionTokens: 10,
		TotalTokens:      30,
		State:            "completed",
	}
	require.NoError(t, producer.PublishUsage("chat-usage", event))
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "7", event.Key())
}

func TestPublishFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewProducerConfig())
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := WrapProducer(mock)
	defer producer.Close()

	err := producer.Publish("chat-usage", "1", map[string]int{"a": 1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestNilProducer(t *testing.T) {
	var producer *Producer
	assert.Error(t, producer.Publish("t", "k", nil, nil))
	assert.NoError(t, producer.Close())
}

func TestParseUsageEvent(t *testing.T) {
	event, err := ParseUsageEvent([]byte(`{"conversation_id":1,"user_id":2,"total_tokens":9,"state":"aborted"}`))
	require.NoError(t, err)
	assert.Equal(t, uint(2), event.UserID)
	assert.Equal(t, 9, event.TotalTokens)

	_, err = ParseUsageEvent([]byte("{"))
	assert.Error(t, err)
}
