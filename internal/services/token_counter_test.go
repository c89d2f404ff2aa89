package services

import (
	"strings"
	"testing"

	"github.com/aihub/chat-backend/internal/llm"
	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single char", text: "a", want: 2},
		{name: "short words dominate", text: "a b c d", want: 6},
		{name: "long word chars dominate", text: "internationalization", want: 5},
		{name: "hello world", text: "hello world", want: 3},
		{name: "cjk", text: "你好世界，今天天气很好", want: 3},
		{name: "whitespace only", text: "     ", want: 2},
		{name: "three words twelve chars", text: "abc defg hij", want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestEstimateTokensDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 50)
	first := EstimateTokens(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EstimateTokens(text))
	}
	// 200词，1000字符
	assert.Equal(t, 267, first)
}

func TestEstimateTurns(t *testing.T) {
	total := EstimateTurns([]llm.Message{
		{Role: "system", Content: "hello world"},
		{Role: "user", Content: "a b c d"},
		{Role: "assistant", Content: ""},
	})
	assert.Equal(t, 9, total)
}
