package services

import (
	"strings"
	"unicode/utf8"

	"github.com/aihub/chat-backend/internal/llm"
)

// EstimateTokens 估算文本token数
//
// 取字符数/4与词数/0.75两者的较大值并向上取整：前者适合CJK等无空格文本，
// 后者适合英文。纯函数，同样的输入总是得到同样的结果。
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	words := len(strings.Fields(text))
	byWords := (4*words + 2) / 3
	if byWords > byChars {
		return byWords
	}
	return byChars
}

// EstimateTurns 估算一组消息的token总数
func EstimateTurns(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
