// Package tokenizer estimates token counts for chat conversations.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Chat formats wrap each message in a few control tokens and prime the reply.
const (
	perMessageOverhead = 4
	replyPriming       = 3
)

// CountTokens estimates tokens in text as the larger of a word-based and a
// character-based guess, which tracks BPE tokenizers closely for English
// prose and code.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	return max(byWords, byChars, 1)
}

// Message is the minimum a chat message needs to be counted.
type Message interface {
	TokenText() (role, name, content string)
}

// CountConversation estimates the prompt tokens a chat completion request for
// msgs will consume.
func CountConversation[M Message](msgs []M) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range msgs {
		role, name, content := m.TokenText()
		total += perMessageOverhead + CountTokens(role) + CountTokens(content)
		if name != "" {
			total += CountTokens(name)
		}
	}
	return total
}
