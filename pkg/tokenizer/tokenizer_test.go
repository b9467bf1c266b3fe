package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type msg struct{ role, name, content string }

func (m msg) TokenText() (string, string, string) { return m.role, m.name, m.content }

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens(""))
	assert.Equal(t, 1, CountTokens("hi"))
	assert.Equal(t, 4, CountTokens("one two three"))
	assert.Equal(t, 25, CountTokens(string(make([]byte, 100))))
}

func TestCountConversation(t *testing.T) {
	assert.Zero(t, CountConversation([]msg{}))

	one := CountConversation([]msg{{role: "user", content: "hello there"}})
	assert.Equal(t, replyPriming+perMessageOverhead+CountTokens("user")+CountTokens("hello there"), one)

	named := CountConversation([]msg{{role: "user", name: "ann", content: "hello there"}})
	assert.Equal(t, one+1, named)
}
