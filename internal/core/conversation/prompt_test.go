package conversation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

func TestBuildChatPrompt(t *testing.T) {
	chunks := []retrieval.ScoredChunk{
		{
			Chunk: retrieval.Chunk{ID: uuid.New(), Ordinal: 3, Page: 2, Content: "チャンク本文その1"},
			Score: 0.91,
		},
		{
			Chunk: retrieval.Chunk{ID: uuid.New(), Ordinal: 7, Page: 5, Content: "チャンク本文その2"},
			Score: 0.75,
		},
	}
	history := []Turn{
		{Role: RoleUser, Content: "前の質問"},
		{Role: RoleAssistant, Content: "前の回答"},
	}

	prompt := BuildChatPrompt("今回の質問", chunks, history)

	assert.Contains(t, prompt, "## 参照資料")
	assert.Contains(t, prompt, "[資料 1]")
	assert.Contains(t, prompt, "チャンク本文その1")
	assert.Contains(t, prompt, "[資料 2]")
	assert.Contains(t, prompt, "チャンク本文その2")

	assert.Contains(t, prompt, "## 会話履歴")
	assert.Contains(t, prompt, "ユーザー: 前の質問")
	assert.Contains(t, prompt, "アシスタント: 前の回答")

	assert.Contains(t, prompt, "## ユーザーの質問")
	assert.Contains(t, prompt, "今回の質問")
}

func TestBuildChatPromptWithoutContext(t *testing.T) {
	prompt := BuildChatPrompt("質問だけ", nil, nil)

	assert.Contains(t, prompt, "該当する参照資料はありません")
	assert.Contains(t, prompt, "これまでの会話はありません")
	assert.Contains(t, prompt, "質問だけ")
}
