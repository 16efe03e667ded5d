package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
)

// TokenCounter は tiktoken を利用したトークンカウント実装
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		return 0
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// インターフェース実装の確認
var _ conversation.TokenCounter = (*TokenCounter)(nil)
