package ingestion

import (
	"errors"
	"fmt"
)

// Stage はインジェスト処理の失敗箇所を識別する
type Stage string

const (
	StageFetch Stage = "fetch" // PDFの取得・解析
	StageChunk Stage = "chunk" // テキストのチャンク化
	StageEmbed Stage = "embed" // Embedding生成
	StageStore Stage = "store" // インデックスへの書き込み
)

var (
	// ErrKnowledgeBaseLoading はインジェスト処理中のナレッジベースへの操作を表す
	ErrKnowledgeBaseLoading = errors.New("knowledge base is still loading")

	// ErrKnowledgeBaseNotFound は存在しないナレッジベースへの参照を表す
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
)

// FetchError はソースURLから文書を取得できなかったことを表す
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch document from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IngestionError はインジェスト処理の失敗を、失敗した段階とともに表す
type IngestionError struct {
	Stage Stage
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at stage %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}
