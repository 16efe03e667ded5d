package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status はナレッジベースの状態を表す
type Status string

const (
	// StatusEmpty は作成直後でまだ何も取り込んでいない状態
	StatusEmpty Status = "EMPTY"
	// StatusLoading はインジェスト処理中の状態
	StatusLoading Status = "LOADING"
	// StatusReady はインジェスト完了で検索可能な状態
	StatusReady Status = "READY"
	// StatusFailed はインジェスト失敗の状態（再インジェスト可能）
	StatusFailed Status = "FAILED"
)

// KnowledgeBase は1つのPDF文書に対応するインデックス済みチャンク集合を表す
// ソースURLをキーとして一意に識別される
type KnowledgeBase struct {
	ID        uuid.UUID `json:"id"`
	SourceURL string    `json:"sourceURL"`
	Status    Status    `json:"status"`
	Dimension int       `json:"dimension"` // インデックス内の全ベクトルが持つ次元数（未確定時は0）
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page はPDFの1ページから抽出されたテキストを表す
type Page struct {
	Number int    // ページ番号（1始まり）
	Text   string // 抽出されたプレーンテキスト（抽出不能な場合は空）
}

// DocumentLoader は文書取得の能力インターフェース
// URLからPDFを取得し、ページごとのテキストに変換する
type DocumentLoader interface {
	LoadPages(ctx context.Context, url string) ([]Page, error)
}

// Embedder はEmbedding生成の能力インターフェース
type Embedder interface {
	// BatchEmbed は複数テキストのEmbeddingをまとめて生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension は生成されるベクトルの次元数を返す
	Dimension() int
}
