package retrieval

import (
	"context"

	"github.com/google/uuid"
)

// Chunk はベクトルインデックスに格納される文書断片を表す
// 一度作成されたChunkは不変であり、インデックスが所有する
type Chunk struct {
	ID              uuid.UUID `json:"id"`
	KnowledgeBaseID uuid.UUID `json:"knowledgeBaseID"`
	Ordinal         int       `json:"ordinal"` // 文書内の出現順（同点スコアのタイブレークに使用）
	Page            int       `json:"page"`    // 抽出元のページ番号（1始まり）
	Content         string    `json:"content"`
	Vector          []float32 `json:"-"`
}

// ScoredChunk は検索結果のチャンクとスコアの組を表す
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"` // コサイン類似度（大きいほど関連が強い）
}

// Index はナレッジベース単位のベクトルインデックスを表す
//
// Insertは追記専用で、更新・削除は提供しない（別URLの再インジェストは
// 新しいナレッジベースとして構築する）。
// Queryはコサイン類似度の降順で最大k件を返す。スコアが同点の場合は
// Ordinal昇順（文書内で先に出現した方を優先）で順序を決定する。
// 空のインデックスへのQueryは空スライスを返し、エラーにはしない。
type Index interface {
	Insert(ctx context.Context, chunk Chunk) error
	Query(ctx context.Context, knowledgeBaseID uuid.UUID, vector []float32, k int) ([]ScoredChunk, error)
}
