package ingestion

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はナレッジベースの永続化インターフェース
type Repository interface {
	// GetByURL はソースURLでナレッジベースを取得する
	GetByURL(ctx context.Context, sourceURL string) (mo.Option[*KnowledgeBase], error)

	// GetByID はIDでナレッジベースを取得する
	GetByID(ctx context.Context, id uuid.UUID) (mo.Option[*KnowledgeBase], error)

	// Create は新しいナレッジベースをEMPTY状態で作成する
	// 同一URLの行が既に存在する場合は既存の行を返す（冪等）
	Create(ctx context.Context, sourceURL string) (*KnowledgeBase, error)

	// UpdateStatus はナレッジベースの状態を更新する
	// dimensionはREADYへの遷移時にインデックスの次元数として記録される
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, dimension int) error

	// DeleteChunks はナレッジベースに紐づくチャンクを全て削除する
	// FAILEDからの再インジェスト時に中途半端なインデックスを破棄するために使用する
	DeleteChunks(ctx context.Context, id uuid.UUID) error
}
