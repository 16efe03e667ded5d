package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role は会話ターンの発話者を表す
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn はRun内の1メッセージを表す
// 一度追記されたTurnは不変であり、並べ替えも行われない
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Run はユーザー1人の永続化された会話セッションを表す
type Run struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userID"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session はセッション開始時にストアから再構築されるインメモリの束縛を表す
// 永続化はされず、真実の情報源は常にStoreである
type Session struct {
	UserID          string
	RunID           uuid.UUID
	KnowledgeBaseID uuid.UUID
}

// SourceReference は回答の根拠となったチャンク参照を表す
type SourceReference struct {
	ChunkID uuid.UUID `json:"chunkID"`
	Page    int       `json:"page"`
	Ordinal int       `json:"ordinal"`
	Score   float64   `json:"score"` // 関連度スコア
}

// Reply は1ターンの応答結果を表す
type Reply struct {
	RunID    uuid.UUID         `json:"runID"`
	Answer   string            `json:"answer"`
	Sources  []SourceReference `json:"sources"`
	Degraded bool              `json:"degraded"` // 検索失敗によりコンテキストなしで生成した場合true
}
