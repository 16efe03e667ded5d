package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyUtterance は空の発話に対するエラー
// 何も永続化されず、ユーザーは再入力を促される
var ErrEmptyUtterance = errors.New("utterance must not be empty")

// StoreError はトランスクリプトの永続化失敗を表す
// 永続化できなかったターンは黙って破棄も重複もされないため、
// このエラーは呼び出し元へ必ず伝播される
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("conversation store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// GenerationError はテキスト生成の失敗を表す
// 失敗自体がアシスタントのメッセージとしてトランスクリプトに記録される
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Store は会話の永続化インターフェース
// プロセス再起動をまたいで全RunとTurnの真実の情報源となる
type Store interface {
	// GetRuns はユーザーのRunをcreated_at降順（同時刻はID降順）で返す
	GetRuns(ctx context.Context, userID string) ([]*Run, error)

	// CreateRun は新しいRunを作成する
	CreateRun(ctx context.Context, userID string) (*Run, error)

	// AppendTurn はRunにTurnを追記する
	// 同一Runへの追記は直列化され、Turnの順序が壊れることはない
	AppendTurn(ctx context.Context, runID uuid.UUID, turn Turn) error

	// GetTranscript はRunのTurnをtimestamp昇順で返す
	GetTranscript(ctx context.Context, runID uuid.UUID) ([]Turn, error)
}
