package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
	"github.com/jinford/pdf-assistant/pkg/lock"
)

// RunRepository は conversation.Store を実装する PostgreSQL リポジトリです
//
// AppendTurn はトランザクション内でRunごとのアドバイザリロックを取得するため、
// 複数プロセスから同時に追記しても同一Runのトランスクリプト順序は壊れません。
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository は新しい RunRepository を作成します
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// コンパイル時の型チェック
var _ conversation.Store = (*RunRepository)(nil)

// GetRuns はユーザーのRunをcreated_at降順（同時刻はID降順）で返します
func (r *RunRepository) GetRuns(ctx context.Context, userID string) ([]*conversation.Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, created_at
		FROM runs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*conversation.Run
	for rows.Next() {
		var (
			id        pgtype.UUID
			uid       string
			createdAt pgtype.Timestamp
		)

		if err := rows.Scan(&id, &uid, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, &conversation.Run{
			ID:        PgtypeToUUID(id),
			UserID:    uid,
			CreatedAt: PgtypeToTime(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// CreateRun は新しいRunを作成します
func (r *RunRepository) CreateRun(ctx context.Context, userID string) (*conversation.Run, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO runs (id, user_id)
		VALUES ($1, $2)
		RETURNING id, user_id, created_at`,
		UUIDToPgtype(uuid.New()),
		userID,
	)

	var (
		id        pgtype.UUID
		uid       string
		createdAt pgtype.Timestamp
	)

	if err := row.Scan(&id, &uid, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &conversation.Run{
		ID:        PgtypeToUUID(id),
		UserID:    uid,
		CreatedAt: PgtypeToTime(createdAt),
	}, nil
}

// AppendTurn はRunにTurnを追記します
func (r *RunRepository) AppendTurn(ctx context.Context, runID uuid.UUID, turn conversation.Turn) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// 同一Runへの追記をプロセス横断で直列化する
	lockID := lock.GenerateLockID("run", runID.String())
	if _, err := lock.Acquire(ctx, tx, lockID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO turns (id, run_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		UUIDToPgtype(uuid.New()),
		UUIDToPgtype(runID),
		string(turn.Role),
		turn.Content,
		TimeToPgtype(turn.Timestamp),
	); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTranscript はRunのTurnをtimestamp昇順で返します
func (r *RunRepository) GetTranscript(ctx context.Context, runID uuid.UUID) ([]conversation.Turn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM turns
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC`,
		UUIDToPgtype(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			role      string
			content   string
			createdAt pgtype.Timestamp
		)

		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		turns = append(turns, conversation.Turn{
			Role:      conversation.Role(role),
			Content:   content,
			Timestamp: PgtypeToTime(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	return turns, nil
}
