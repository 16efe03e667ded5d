package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/mo"

	"github.com/jinford/pdf-assistant/internal/core/ingestion"
)

// KnowledgeBaseRepository は ingestion.Repository を実装する PostgreSQL リポジトリです
type KnowledgeBaseRepository struct {
	pool *pgxpool.Pool
}

// NewKnowledgeBaseRepository は新しい KnowledgeBaseRepository を作成します
func NewKnowledgeBaseRepository(pool *pgxpool.Pool) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{pool: pool}
}

// コンパイル時の型チェック
var _ ingestion.Repository = (*KnowledgeBaseRepository)(nil)

const knowledgeBaseColumns = "id, source_url, status, dimension, created_at, updated_at"

func scanKnowledgeBase(row pgx.Row) (*ingestion.KnowledgeBase, error) {
	var (
		id        pgtype.UUID
		sourceURL string
		status    string
		dimension int
		createdAt pgtype.Timestamp
		updatedAt pgtype.Timestamp
	)

	if err := row.Scan(&id, &sourceURL, &status, &dimension, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	return &ingestion.KnowledgeBase{
		ID:        PgtypeToUUID(id),
		SourceURL: sourceURL,
		Status:    ingestion.Status(status),
		Dimension: dimension,
		CreatedAt: PgtypeToTime(createdAt),
		UpdatedAt: PgtypeToTime(updatedAt),
	}, nil
}

// GetByURL はソースURLでナレッジベースを取得します
func (r *KnowledgeBaseRepository) GetByURL(ctx context.Context, sourceURL string) (mo.Option[*ingestion.KnowledgeBase], error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+knowledgeBaseColumns+" FROM knowledge_bases WHERE source_url = $1",
		sourceURL,
	)

	kb, err := scanKnowledgeBase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*ingestion.KnowledgeBase](), nil
		}
		return mo.None[*ingestion.KnowledgeBase](), fmt.Errorf("failed to get knowledge base by url: %w", err)
	}

	return mo.Some(kb), nil
}

// GetByID はIDでナレッジベースを取得します
func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id uuid.UUID) (mo.Option[*ingestion.KnowledgeBase], error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+knowledgeBaseColumns+" FROM knowledge_bases WHERE id = $1",
		UUIDToPgtype(id),
	)

	kb, err := scanKnowledgeBase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*ingestion.KnowledgeBase](), nil
		}
		return mo.None[*ingestion.KnowledgeBase](), fmt.Errorf("failed to get knowledge base by id: %w", err)
	}

	return mo.Some(kb), nil
}

// Create は新しいナレッジベースをEMPTY状態で作成します
// 同一URLの行が既に存在する場合は既存の行をそのまま返します
func (r *KnowledgeBaseRepository) Create(ctx context.Context, sourceURL string) (*ingestion.KnowledgeBase, error) {
	// ON CONFLICTでURLの一意性を保ったまま冪等に作成する
	row := r.pool.QueryRow(ctx, `
		INSERT INTO knowledge_bases (id, source_url, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_url) DO UPDATE SET source_url = EXCLUDED.source_url
		RETURNING `+knowledgeBaseColumns,
		UUIDToPgtype(uuid.New()),
		sourceURL,
		string(ingestion.StatusEmpty),
	)

	kb, err := scanKnowledgeBase(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}

	return kb, nil
}

// UpdateStatus はナレッジベースの状態と次元数を更新します
func (r *KnowledgeBaseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status ingestion.Status, dimension int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE knowledge_bases
		SET status = $2, dimension = $3, updated_at = now()
		WHERE id = $1`,
		UUIDToPgtype(id),
		string(status),
		dimension,
	)
	if err != nil {
		return fmt.Errorf("failed to update knowledge base status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrKnowledgeBaseNotFound
	}

	return nil
}

// DeleteChunks はナレッジベースに紐づくチャンクを全て削除します
func (r *KnowledgeBaseRepository) DeleteChunks(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		"DELETE FROM chunks WHERE knowledge_base_id = $1",
		UUIDToPgtype(id),
	); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	return nil
}
