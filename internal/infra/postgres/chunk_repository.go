package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

// ChunkRepository は retrieval.Index を実装する PostgreSQL リポジトリです
// 類似度計算はpgvectorのコサイン距離演算子に委ねます
type ChunkRepository struct {
	pool *pgxpool.Pool
}

// NewChunkRepository は新しい ChunkRepository を作成します
func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// コンパイル時の型チェック
var _ retrieval.Index = (*ChunkRepository)(nil)

// Insert はチャンクを追加します
func (r *ChunkRepository) Insert(ctx context.Context, chunk retrieval.Chunk) error {
	if len(chunk.Vector) == 0 {
		return fmt.Errorf("chunk vector must not be empty")
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO chunks (id, knowledge_base_id, ordinal, page, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		UUIDToPgtype(chunk.ID),
		UUIDToPgtype(chunk.KnowledgeBaseID),
		chunk.Ordinal,
		chunk.Page,
		chunk.Content,
		pgvector.NewVector(chunk.Vector),
	); err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	return nil
}

// Query はクエリベクトルとのコサイン類似度が高い順に最大k件のチャンクを返します
// 同点の場合はordinal昇順で順序が安定します
func (r *ChunkRepository) Query(ctx context.Context, knowledgeBaseID uuid.UUID, vector []float32, k int) ([]retrieval.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	// <=> はコサイン距離。1から引いてコサイン類似度に変換する
	rows, err := r.pool.Query(ctx, `
		SELECT id, knowledge_base_id, ordinal, page, content, embedding,
		       1 - (embedding <=> $2) AS score
		FROM chunks
		WHERE knowledge_base_id = $1
		ORDER BY score DESC, ordinal ASC
		LIMIT $3`,
		UUIDToPgtype(knowledgeBaseID),
		pgvector.NewVector(vector),
		k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []retrieval.ScoredChunk
	for rows.Next() {
		var (
			id        pgtype.UUID
			kbID      pgtype.UUID
			ordinal   int
			page      int
			content   string
			embedding pgvector.Vector
			score     float64
		)

		if err := rows.Scan(&id, &kbID, &ordinal, &page, &content, &embedding, &score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		results = append(results, retrieval.ScoredChunk{
			Chunk: retrieval.Chunk{
				ID:              PgtypeToUUID(id),
				KnowledgeBaseID: PgtypeToUUID(kbID),
				Ordinal:         ordinal,
				Page:            page,
				Content:         content,
				Vector:          embedding.Slice(),
			},
			Score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return results, nil
}
