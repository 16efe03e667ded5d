package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultTopK は検索件数未指定時のデフォルト値
const DefaultTopK = 4

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service は検索のビジネスロジックを提供する
type Service struct {
	index    Index
	embedder Embedder
	logger   *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithSearchLogger は Service にロガーを設定する
func WithSearchLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(index Index, embedder Embedder, opts ...ServiceOption) *Service {
	svc := &Service{
		index:    index,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// SearchParams は検索パラメータを表す
type SearchParams struct {
	KnowledgeBaseID uuid.UUID
	Query           string
	Limit           int // 0以下の場合はDefaultTopK
}

// Search はクエリをEmbeddingに変換してベクトル検索を実行する
func (s *Service) Search(ctx context.Context, params SearchParams) ([]ScoredChunk, error) {
	// バリデーション
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if params.KnowledgeBaseID == uuid.Nil {
		return nil, fmt.Errorf("knowledgeBaseID is required")
	}

	// クエリをEmbeddingに変換
	queryVector, err := s.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// デフォルトのLimit設定
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultTopK
	}

	results, err := s.index.Query(ctx, params.KnowledgeBaseID, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	s.logger.Debug("vector search completed",
		"knowledgeBaseID", params.KnowledgeBaseID.String(),
		"limit", limit,
		"results", len(results),
	)

	return results, nil
}
