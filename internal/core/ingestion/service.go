package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/pdf-assistant/internal/core/ingestion/chunk"
	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

const (
	// DefaultEmbedBatchSize はEmbedding生成の1バッチあたりの件数
	DefaultEmbedBatchSize = 100
	// DefaultEmbedConcurrency はEmbedding生成の並列数
	DefaultEmbedConcurrency = 4
)

// Result はインジェスト処理の結果を表す
type Result struct {
	KnowledgeBase *KnowledgeBase
	Pages         int
	Chunks        int
	Reused        bool // READY済みのナレッジベースを再利用した場合true
	Duration      time.Duration
}

// Service はPDFインジェストのユースケースを提供する
type Service struct {
	repository  Repository
	loader      DocumentLoader
	embedder    Embedder
	index       retrieval.Index
	chunker     *chunk.Chunker
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

type serviceOptions struct {
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithIngestLogger は Service にロガーを設定する
func WithIngestLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithEmbedBatchSize はEmbedding生成のバッチサイズを上書きする
func WithEmbedBatchSize(size int) ServiceOption {
	return func(o *serviceOptions) {
		o.batchSize = size
	}
}

// WithEmbedConcurrency はEmbedding生成の並列数を上書きする
func WithEmbedConcurrency(n int) ServiceOption {
	return func(o *serviceOptions) {
		o.concurrency = n
	}
}

// NewService は新しいServiceを作成する
func NewService(
	repo Repository,
	loader DocumentLoader,
	embedder Embedder,
	index retrieval.Index,
	chunker *chunk.Chunker,
	opts ...ServiceOption,
) *Service {
	options := serviceOptions{
		batchSize:   DefaultEmbedBatchSize,
		concurrency: DefaultEmbedConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.batchSize <= 0 {
		options.batchSize = DefaultEmbedBatchSize
	}
	if options.concurrency <= 0 {
		options.concurrency = DefaultEmbedConcurrency
	}

	return &Service{
		repository:  repo,
		loader:      loader,
		embedder:    embedder,
		index:       index,
		chunker:     chunker,
		batchSize:   options.batchSize,
		concurrency: options.concurrency,
		logger:      options.logger,
	}
}

// Ingest はソースURLのPDFを取り込み、検索可能なナレッジベースを構築する
//
// ソースURLをキーとした冪等な操作であり、READY済みのナレッジベースが
// 存在する場合はEmbedding生成を行わずにそのまま返す。
// 処理中のキャンセルや失敗はFAILED状態として記録され、中途半端に
// 構築されたインデックスがREADYになることはない。
func (s *Service) Ingest(ctx context.Context, sourceURL string) (*Result, error) {
	startTime := time.Now()

	s.logger.Info("インジェストを開始", "sourceURL", sourceURL)

	// 1. URLのバリデーション
	if err := validateSourceURL(sourceURL); err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}

	// 2. 既存のナレッジベースをチェック（URLによる冪等性）
	existingOpt, err := s.repository.GetByURL(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up knowledge base: %w", err)
	}

	var kb *KnowledgeBase
	if existingOpt.IsPresent() {
		kb = existingOpt.MustGet()
		switch kb.Status {
		case StatusReady:
			s.logger.Info("インジェスト済みのナレッジベースを再利用",
				"knowledgeBaseID", kb.ID.String(),
				"sourceURL", sourceURL,
			)
			return &Result{
				KnowledgeBase: kb,
				Reused:        true,
				Duration:      time.Since(startTime),
			}, nil
		case StatusLoading:
			return nil, ErrKnowledgeBaseLoading
		default:
			// EMPTY / FAILED は再インジェスト対象
			// 前回の失敗で残った中途半端なチャンクを破棄する
			if err := s.repository.DeleteChunks(ctx, kb.ID); err != nil {
				return nil, fmt.Errorf("failed to clear stale chunks: %w", err)
			}
		}
	} else {
		kb, err = s.repository.Create(ctx, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create knowledge base: %w", err)
		}
	}

	// 3. LOADINGへ遷移
	if err := s.repository.UpdateStatus(ctx, kb.ID, StatusLoading, 0); err != nil {
		return nil, fmt.Errorf("failed to mark knowledge base loading: %w", err)
	}
	kb.Status = StatusLoading

	// 4. PDFを取得してページごとのテキストを抽出
	pages, err := s.loader.LoadPages(ctx, sourceURL)
	if err != nil {
		s.markFailed(ctx, kb)
		return nil, &FetchError{URL: sourceURL, Err: err}
	}

	s.logger.Info("ページを抽出", "pages", len(pages))

	// 5. チャンク化（抽出テキストのないページはスキップ）
	chunks := s.buildChunks(kb.ID, pages)

	// 6. テキストが1文字も抽出できなかったPDFはエラーではない
	// 空のインデックスを持つREADYなナレッジベースになる
	if len(chunks) == 0 {
		if err := s.repository.UpdateStatus(ctx, kb.ID, StatusReady, 0); err != nil {
			return nil, fmt.Errorf("failed to mark knowledge base ready: %w", err)
		}
		kb.Status = StatusReady

		s.logger.Info("抽出可能なテキストがないため空のナレッジベースを構築",
			"knowledgeBaseID", kb.ID.String(),
		)
		return &Result{
			KnowledgeBase: kb,
			Pages:         len(pages),
			Duration:      time.Since(startTime),
		}, nil
	}

	// 7. Embeddingをバッチ生成
	if err := s.embedChunks(ctx, chunks); err != nil {
		s.markFailed(ctx, kb)
		return nil, &IngestionError{Stage: StageEmbed, Err: err}
	}

	// 8. インデックスへ挿入
	for _, c := range chunks {
		if err := s.index.Insert(ctx, *c); err != nil {
			s.markFailed(ctx, kb)
			return nil, &IngestionError{Stage: StageStore, Err: err}
		}
	}

	// 9. キャンセル済みのままREADYにしない
	if err := ctx.Err(); err != nil {
		s.markFailed(ctx, kb)
		return nil, &IngestionError{Stage: StageStore, Err: err}
	}

	// 10. READYへ遷移
	dimension := len(chunks[0].Vector)
	if err := s.repository.UpdateStatus(ctx, kb.ID, StatusReady, dimension); err != nil {
		return nil, fmt.Errorf("failed to mark knowledge base ready: %w", err)
	}
	kb.Status = StatusReady
	kb.Dimension = dimension

	s.logger.Info("インジェスト完了",
		"knowledgeBaseID", kb.ID.String(),
		"pages", len(pages),
		"chunks", len(chunks),
		"dimension", dimension,
		"duration", time.Since(startTime).String(),
	)

	return &Result{
		KnowledgeBase: kb,
		Pages:         len(pages),
		Chunks:        len(chunks),
		Duration:      time.Since(startTime),
	}, nil
}

// buildChunks はページテキストをチャンク化し、文書全体での出現順を付与する
func (s *Service) buildChunks(knowledgeBaseID uuid.UUID, pages []Page) []*retrieval.Chunk {
	var chunks []*retrieval.Chunk
	ordinal := 0

	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		for _, text := range s.chunker.Split(page.Text) {
			chunks = append(chunks, &retrieval.Chunk{
				ID:              uuid.New(),
				KnowledgeBaseID: knowledgeBaseID,
				Ordinal:         ordinal,
				Page:            page.Number,
				Content:         text,
			})
			ordinal++
		}
	}

	return chunks
}

// embedChunks はチャンクのEmbeddingをバッチ単位で並列生成する
func (s *Service) embedChunks(ctx context.Context, chunks []*retrieval.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			vectors, err := s.embedder.BatchEmbed(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
			}

			for i, v := range vectors {
				batch[i].Vector = v
			}
			return nil
		})
	}

	return g.Wait()
}

// markFailed はナレッジベースをFAILED状態として記録する
// キャンセルによる失敗でも状態を残せるよう、親のキャンセルから切り離して書き込む
func (s *Service) markFailed(ctx context.Context, kb *KnowledgeBase) {
	if err := s.repository.UpdateStatus(context.WithoutCancel(ctx), kb.ID, StatusFailed, 0); err != nil {
		s.logger.Error("FAILED状態の記録に失敗", "knowledgeBaseID", kb.ID.String(), "error", err)
	}
	kb.Status = StatusFailed
}

// validateSourceURL はソースURLがhttp/httpsのURLであることを検証する
func validateSourceURL(sourceURL string) error {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
