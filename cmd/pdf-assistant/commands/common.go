package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
	"github.com/jinford/pdf-assistant/internal/core/ingestion"
	"github.com/jinford/pdf-assistant/internal/core/ingestion/chunk"
	"github.com/jinford/pdf-assistant/internal/core/retrieval"
	"github.com/jinford/pdf-assistant/internal/infra/openai"
	"github.com/jinford/pdf-assistant/internal/infra/pdf"
	"github.com/jinford/pdf-assistant/internal/infra/postgres"
	"github.com/jinford/pdf-assistant/internal/platform/config"
	"github.com/jinford/pdf-assistant/internal/platform/db"
	"github.com/jinford/pdf-assistant/internal/platform/logger"
)

// DefaultDocumentURL はURL未指定時に取り込むサンプル文書
const DefaultDocumentURL = "https://phi-public.s3.amazonaws.com/recipes/ThaiRecipes.pdf"

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Database *db.DB
	Embedder *openai.Embedder
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.FromEnv())

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)

	return &AppContext{
		Config:   cfg,
		Logger:   appLogger,
		Database: database,
		Embedder: embedder,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// NewIngestionService はPDFインジェストのサービス一式を組み立てる
func (ac *AppContext) NewIngestionService() (*ingestion.Service, error) {
	chunker, err := chunk.NewChunker(ac.Config.Ingestion.ChunkSize, ac.Config.Ingestion.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("Chunker初期化に失敗: %w", err)
	}

	return ingestion.NewService(
		postgres.NewKnowledgeBaseRepository(ac.Database.Pool),
		pdf.NewLoader(),
		ac.Embedder,
		postgres.NewChunkRepository(ac.Database.Pool),
		chunker,
		ingestion.WithIngestLogger(ac.Logger),
		ingestion.WithEmbedBatchSize(ac.Config.Ingestion.EmbedBatchSize),
		ingestion.WithEmbedConcurrency(ac.Config.Ingestion.EmbedConcurrency),
	), nil
}

// NewConversationService は会話エンジンのサービス一式を組み立てる
func (ac *AppContext) NewConversationService() (*conversation.Service, error) {
	generator, err := openai.NewClient(ac.Config.OpenAI.APIKey,
		openai.WithChatModel(ac.Config.OpenAI.ChatModel),
		openai.WithTimeout(60*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("LLMクライアント初期化に失敗: %w", err)
	}

	retriever := retrieval.NewService(
		postgres.NewChunkRepository(ac.Database.Pool),
		ac.Embedder,
		retrieval.WithSearchLogger(ac.Logger),
	)

	opts := []conversation.ServiceOption{
		conversation.WithChatLogger(ac.Logger),
		conversation.WithTopK(ac.Config.Retrieval.TopK),
		conversation.WithHistoryTurns(ac.Config.Conversation.HistoryTurns),
		conversation.WithRetrievalFatal(ac.Config.Retrieval.Fatal),
	}

	if ac.Config.Conversation.HistoryTokenLimit > 0 {
		counter, err := openai.NewTokenCounter()
		if err != nil {
			return nil, fmt.Errorf("トークンカウンター初期化に失敗: %w", err)
		}
		opts = append(opts, conversation.WithHistoryTokenLimit(ac.Config.Conversation.HistoryTokenLimit, counter))
	}

	return conversation.NewService(
		postgres.NewRunRepository(ac.Database.Pool),
		postgres.NewKnowledgeBaseRepository(ac.Database.Pool),
		retriever,
		generator,
		opts...,
	), nil
}
