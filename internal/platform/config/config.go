package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + Chat）
	OpenAI OpenAIConfig

	// インジェスト設定
	Ingestion IngestionConfig

	// 検索設定
	Retrieval RetrievalConfig

	// 会話設定
	Conversation ConversationConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string // 回答生成に使用するモデル名
}

// IngestionConfig はPDFインジェストの設定
type IngestionConfig struct {
	ChunkSize        int // チャンクの最大文字数
	ChunkOverlap     int // 隣接チャンク間で共有する文字数（ChunkSize未満であること）
	EmbedBatchSize   int // Embedding生成の1バッチあたりの件数
	EmbedConcurrency int // Embedding生成の並列数
}

// RetrievalConfig はベクトル検索の設定
type RetrievalConfig struct {
	TopK  int  // 検索で取得するチャンク数
	Fatal bool // trueの場合、検索失敗を会話ターンのエラーとして扱う
}

// ConversationConfig は会話履歴の設定
type ConversationConfig struct {
	HistoryTurns      int // プロンプトに含める直近ターン数
	HistoryTokenLimit int // 履歴部分のトークン数上限（0で無制限）
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "pdfassistant"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "pdfassistant"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		},
		Ingestion: IngestionConfig{
			ChunkSize:        getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap:     getEnvAsInt("CHUNK_OVERLAP", 200),
			EmbedBatchSize:   getEnvAsInt("EMBED_BATCH_SIZE", 100),
			EmbedConcurrency: getEnvAsInt("EMBED_CONCURRENCY", 4),
		},
		Retrieval: RetrievalConfig{
			TopK:  getEnvAsInt("RETRIEVAL_TOP_K", 4),
			Fatal: getEnvAsBool("RETRIEVAL_FATAL", false),
		},
		Conversation: ConversationConfig{
			HistoryTurns:      getEnvAsInt("HISTORY_TURNS", 10),
			HistoryTokenLimit: getEnvAsInt("HISTORY_TOKEN_LIMIT", 2000),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は設定値の整合性を検証します
func (c *Config) validate() error {
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive: %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE): %d", c.Ingestion.ChunkOverlap)
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		return fmt.Errorf("OPENAI_EMBEDDING_DIMENSION must be positive: %d", c.OpenAI.EmbeddingDimension)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
