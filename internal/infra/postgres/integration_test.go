package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
	"github.com/jinford/pdf-assistant/internal/core/ingestion"
	"github.com/jinford/pdf-assistant/internal/core/retrieval"
	"github.com/jinford/pdf-assistant/internal/platform/db"
)

// setupDatabase はpgvector入りのPostgreSQLコンテナを起動し、スキーマを適用する
// Dockerが利用できない環境ではテストをスキップする
func setupDatabase(t *testing.T) *db.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=assistant",
			"POSTGRES_PASSWORD=assistant",
			"POSTGRES_DB=assistant_test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	_ = resource.Expire(300)

	var database *db.DB
	pool.MaxWait = 60 * time.Second
	err = pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var connErr error
		database, connErr = db.New(ctx, db.ConnectionParams{
			Host:     "localhost",
			Port:     portOf(t, resource),
			User:     "assistant",
			Password: "assistant",
			DBName:   "assistant_test",
			SSLMode:  "disable",
		})
		return connErr
	})
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(context.Background()))

	return database
}

func portOf(t *testing.T, resource *dockertest.Resource) int {
	t.Helper()

	var port int
	_, err := fmt.Sscanf(resource.GetPort("5432/tcp"), "%d", &port)
	require.NoError(t, err)
	return port
}

func TestKnowledgeBaseRepositoryLifecycle(t *testing.T) {
	database := setupDatabase(t)
	repo := NewKnowledgeBaseRepository(database.Pool)
	ctx := context.Background()

	const sourceURL = "https://example.com/report.pdf"

	// 未登録のURLは見つからない
	missing, err := repo.GetByURL(ctx, sourceURL)
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())

	kb, err := repo.Create(ctx, sourceURL)
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusEmpty, kb.Status)

	// 同一URLでの再作成は既存の行を返す
	again, err := repo.Create(ctx, sourceURL)
	require.NoError(t, err)
	assert.Equal(t, kb.ID, again.ID)

	require.NoError(t, repo.UpdateStatus(ctx, kb.ID, ingestion.StatusReady, 3))

	found, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	require.True(t, found.IsPresent())
	assert.Equal(t, ingestion.StatusReady, found.MustGet().Status)
	assert.Equal(t, 3, found.MustGet().Dimension)

	err = repo.UpdateStatus(ctx, uuid.New(), ingestion.StatusReady, 3)
	assert.ErrorIs(t, err, ingestion.ErrKnowledgeBaseNotFound)
}

func TestChunkRepositoryQueryOrdering(t *testing.T) {
	database := setupDatabase(t)
	kbRepo := NewKnowledgeBaseRepository(database.Pool)
	chunkRepo := NewChunkRepository(database.Pool)
	ctx := context.Background()

	kb, err := kbRepo.Create(ctx, "https://example.com/ordering.pdf")
	require.NoError(t, err)

	insert := func(ordinal int, vector []float32) {
		require.NoError(t, chunkRepo.Insert(ctx, retrieval.Chunk{
			ID:              uuid.New(),
			KnowledgeBaseID: kb.ID,
			Ordinal:         ordinal,
			Page:            1,
			Content:         fmt.Sprintf("chunk %d", ordinal),
			Vector:          vector,
		}))
	}

	insert(0, []float32{1, 0, 0})
	insert(1, []float32{0, 1, 0})
	insert(2, []float32{0.9, 0.1, 0})

	results, err := chunkRepo.Query(ctx, kb.ID, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// コサイン類似度の降順
	assert.Equal(t, 0, results[0].Chunk.Ordinal)
	assert.Equal(t, 2, results[1].Chunk.Ordinal)
	assert.Greater(t, results[0].Score, results[1].Score)

	// 別のナレッジベースからは何もヒットしない
	other, err := kbRepo.Create(ctx, "https://example.com/other.pdf")
	require.NoError(t, err)
	empty, err := chunkRepo.Query(ctx, other.ID, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChunkRepositoryDeleteChunks(t *testing.T) {
	database := setupDatabase(t)
	kbRepo := NewKnowledgeBaseRepository(database.Pool)
	chunkRepo := NewChunkRepository(database.Pool)
	ctx := context.Background()

	kb, err := kbRepo.Create(ctx, "https://example.com/delete.pdf")
	require.NoError(t, err)

	require.NoError(t, chunkRepo.Insert(ctx, retrieval.Chunk{
		ID:              uuid.New(),
		KnowledgeBaseID: kb.ID,
		Ordinal:         0,
		Page:            1,
		Content:         "to be deleted",
		Vector:          []float32{1, 0, 0},
	}))

	require.NoError(t, kbRepo.DeleteChunks(ctx, kb.ID))

	results, err := chunkRepo.Query(ctx, kb.ID, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunRepositoryTranscript(t *testing.T) {
	database := setupDatabase(t)
	repo := NewRunRepository(database.Pool)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, "alice")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "question", Timestamp: base},
		{Role: conversation.RoleAssistant, Content: "answer", Timestamp: base.Add(time.Second)},
	}
	for _, turn := range turns {
		require.NoError(t, repo.AppendTurn(ctx, run.ID, turn))
	}

	transcript, err := repo.GetTranscript(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, conversation.RoleUser, transcript[0].Role)
	assert.Equal(t, "question", transcript[0].Content)
	assert.Equal(t, conversation.RoleAssistant, transcript[1].Role)

	// 最新のRunが先頭になる
	second, err := repo.CreateRun(ctx, "alice")
	require.NoError(t, err)

	runs, err := repo.GetRuns(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, run.ID, runs[1].ID)

	// 他ユーザーのRunは混ざらない
	bobRuns, err := repo.GetRuns(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobRuns)
}
