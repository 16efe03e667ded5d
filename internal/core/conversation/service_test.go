package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pdf-assistant/internal/core/ingestion"
	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

// memoryStore はテスト用のインメモリStore実装
type memoryStore struct {
	mu          sync.Mutex
	runs        []*Run
	transcripts map[uuid.UUID][]Turn
	clock       time.Time

	appendErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transcripts: make(map[uuid.UUID][]Turn),
		clock:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) GetRuns(ctx context.Context, userID string) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.UserID == userID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID.String() > runs[j].ID.String()
	})
	return runs, nil
}

func (s *memoryStore) CreateRun(ctx context.Context, userID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Add(time.Second)
	run := &Run{ID: uuid.New(), UserID: userID, CreatedAt: s.clock}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *memoryStore) AppendTurn(ctx context.Context, runID uuid.UUID, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return s.appendErr
	}
	s.transcripts[runID] = append(s.transcripts[runID], turn)
	return nil
}

func (s *memoryStore) GetTranscript(ctx context.Context, runID uuid.UUID) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := s.transcripts[runID]
	out := make([]Turn, len(transcript))
	copy(out, transcript)
	return out, nil
}

// stubKBReader はテスト用のナレッジベース参照実装
type stubKBReader struct {
	kbs map[uuid.UUID]*ingestion.KnowledgeBase
}

func newStubKBReader(kbs ...*ingestion.KnowledgeBase) *stubKBReader {
	r := &stubKBReader{kbs: make(map[uuid.UUID]*ingestion.KnowledgeBase)}
	for _, kb := range kbs {
		r.kbs[kb.ID] = kb
	}
	return r
}

func (r *stubKBReader) GetByID(ctx context.Context, id uuid.UUID) (mo.Option[*ingestion.KnowledgeBase], error) {
	if kb, ok := r.kbs[id]; ok {
		return mo.Some(kb), nil
	}
	return mo.None[*ingestion.KnowledgeBase](), nil
}

// bowEmbedder は単語の出現頻度に基づく決定的なEmbedding実装
// 意味的に近いテキスト（語彙の重なりが大きいテキスト）同士を
// ベクトル空間上で近くに配置する
type bowEmbedder struct {
	dim int
	err error
}

func (e *bowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}

	v := make([]float32, e.dim)
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' || r == '?' || r == '!' {
			return ' '
		}
		return r
	}, strings.ToLower(text))

	for _, word := range strings.Fields(cleaned) {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%uint32(e.dim)]++
	}
	return v, nil
}

// echoGenerator はプロンプトをそのまま返すテキスト生成実装
// 取得したコンテキストが回答に忠実に反映されることの検証に使う
type echoGenerator struct {
	prompts []string
	err     error
}

func (g *echoGenerator) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return prompt, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store     *memoryStore
	kb        *ingestion.KnowledgeBase
	index     *retrieval.MemoryIndex
	embedder  *bowEmbedder
	generator *echoGenerator
	svc       *Service
}

func newTestEnv(t *testing.T, opts ...ServiceOption) *testEnv {
	t.Helper()

	store := newMemoryStore()
	kb := &ingestion.KnowledgeBase{
		ID:        uuid.New(),
		SourceURL: "https://example.com/doc.pdf",
		Status:    ingestion.StatusReady,
	}
	index := retrieval.NewMemoryIndex()
	embedder := &bowEmbedder{dim: 64}
	generator := &echoGenerator{}

	retriever := retrieval.NewService(index, embedder, retrieval.WithSearchLogger(testLogger()))

	allOpts := append([]ServiceOption{WithChatLogger(testLogger())}, opts...)
	svc := NewService(store, newStubKBReader(kb), retriever, generator, allOpts...)

	return &testEnv{
		store:     store,
		kb:        kb,
		index:     index,
		embedder:  embedder,
		generator: generator,
		svc:       svc,
	}
}

// indexText はテキストをEmbeddingしてインデックスへ投入するテストヘルパー
func (e *testEnv) indexText(t *testing.T, ordinal int, text string) {
	t.Helper()
	vector, err := e.embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, e.index.Insert(context.Background(), retrieval.Chunk{
		ID:              uuid.New(),
		KnowledgeBaseID: e.kb.ID,
		Ordinal:         ordinal,
		Page:            1,
		Content:         text,
		Vector:          vector,
	}))
}

func TestService_RespondRejectsEmptyUtterance(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "   ",
	})
	require.ErrorIs(t, err, ErrEmptyUtterance)

	// 何も永続化されない
	assert.Empty(t, env.store.runs)
	assert.Empty(t, env.store.transcripts)
}

func TestService_RespondRetrievesGroundingChunk(t *testing.T) {
	env := newTestEnv(t)

	env.indexText(t, 0, "The capital of France is Paris.")
	env.indexText(t, 1, "Bananas are rich in potassium.")
	env.indexText(t, 2, "Go is a statically typed language.")

	reply, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "What is the capital of France?",
	})
	require.NoError(t, err)

	// 最上位の検索結果は該当チャンクであり、回答に反映される
	require.NotEmpty(t, reply.Sources)
	assert.Equal(t, 0, reply.Sources[0].Ordinal)
	assert.Contains(t, reply.Answer, "Paris")
	assert.False(t, reply.Degraded)
}

func TestService_TwoSequentialTurnsProduceFourOrderedTurns(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "first question",
	})
	require.NoError(t, err)

	second, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "second question",
	})
	require.NoError(t, err)

	// 最新Runの再開により同一Runが使われる
	assert.Equal(t, first.RunID, second.RunID)

	transcript, err := env.store.GetTranscript(context.Background(), first.RunID)
	require.NoError(t, err)
	require.Len(t, transcript, 4)

	assert.Equal(t, RoleUser, transcript[0].Role)
	assert.Equal(t, "first question", transcript[0].Content)
	assert.Equal(t, RoleAssistant, transcript[1].Role)
	assert.Equal(t, RoleUser, transcript[2].Role)
	assert.Equal(t, "second question", transcript[2].Content)
	assert.Equal(t, RoleAssistant, transcript[3].Role)
}

func TestService_GenerationFailureIsRecordedAsAssistantTurn(t *testing.T) {
	env := newTestEnv(t)
	env.generator.err = errors.New("model unavailable")

	reply, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, reply.Answer)

	// 失敗自体が永続的なトランスクリプトの一部になる
	transcript, err := env.store.GetTranscript(context.Background(), reply.RunID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, RoleAssistant, transcript[1].Role)
	assert.Equal(t, FallbackAnswer, transcript[1].Content)
}

func TestService_RetrievalFailureDegradesToNoContext(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.err = errors.New("embedder unavailable")

	reply, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "hello",
	})
	require.NoError(t, err)

	assert.True(t, reply.Degraded)
	assert.Empty(t, reply.Sources)
	assert.NotEmpty(t, reply.Answer)
}

func TestService_RetrievalFailureIsFatalWhenConfigured(t *testing.T) {
	env := newTestEnv(t, WithRetrievalFatal(true))
	env.embedder.err = errors.New("embedder unavailable")

	_, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "hello",
	})
	require.Error(t, err)

	// ターンは中断され、何も永続化されない
	assert.Empty(t, env.store.transcripts)
}

func TestService_EmptyIndexYieldsAnswerWithoutSources(t *testing.T) {
	env := newTestEnv(t)

	reply, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "anything in there?",
	})
	require.NoError(t, err)

	assert.Empty(t, reply.Sources)
	assert.False(t, reply.Degraded)
	assert.NotEmpty(t, reply.Answer)
}

func TestService_StoreFailureIsSurfaced(t *testing.T) {
	env := newTestEnv(t)
	env.store.appendErr = errors.New("disk full")

	_, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "hello",
	})
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestService_LoadingKnowledgeBaseReportsNotReady(t *testing.T) {
	env := newTestEnv(t)
	env.kb.Status = ingestion.StatusLoading

	_, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "hello",
	})
	assert.ErrorIs(t, err, ingestion.ErrKnowledgeBaseLoading)
}

func TestService_UnknownKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: uuid.New(),
		Utterance:       "hello",
	})
	assert.ErrorIs(t, err, ingestion.ErrKnowledgeBaseNotFound)
}

func TestService_ForceNewRunStartsFreshTranscript(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "first question",
	})
	require.NoError(t, err)

	second, err := env.svc.Respond(context.Background(), RespondParams{
		UserID:          "alice",
		KnowledgeBaseID: env.kb.ID,
		Utterance:       "second question",
		ForceNewRun:     true,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)

	transcript, err := env.store.GetTranscript(context.Background(), second.RunID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestService_ConcurrentTurnsFromSameUserDoNotInterleave(t *testing.T) {
	env := newTestEnv(t)

	const turns = 8

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Respond(context.Background(), RespondParams{
				UserID:          "alice",
				KnowledgeBaseID: env.kb.ID,
				Utterance:       fmt.Sprintf("question %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	runs, err := env.store.GetRuns(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	transcript, err := env.store.GetTranscript(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, transcript, turns*2)

	// ユーザーターンとアシスタントターンが交錯せず必ず対になっている
	for i := 0; i < len(transcript); i += 2 {
		assert.Equal(t, RoleUser, transcript[i].Role)
		assert.Equal(t, RoleAssistant, transcript[i+1].Role)
		// アシスタントターンは直前のユーザーターンへの応答である
		assert.Contains(t, transcript[i+1].Content, transcript[i].Content)
	}
}

func TestService_CrossUserTurnsAreIndependent(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := env.svc.Respond(context.Background(), RespondParams{
					UserID:          user,
					KnowledgeBaseID: env.kb.ID,
					Utterance:       fmt.Sprintf("%s question %d", user, i),
				})
				assert.NoError(t, err)
			}
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"alice", "bob", "carol"} {
		runs, err := env.store.GetRuns(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, runs, 1, "user %s", user)

		transcript, err := env.store.GetTranscript(context.Background(), runs[0].ID)
		require.NoError(t, err)
		assert.Len(t, transcript, 6)
		for _, turn := range transcript {
			if turn.Role == RoleUser {
				assert.Contains(t, turn.Content, user)
			}
		}
	}
}

func TestService_ResumeReturnsSessionBoundToLatestRun(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.CreateRun(context.Background(), "alice")
	require.NoError(t, err)
	latest, err := env.store.CreateRun(context.Background(), "alice")
	require.NoError(t, err)

	session, err := env.svc.Resume(context.Background(), "alice", env.kb.ID, false)
	require.NoError(t, err)

	assert.Equal(t, latest.ID, session.RunID)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, env.kb.ID, session.KnowledgeBaseID)
}
