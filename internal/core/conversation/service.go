package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/pdf-assistant/internal/core/ingestion"
	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

// DefaultHistoryTurns はプロンプトに含める直近ターン数のデフォルト値
const DefaultHistoryTurns = 10

// FallbackAnswer は生成失敗時にアシスタントのターンとして記録される定型文
const FallbackAnswer = "申し訳ありません。回答の生成中にエラーが発生しました。しばらくしてからもう一度お試しください。"

// turnState は1回のRespond呼び出しにおける処理段階を表す
type turnState string

const (
	stateReceived   turnState = "received"
	stateRetrieving turnState = "retrieving"
	stateGenerating turnState = "generating"
	statePersisting turnState = "persisting"
	stateDone       turnState = "done"
)

// Generator はテキスト生成の能力インターフェース
type Generator interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// Retriever はベクトル検索インターフェース
// retrieval.Serviceが実装する
type Retriever interface {
	Search(ctx context.Context, params retrieval.SearchParams) ([]retrieval.ScoredChunk, error)
}

// KnowledgeBaseReader はナレッジベースの状態参照インターフェース
// ingestion.Repositoryが実装する
type KnowledgeBaseReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (mo.Option[*ingestion.KnowledgeBase], error)
}

// Service は会話エンジンを提供する
//
// 1回のRespond呼び出しは received → retrieving → generating → persisting → done
// と進行し、どの段階からも失敗し得る。同一ユーザーからの並行呼び出しは
// 直列化され、トランスクリプトのターンが交錯することはない。
// 異なるユーザー同士が互いをブロックすることはない。
type Service struct {
	store        Store
	kbReader     KnowledgeBaseReader
	retriever    Retriever
	generator    Generator
	tokenCounter TokenCounter

	topK              int
	historyTurns      int
	historyTokenLimit int
	retrievalFatal    bool

	logger *slog.Logger

	// ユーザーごとの直列化ロック
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

type serviceOptions struct {
	tokenCounter      TokenCounter
	topK              int
	historyTurns      int
	historyTokenLimit int
	retrievalFatal    bool
	logger            *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithChatLogger は Service にロガーを設定する
func WithChatLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithTopK は検索チャンク数を上書きする
func WithTopK(k int) ServiceOption {
	return func(o *serviceOptions) {
		o.topK = k
	}
}

// WithHistoryTurns はプロンプトに含める直近ターン数を上書きする
func WithHistoryTurns(n int) ServiceOption {
	return func(o *serviceOptions) {
		o.historyTurns = n
	}
}

// WithHistoryTokenLimit は履歴部分のトークン数上限とカウンタを設定する
func WithHistoryTokenLimit(limit int, counter TokenCounter) ServiceOption {
	return func(o *serviceOptions) {
		o.historyTokenLimit = limit
		o.tokenCounter = counter
	}
}

// WithRetrievalFatal は検索失敗をターンのエラーとして扱うよう設定する
func WithRetrievalFatal(fatal bool) ServiceOption {
	return func(o *serviceOptions) {
		o.retrievalFatal = fatal
	}
}

// NewService は新しいServiceを作成する
func NewService(
	store Store,
	kbReader KnowledgeBaseReader,
	retriever Retriever,
	generator Generator,
	opts ...ServiceOption,
) *Service {
	options := serviceOptions{
		topK:         retrieval.DefaultTopK,
		historyTurns: DefaultHistoryTurns,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.topK <= 0 {
		options.topK = retrieval.DefaultTopK
	}
	if options.historyTurns <= 0 {
		options.historyTurns = DefaultHistoryTurns
	}

	return &Service{
		store:             store,
		kbReader:          kbReader,
		retriever:         retriever,
		generator:         generator,
		tokenCounter:      options.tokenCounter,
		topK:              options.topK,
		historyTurns:      options.historyTurns,
		historyTokenLimit: options.historyTokenLimit,
		retrievalFatal:    options.retrievalFatal,
		logger:            options.logger,
	}
}

// RespondParams は1ターンのパラメータを表す
type RespondParams struct {
	UserID          string
	KnowledgeBaseID uuid.UUID
	Utterance       string
	ForceNewRun     bool // trueの場合、既存Runを再開せず新しいRunを開始する
}

// Resume はユーザーのセッションをストアから再構築する
// 既存のRunがあれば最新のものを再利用し、なければ新規作成する
func (s *Service) Resume(ctx context.Context, userID string, knowledgeBaseID uuid.UUID, forceNew bool) (*Session, error) {
	run, err := s.resumeRun(ctx, userID, forceNew)
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:          userID,
		RunID:           run.ID,
		KnowledgeBaseID: knowledgeBaseID,
	}, nil
}

// Respond はユーザーの発話に対して根拠付きの応答を生成し、両ターンを永続化する
func (s *Service) Respond(ctx context.Context, params RespondParams) (*Reply, error) {
	// received: バリデーション（何も永続化しない）
	s.logState(stateReceived, params.UserID)

	utterance := strings.TrimSpace(params.Utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}
	if params.UserID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	// 同一ユーザーの発話を直列化する（先行ターンの永続化完了を待つ）
	unlock := s.lockUser(params.UserID)
	defer unlock()

	// ナレッジベースの状態を確認
	kb, err := s.resolveKnowledgeBase(ctx, params.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	// Runの再開または作成
	run, err := s.resumeRun(ctx, params.UserID, params.ForceNewRun)
	if err != nil {
		return nil, err
	}

	transcript, err := s.store.GetTranscript(ctx, run.ID)
	if err != nil {
		return nil, &StoreError{Op: "get transcript", Err: err}
	}

	// retrieving: 関連チャンクの検索
	// 検索失敗は既定では致命的ではなく、コンテキストなしの生成へ縮退する
	s.logState(stateRetrieving, params.UserID)

	chunks, degraded, err := s.retrieve(ctx, kb, utterance)
	if err != nil {
		return nil, err
	}

	// generating: プロンプト構築とテキスト生成
	s.logState(stateGenerating, params.UserID)

	history := historyWindow(transcript, s.historyTurns, s.historyTokenLimit, s.tokenCounter)
	prompt := BuildChatPrompt(utterance, chunks, history)

	answer, genErr := s.generator.GenerateCompletion(ctx, prompt)
	if genErr != nil {
		// 生成失敗は定型文のアシスタントメッセージとして記録し、会話は継続する
		s.logger.Error("テキスト生成に失敗",
			"userID", params.UserID,
			"runID", run.ID.String(),
			"error", &GenerationError{Err: genErr},
		)
		answer = FallbackAnswer
	}

	// persisting: ユーザーターン → アシスタントターンの順に追記
	s.logState(statePersisting, params.UserID)

	userTurn := Turn{Role: RoleUser, Content: utterance, Timestamp: time.Now()}
	if err := s.store.AppendTurn(ctx, run.ID, userTurn); err != nil {
		return nil, &StoreError{Op: "append user turn", Err: err}
	}

	assistantTurn := Turn{Role: RoleAssistant, Content: answer, Timestamp: time.Now()}
	if err := s.store.AppendTurn(ctx, run.ID, assistantTurn); err != nil {
		return nil, &StoreError{Op: "append assistant turn", Err: err}
	}

	// done
	s.logState(stateDone, params.UserID)

	sources := make([]SourceReference, 0, len(chunks))
	for _, chunk := range chunks {
		sources = append(sources, SourceReference{
			ChunkID: chunk.Chunk.ID,
			Page:    chunk.Chunk.Page,
			Ordinal: chunk.Chunk.Ordinal,
			Score:   chunk.Score,
		})
	}

	return &Reply{
		RunID:    run.ID,
		Answer:   answer,
		Sources:  sources,
		Degraded: degraded,
	}, nil
}

// resolveKnowledgeBase はナレッジベースを取得し、会話可能な状態か確認する
func (s *Service) resolveKnowledgeBase(ctx context.Context, id uuid.UUID) (*ingestion.KnowledgeBase, error) {
	if id == uuid.Nil {
		return nil, ingestion.ErrKnowledgeBaseNotFound
	}

	kbOpt, err := s.kbReader.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up knowledge base: %w", err)
	}
	if kbOpt.IsAbsent() {
		return nil, ingestion.ErrKnowledgeBaseNotFound
	}

	kb := kbOpt.MustGet()
	// 構築途中のインデックスには問い合わせない
	if kb.Status == ingestion.StatusLoading {
		return nil, ingestion.ErrKnowledgeBaseLoading
	}

	return kb, nil
}

// resumeRun は最新のRunを再開するか、存在しなければ新規作成する
func (s *Service) resumeRun(ctx context.Context, userID string, forceNew bool) (*Run, error) {
	if !forceNew {
		runs, err := s.store.GetRuns(ctx, userID)
		if err != nil {
			return nil, &StoreError{Op: "get runs", Err: err}
		}
		if len(runs) > 0 {
			return runs[0], nil
		}
	}

	run, err := s.store.CreateRun(ctx, userID)
	if err != nil {
		return nil, &StoreError{Op: "create run", Err: err}
	}
	return run, nil
}

// retrieve はナレッジベースから関連チャンクを検索する
// 検索失敗は既定ではターンを中断せず、コンテキストなしの生成へ縮退する
// retrievalFatalが設定されている場合のみ失敗をエラーとして返す
func (s *Service) retrieve(ctx context.Context, kb *ingestion.KnowledgeBase, utterance string) ([]retrieval.ScoredChunk, bool, error) {
	// READYでないナレッジベース（EMPTY/FAILED）には問い合わせず、コンテキストなしで続行
	if kb.Status != ingestion.StatusReady {
		s.logger.Warn("ナレッジベースが未構築のためコンテキストなしで応答",
			"knowledgeBaseID", kb.ID.String(),
			"status", string(kb.Status),
		)
		return nil, true, nil
	}

	chunks, err := s.retriever.Search(ctx, retrieval.SearchParams{
		KnowledgeBaseID: kb.ID,
		Query:           utterance,
		Limit:           s.topK,
	})
	if err != nil {
		if s.retrievalFatal {
			return nil, false, fmt.Errorf("retrieval failed: %w", err)
		}
		s.logger.Warn("検索に失敗したためコンテキストなしで応答",
			"knowledgeBaseID", kb.ID.String(),
			"error", err,
		)
		return nil, true, nil
	}

	return chunks, false, nil
}

// lockUser はユーザー単位のロックを取得し、解放関数を返す
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	if s.userLocks == nil {
		s.userLocks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Service) logState(state turnState, userID string) {
	s.logger.Debug("conversation turn state", "state", string(state), "userID", userID)
}
