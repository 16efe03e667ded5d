package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex は線形走査によるインメモリのベクトルインデックス実装
// 1文書分のチャンク（数百〜数千件）を前提としたスケールであり、
// 単体テストやデータベースなしでの動作確認に使用する
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID][]Chunk // ナレッジベースIDごとのチャンク列
}

// NewMemoryIndex は新しいMemoryIndexを作成する
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		chunks: make(map[uuid.UUID][]Chunk),
	}
}

var _ Index = (*MemoryIndex)(nil)

// Insert はチャンクをインデックスに追加する
// 同一ナレッジベース内では全ベクトルの次元が一致している必要がある
func (m *MemoryIndex) Insert(ctx context.Context, chunk Chunk) error {
	if len(chunk.Vector) == 0 {
		return fmt.Errorf("chunk vector is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.chunks[chunk.KnowledgeBaseID]
	if len(existing) > 0 && len(existing[0].Vector) != len(chunk.Vector) {
		return fmt.Errorf("vector dimension mismatch: index has %d, got %d",
			len(existing[0].Vector), len(chunk.Vector))
	}

	m.chunks[chunk.KnowledgeBaseID] = append(existing, chunk)
	return nil
}

// Query はコサイン類似度の上位k件を返す
func (m *MemoryIndex) Query(ctx context.Context, knowledgeBaseID uuid.UUID, vector []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive: %d", k)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.chunks[knowledgeBaseID]
	if len(stored) == 0 {
		return []ScoredChunk{}, nil
	}

	scored := make([]ScoredChunk, 0, len(stored))
	for _, chunk := range stored {
		scored = append(scored, ScoredChunk{
			Chunk: chunk,
			Score: cosineSimilarity(vector, chunk.Vector),
		})
	}

	// スコア降順、同点はOrdinal昇順で決定的に並べる
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Count は格納済みチャンク数を返す
func (m *MemoryIndex) Count(knowledgeBaseID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[knowledgeBaseID])
}

// cosineSimilarity は2つのベクトルのコサイン類似度を計算する
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
