package chunk

import (
	"fmt"
)

const (
	// DefaultSize はチャンクの最大文字数のデフォルト値
	DefaultSize = 1000
	// DefaultOverlap は隣接チャンク間で共有する文字数のデフォルト値
	DefaultOverlap = 200
)

// Chunker はテキストをオーバーラップ付きの固定長チャンクに分割します
//
// 連続するチャンクはoverlap文字を共有し、文書全体を隙間なく被覆します。
// 最終チャンクのみsizeより短くなることがあります。
type Chunker struct {
	size    int // チャンクの最大文字数
	overlap int // 隣接チャンク間で共有する文字数
}

// NewChunker は新しいChunkerを作成します
// overlapはsize未満でなければなりません
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative: %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be less than chunk size: overlap=%d size=%d", overlap, size)
	}

	return &Chunker{
		size:    size,
		overlap: overlap,
	}, nil
}

// Size はチャンクの最大文字数を返します
func (c *Chunker) Size() int {
	return c.size
}

// Overlap はオーバーラップ文字数を返します
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split はテキストをチャンク化します
// 空文字列からはチャンクを生成しません
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap

	var chunks []string
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, string(runes[start:end]))

		if end == len(runes) {
			break
		}
	}

	return chunks
}
