package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_RejectsInvalidConfig(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)

	_, err = NewChunker(100, 100)
	assert.Error(t, err)

	_, err = NewChunker(100, 150)
	assert.Error(t, err)

	_, err = NewChunker(100, -1)
	assert.Error(t, err)

	c, err := NewChunker(100, 20)
	require.NoError(t, err)
	assert.Equal(t, 100, c.Size())
	assert.Equal(t, 20, c.Overlap())
}

func TestChunker_SplitEmptyTextYieldsNoChunks(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
}

func TestChunker_SplitShortTextYieldsSingleChunk(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	chunks := c.Split("hello world")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestChunker_SplitCoversFullTextWithExactOverlap(t *testing.T) {
	const size = 50
	const overlap = 10

	c, err := NewChunker(size, overlap)
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 23) // 230文字
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	step := size - overlap

	// 各チャンクはsize以下、最終チャンク以外はちょうどsize
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), size)
		if i < len(chunks)-1 {
			assert.Len(t, []rune(chunk), size)
		}
	}

	// 隣接チャンクはちょうどoverlap文字を共有する
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		curr := []rune(chunks[i])
		assert.Equal(t, string(prev[step:]), string(curr[:overlap]),
			"chunk %d and %d must share exactly the overlap region", i-1, i)
	}

	// 隙間なく全文を被覆する（オーバーラップを除去して連結すると元テキストになる）
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		r := []rune(chunk)
		if i == 0 {
			rebuilt.WriteString(chunk)
		} else {
			rebuilt.WriteString(string(r[overlap:]))
		}
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunker_SplitHandlesMultibyteRunes(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	chunks := c.Split("これは日本語のテキストです")
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 4)
	}

	// ルーン境界が壊れていないこと
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		r := []rune(chunk)
		if i == 0 {
			rebuilt.WriteString(chunk)
		} else {
			rebuilt.WriteString(string(r[1:]))
		}
	}
	assert.Equal(t, "これは日本語のテキストです", rebuilt.String())
}

func TestChunker_FinalChunkMayBeShorter(t *testing.T) {
	c, err := NewChunker(10, 2)
	require.NoError(t, err)

	// step=8, 長さ12 → チャンクは [0:10], [8:12]
	chunks := c.Split("abcdefghijkl")
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcdefghij", chunks[0])
	assert.Equal(t, "ijkl", chunks[1])
}
