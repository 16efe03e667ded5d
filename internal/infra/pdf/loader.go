package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/jinford/pdf-assistant/internal/core/ingestion"
)

const (
	// DefaultFetchTimeout はPDFダウンロードのデフォルトタイムアウト
	DefaultFetchTimeout = 60 * time.Second

	// DefaultMaxDocumentSize はダウンロードを許可する最大サイズ（64MB）
	DefaultMaxDocumentSize = 64 << 20
)

// Loader はURLからPDFを取得し、ページごとのテキストに変換する
type Loader struct {
	httpClient *http.Client
	maxSize    int64
}

type loaderOptions struct {
	httpClient *http.Client
	maxSize    int64
}

// LoaderOption は Loader のオプション設定
type LoaderOption func(*loaderOptions)

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(o *loaderOptions) {
		o.httpClient = client
	}
}

// WithMaxDocumentSize はダウンロードを許可する最大サイズを上書きする
func WithMaxDocumentSize(size int64) LoaderOption {
	return func(o *loaderOptions) {
		o.maxSize = size
	}
}

// NewLoader は新しい Loader を作成する
func NewLoader(opts ...LoaderOption) *Loader {
	options := loaderOptions{
		httpClient: &http.Client{Timeout: DefaultFetchTimeout},
		maxSize:    DefaultMaxDocumentSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Loader{
		httpClient: options.httpClient,
		maxSize:    options.maxSize,
	}
}

// LoadPages はURLからPDFをダウンロードし、全ページのテキストを抽出する
//
// テキストを抽出できないページは空テキストのページとして返す。
// ページ番号は1始まり。
func (l *Loader) LoadPages(ctx context.Context, url string) ([]ingestion.Page, error) {
	data, err := l.download(ctx, url)
	if err != nil {
		return nil, err
	}

	return l.extractPages(data)
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download PDF: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download PDF: HTTP %d", resp.StatusCode)
	}

	// サイズ上限を超えたダウンロードは打ち切る
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF content: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("PDF exceeds maximum size of %d bytes", l.maxSize)
	}

	return data, nil
}

func (l *Loader) extractPages(data []byte) ([]ingestion.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	pageCount := reader.NumPage()
	pages := make([]ingestion.Page, 0, pageCount)

	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, ingestion.Page{Number: i})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// 抽出不能なページはスキップせず空ページとして残す
			pages = append(pages, ingestion.Page{Number: i})
			continue
		}

		pages = append(pages, ingestion.Page{
			Number: i,
			Text:   strings.TrimSpace(text),
		})
	}

	return pages, nil
}

// インターフェース実装の確認
var _ ingestion.DocumentLoader = (*Loader)(nil)
