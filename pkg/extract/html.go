package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

const (
	fetchTimeout = 30 * time.Second

	// Fetched bodies are capped to keep pathological pages bounded.
	maxFetchBytes = 10 << 20
)

// Fetcher pulls documents from URLs and converts them to chunks.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a URL fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// FromURL fetches a document and returns cleaned chunks. Markdown
// sources chunk on headings directly; HTML goes through main-content
// extraction and markdown conversion first.
func (f *Fetcher) FromURL(ctx context.Context, rawURL string) ([]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidURL, parsed.Scheme)
	}

	body, contentType, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var markdown string
	if isMarkdownSource(rawURL, contentType) {
		markdown = body
	} else {
		markdown, err = htmlToMarkdown(body, parsed)
		if err != nil {
			return nil, err
		}
	}

	chunks := ChunkMarkdown(markdown)
	if len(chunks) == 0 {
		chunks = ChunkText(markdown)
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}

// fetch downloads the document body.
func (f *Fetcher) fetch(ctx context.Context, rawURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	req.Header.Set("User-Agent", "docsage/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", "", fmt.Errorf("%w: %s", ErrTimeout, rawURL)
		}
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", &FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", "", ErrEmptyContent
	}

	return string(data), resp.Header.Get("Content-Type"), nil
}

// htmlToMarkdown extracts the main content of an HTML page and
// converts it to markdown. Navigation, footers, and scripts are
// dropped by the readability pass.
func htmlToMarkdown(html string, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}

	content := article.Content
	if strings.TrimSpace(content) == "" {
		content = html
	}

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	if strings.TrimSpace(markdown) == "" {
		return "", ErrEmptyContent
	}
	return markdown, nil
}

// isMarkdownSource reports whether the document is already markdown.
func isMarkdownSource(rawURL, contentType string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return true
	}
	return strings.Contains(contentType, "text/markdown") ||
		strings.Contains(contentType, "text/plain")
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
