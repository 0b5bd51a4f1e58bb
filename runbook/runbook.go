// Package runbook fetches the runbook page linked from an alert's
// runbook_url annotation and reduces it to markdown suitable for
// embedding in an investigation prompt.
package runbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
)

// maxPageSize bounds the fetched page body.
const maxPageSize = 4 * 1024 * 1024 // 4MB

// maxMarkdownLen truncates converted runbooks so one oversized page
// cannot crowd the rest of the prompt out of the context window.
const maxMarkdownLen = 16 * 1024

// Fetcher retrieves and converts runbook pages.
type Fetcher struct {
	httpClient *http.Client
	converter  *md.Converter
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher with a bounded timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		converter:  md.NewConverter("", true, nil),
		logger:     logger,
	}
}

// Fetch downloads the runbook, extracts the readable article, and
// converts it to markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse runbook URL: %w", err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported runbook URL scheme: %s", pageURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create runbook request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch runbook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("runbook returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPageSize)
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return "", fmt.Errorf("extract runbook content: %w", err)
	}

	markdown, err := f.converter.ConvertString(article.Content)
	if err != nil {
		return "", fmt.Errorf("convert runbook to markdown: %w", err)
	}

	markdown = strings.TrimSpace(markdown)
	if len(markdown) > maxMarkdownLen {
		markdown = markdown[:maxMarkdownLen] + "\n\n[runbook truncated]"
	}

	if article.Title != "" {
		markdown = "# " + article.Title + "\n\n" + markdown
	}
	return markdown, nil
}
