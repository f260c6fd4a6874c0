package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fetcher downloads the bytes behind a platform media handle.
// Implementations return the complete asset or an error, never a partial body.
type Fetcher interface {
	Fetch(ctx context.Context, handle, token string) ([]byte, error)
}

// GraphFetcher resolves WhatsApp Cloud API media handles.
//
// The first hop exchanges the handle for a short-lived download URL and
// the announced size; the second hop downloads the bytes. Both hops carry
// the bearer token.
type GraphFetcher struct {
	client   *http.Client
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
}

type graphMedia struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

func NewGraphFetcher(baseURL string, client *http.Client, maxBytes int64, logger *zap.Logger) *GraphFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &GraphFetcher{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (f *GraphFetcher) Fetch(ctx context.Context, handle, token string) ([]byte, error) {
	meta, err := f.resolve(ctx, handle, token)
	if err != nil {
		return nil, err
	}
	if meta.FileSize > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes announced", ErrAssetTooLarge, meta.FileSize)
	}

	data, err := Download(ctx, f.client, meta.URL, token, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to download media %s: %w", handle, err)
	}
	if meta.FileSize > 0 && int64(len(data)) != meta.FileSize {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteDownload, len(data), meta.FileSize)
	}

	f.logger.Debug("Media downloaded",
		zap.String("handle", handle),
		zap.String("mime_type", meta.MimeType),
		zap.Int("bytes", len(data)))
	return data, nil
}

func (f *GraphFetcher) resolve(ctx context.Context, handle, token string) (*graphMedia, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("media lookup for %s returned %d: %s", handle, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta graphMedia
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode media lookup: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media lookup for %s returned no url", handle)
	}
	return &meta, nil
}

// Download fetches url in full. A body shorter than the announced
// Content-Length or an empty body is reported as ErrIncompleteDownload.
func Download(ctx context.Context, client *http.Client, url, token string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := ReadAllWithLimit(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrIncompleteDownload)
	}
	if resp.ContentLength >= 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteDownload, len(data), resp.ContentLength)
	}
	return data, nil
}
