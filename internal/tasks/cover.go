package tasks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

// CoverFetcher stores the image at url in dest.
type CoverFetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTPCoverFetcher downloads album art over HTTP.
type HTTPCoverFetcher struct {
	client *http.Client
}

// NewHTTPCoverFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPCoverFetcher(timeout time.Duration) *HTTPCoverFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCoverFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url to dest. A partially written file is removed on failure.
func (f *HTTPCoverFetcher) Fetch(ctx context.Context, url, dest string) error {
	if url == "" {
		return fmt.Errorf("%w: empty cover URL", shared.ErrInvalidArgument)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to read image data: %w", err)
	}
	return out.Close()
}
