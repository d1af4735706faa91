package services

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

const (
	geniusBaseURL = "https://api.genius.com"
	lrclibBaseURL = "https://lrclib.net"
	userAgent     = "plsync (https://github.com/desertthunder/plsync)"
)

// NewLyricsProvider returns the provider named by provider ("genius", "lrclib" or "none").
// It returns nil when lyrics are disabled.
func NewLyricsProvider(provider, geniusToken string, timeout time.Duration) (LyricsProvider, error) {
	client := &http.Client{Timeout: timeout}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "genius":
		if geniusToken == "" {
			return nil, fmt.Errorf("%w: genius access_token", shared.ErrMissingCredentials)
		}
		return NewGeniusClient(geniusToken, client), nil
	case "lrclib":
		return NewLRCLibClient(client), nil
	case "none", "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown lyrics provider %q", shared.ErrInvalidConfig, provider)
	}
}
