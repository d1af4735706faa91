package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/desertthunder/plsync/internal/shared"
	"golang.org/x/net/html"
)

// Trailing markers the Genius page appends after the last line of lyrics.
var geniusTrailers = []string{"EmbedShare URLCopyEmbedCopy", "EmbedShare", "Embed"}

type geniusSearchResponse struct {
	Response struct {
		Hits []struct {
			Type   string `json:"type"`
			Result struct {
				Title         string `json:"title"`
				URL           string `json:"url"`
				PrimaryArtist struct {
					Name string `json:"name"`
				} `json:"primary_artist"`
			} `json:"result"`
		} `json:"hits"`
	} `json:"response"`
}

// GeniusClient looks up lyrics through the Genius search API and song pages.
type GeniusClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewGeniusClient creates a Genius client authenticated with a client access token.
func NewGeniusClient(token string, httpClient *http.Client) *GeniusClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeniusClient{token: token, baseURL: geniusBaseURL, httpClient: httpClient}
}

// SearchSong finds the best song hit for title and artist and scrapes its lyrics.
func (g *GeniusClient) SearchSong(ctx context.Context, title, artist string) (string, error) {
	if g.token == "" {
		return "", fmt.Errorf("%w: genius access_token", shared.ErrMissingCredentials)
	}

	songURL, err := g.searchSongURL(ctx, title, artist)
	if err != nil || songURL == "" {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, songURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: genius page status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse lyrics page: %w", err)
	}
	return extractGeniusLyrics(doc), nil
}

func (g *GeniusClient) searchSongURL(ctx context.Context, title, artist string) (string, error) {
	query := url.Values{}
	query.Set("q", strings.TrimSpace(title+" "+artist))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", shared.ErrTokenExpired
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: genius search status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var result geniusSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	first, _, _ := strings.Cut(artist, ",")
	first = strings.ToLower(strings.TrimSpace(first))

	var fallback string
	for _, hit := range result.Response.Hits {
		if hit.Type != "song" || hit.Result.URL == "" {
			continue
		}
		if first != "" && strings.Contains(strings.ToLower(hit.Result.PrimaryArtist.Name), first) {
			return hit.Result.URL, nil
		}
		if fallback == "" {
			fallback = hit.Result.URL
		}
	}
	return fallback, nil
}

// extractGeniusLyrics joins the text of every lyrics container, turning line breaks into newlines.
func extractGeniusLyrics(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find(`[data-lyrics-container="true"]`).Each(func(i int, sel *goquery.Selection) {
		sel.Find(`[data-exclude-from-selection="true"]`).Remove()
		sel.Find("br").ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: "\n"})
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sel.Text())
	})
	return cleanLyrics(b.String())
}

// cleanLyrics trims the embed trailer and the counter glued to it.
func cleanLyrics(text string) string {
	text = strings.TrimSpace(text)
	for _, trailer := range geniusTrailers {
		if strings.HasSuffix(text, trailer) {
			text = strings.TrimSuffix(text, trailer)
			text = strings.TrimRightFunc(text, unicode.IsDigit)
			break
		}
	}
	return strings.TrimSpace(text)
}
