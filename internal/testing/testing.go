// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
)

// MockPlaylistProvider is a test double for [services.PlaylistProvider] that serves Entries in pages of PageSize.
type MockPlaylistProvider struct {
	Entries  []models.PlaylistEntry
	PageSize int
	Err      error // returned by PlaylistItems
	PageErr  error // returned by NextPage

	mu    sync.Mutex
	Calls int
}

func (m *MockPlaylistProvider) PlaylistItems(ctx context.Context, playlistID string) (*services.PlaylistPage, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.page(0), nil
}

func (m *MockPlaylistProvider) NextPage(ctx context.Context, page *services.PlaylistPage) (*services.PlaylistPage, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if page == nil || page.Next == nil {
		return nil, nil
	}
	if m.PageErr != nil {
		return nil, m.PageErr
	}
	return m.page(page.Offset + page.Limit), nil
}

func (m *MockPlaylistProvider) page(offset int) *services.PlaylistPage {
	size := m.PageSize
	if size <= 0 {
		size = 100
	}
	end := min(offset+size, len(m.Entries))

	page := &services.PlaylistPage{
		Items:  m.Entries[offset:end],
		Total:  len(m.Entries),
		Limit:  size,
		Offset: offset,
	}
	if end < len(m.Entries) {
		next := fmt.Sprintf("mock://page?offset=%d", end)
		page.Next = &next
	}
	return page
}

// MockSearcher is a test double for [services.VideoSearcher] keyed by query.
type MockSearcher struct {
	Results map[string][]services.Video
	Err     error

	mu      sync.Mutex
	Queries []string
}

func (m *MockSearcher) Search(ctx context.Context, query string, limit int) ([]services.Video, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	videos := m.Results[query]
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// MockLyrics is a test double for [services.LyricsProvider].
type MockLyrics struct {
	Lyrics string
	Err    error

	Title  string
	Artist string
}

func (m *MockLyrics) SearchSong(ctx context.Context, title, artist string) (string, error) {
	m.Title, m.Artist = title, artist
	return m.Lyrics, m.Err
}

// Entry builds a well-formed playlist entry.
func Entry(name, artist string, durationMS int) models.PlaylistEntry {
	return models.PlaylistEntry{
		AddedAt: "2024-01-01T00:00:00Z",
		Track: &models.Track{
			ID:         "id-" + name,
			Name:       name,
			Type:       "track",
			DurationMS: durationMS,
			Artists:    []models.Artist{{Name: artist}},
			Album: models.Album{
				Name:        "Album of " + name,
				ReleaseDate: "2021-05-14",
				Images:      []models.Image{{URL: "https://img.example/" + name + ".jpg", Height: 640, Width: 640}},
			},
		},
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
