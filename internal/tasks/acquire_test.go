package tasks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	tu "github.com/desertthunder/plsync/internal/testing"
)

// scriptedFetcher runs one step per call; a nil step writes the temp file and succeeds.
type scriptedFetcher struct {
	steps     []func(template string) (FetchOutput, error)
	calls     int
	templates []string
}

func (f *scriptedFetcher) Fetch(ctx context.Context, link, outputTemplate string) (FetchOutput, error) {
	f.templates = append(f.templates, outputTemplate)
	i := f.calls
	f.calls++
	if i < len(f.steps) && f.steps[i] != nil {
		return f.steps[i](outputTemplate)
	}
	temp := strings.Replace(outputTemplate, "%(ext)s", "mp3", 1)
	return FetchOutput{}, os.WriteFile(temp, []byte("fresh audio"), 0644)
}

func failWith(err error, stderr string) func(string) (FetchOutput, error) {
	return func(string) (FetchOutput, error) {
		return FetchOutput{Stderr: stderr}, err
	}
}

func TestDownloader(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard)
	transient := errors.New("HTTP Error 503")

	t.Run("gives up after four transient failures", func(t *testing.T) {
		dir := t.TempDir()
		fetcher := &scriptedFetcher{}
		for range 10 {
			fetcher.steps = append(fetcher.steps, failWith(transient, "ERROR: HTTP Error 503"))
		}

		res := NewDownloader(fetcher, logger).Acquire(ctx, "https://youtu.be/x", dir, "Song")
		if res.Outcome != Exhausted {
			t.Fatalf("expected Exhausted, got %s", res.Outcome)
		}
		if fetcher.calls != 4 {
			t.Errorf("expected 4 fetch invocations, got %d", fetcher.calls)
		}
		if res.Attempts != 4 {
			t.Errorf("expected 4 attempts reported, got %d", res.Attempts)
		}
		if !errors.Is(res.Err, transient) {
			t.Errorf("expected last error to be kept, got %v", res.Err)
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, "Song.mp3"))
	})

	t.Run("missing temp file counts as a failure", func(t *testing.T) {
		dir := t.TempDir()
		noop := func(string) (FetchOutput, error) { return FetchOutput{}, nil }
		fetcher := &scriptedFetcher{steps: []func(string) (FetchOutput, error){noop, noop, noop, noop}}

		res := NewDownloader(fetcher, logger).Acquire(ctx, "link", dir, "Song")
		if res.Outcome != Exhausted || fetcher.calls != 4 {
			t.Errorf("expected Exhausted after 4 calls, got %s after %d", res.Outcome, fetcher.calls)
		}
	})

	t.Run("succeeds on a later attempt and replaces the old file", func(t *testing.T) {
		dir := t.TempDir()
		final := filepath.Join(dir, "Song.mp3")
		tu.MustWriteFile(t, final, "stale audio")

		fetcher := &scriptedFetcher{steps: []func(string) (FetchOutput, error){
			failWith(transient, ""),
			failWith(transient, ""),
		}}

		res := NewDownloader(fetcher, logger).Acquire(ctx, "link", dir, "Song")
		if res.Outcome != Succeeded {
			t.Fatalf("expected Succeeded, got %s (%v)", res.Outcome, res.Err)
		}
		if res.Attempts != 3 || res.Path != final {
			t.Errorf("unexpected result %+v", res)
		}
		if got := tu.MustReadFile(t, final); got != "fresh audio" {
			t.Errorf("expected file to be replaced, got %q", got)
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, TempFileBase+".mp3"))

		want := filepath.Join(dir, "downloaded_song.%(ext)s")
		if fetcher.templates[0] != want {
			t.Errorf("expected output template %s, got %s", want, fetcher.templates[0])
		}
	})

	t.Run("rate limit returns immediately", func(t *testing.T) {
		tests := []struct {
			name string
			step func(string) (FetchOutput, error)
		}{
			{"stderr with error", failWith(errors.New("exit status 1"), "ERROR: [youtube] x: Sign in to confirm you’re not a bot")},
			{"stdout without error", func(string) (FetchOutput, error) {
				return FetchOutput{Stdout: "This content isn't available, try again later."}, nil
			}},
			{"error text", failWith(errors.New("This content isn't available, try again later."), "")},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fetcher := &scriptedFetcher{steps: []func(string) (FetchOutput, error){tt.step}}
				res := NewDownloader(fetcher, logger).Acquire(ctx, "link", t.TempDir(), "Song")
				if res.Outcome != RateLimited {
					t.Errorf("expected RateLimited, got %s", res.Outcome)
				}
				if fetcher.calls != 1 {
					t.Errorf("expected a single fetch, got %d", fetcher.calls)
				}
			})
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		fetcher := &scriptedFetcher{}
		res := NewDownloader(fetcher, logger).Acquire(cctx, "link", t.TempDir(), "Song")
		if res.Outcome != Exhausted || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected Exhausted with context error, got %s %v", res.Outcome, res.Err)
		}
		if fetcher.calls != 0 {
			t.Errorf("expected no fetch, got %d", fetcher.calls)
		}
	})
}

func TestDownloaderPacing(t *testing.T) {
	logger := log.New(io.Discard)
	limiter := NewRequestLimiter(1)
	fetcher := &scriptedFetcher{}
	d := NewDownloader(fetcher, logger).WithLimiter(limiter)

	if res := d.Acquire(context.Background(), "link", t.TempDir(), "First"); res.Outcome != Succeeded {
		t.Fatalf("expected first fetch to pass the limiter, got %s", res.Outcome)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := d.Acquire(ctx, "link", t.TempDir(), "Second")
	if res.Outcome != Exhausted || res.Err == nil {
		t.Errorf("expected Exhausted while waiting on the limiter, got %s %v", res.Outcome, res.Err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected the second fetch to be held back, got %d calls", fetcher.calls)
	}
}

func TestYTDLPFetcher(t *testing.T) {
	t.Run("socket timeout", func(t *testing.T) {
		f := &YTDLPFetcher{Executable: "/opt/bin/yt-dlp", Timeout: 30 * time.Second}
		cfg := f.command("dir/downloaded_song.%(ext)s").GetFlagConfig()

		if cfg.Network.SocketTimeout == nil || *cfg.Network.SocketTimeout != 30 {
			t.Errorf("expected a 30s socket timeout, got %v", cfg.Network.SocketTimeout)
		}
	})

	t.Run("no timeout configured", func(t *testing.T) {
		cfg := (&YTDLPFetcher{}).command("out.%(ext)s").GetFlagConfig()
		if cfg.Network.SocketTimeout != nil {
			t.Errorf("expected no socket timeout, got %v", *cfg.Network.SocketTimeout)
		}
	})
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		Succeeded:   "succeeded",
		RateLimited: "rate_limited",
		Exhausted:   "exhausted",
		Outcome(42): "",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}
