package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

const (
	// TempFileBase is the name yt-dlp writes to before the file is renamed into place.
	TempFileBase = "downloaded_song"
	audioExt     = ".mp3"

	// maxRetries bounds transient failures; the fetcher runs at most maxRetries+1 times.
	maxRetries = 3
)

// Phrases the provider prints when it throttles or demands a sign-in.
var rateLimitPhrases = []string{
	"This content isn't available, try again later.",
	"Sign in to confirm you",
}

// Outcome is the terminal state of an acquisition.
type Outcome int

const (
	Succeeded Outcome = iota
	RateLimited
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case RateLimited:
		return "rate_limited"
	case Exhausted:
		return "exhausted"
	default:
		return ""
	}
}

// AttemptResult classifies a single fetch.
type AttemptResult int

const (
	AttemptSuccess AttemptResult = iota
	AttemptRateLimited
	AttemptTransient
)

// AcquireResult reports how an acquisition ended.
type AcquireResult struct {
	Outcome  Outcome
	Attempts int    // fetch invocations made
	Path     string // final file, set on success
	Err      error  // last transient error, if any
}

// Acquirer downloads the audio at link to {dir}/{name}.mp3.
type Acquirer interface {
	Acquire(ctx context.Context, link, dir, name string) AcquireResult
}

// AcquirerFactory builds a fresh acquirer. The pipeline calls it again after a rate limit.
type AcquirerFactory func() Acquirer

// FetchOutput is the captured output of a fetch.
type FetchOutput struct {
	Stdout string
	Stderr string
}

// Fetcher runs one download of link to outputTemplate.
type Fetcher interface {
	Fetch(ctx context.Context, link, outputTemplate string) (FetchOutput, error)
}

// YTDLPFetcher downloads best-quality audio with yt-dlp and converts it to MP3.
type YTDLPFetcher struct {
	Executable     string        // yt-dlp binary; empty lets go-ytdlp resolve it
	Bitrate        int           // kbps (default: 192)
	FFmpegLocation string        // optional ffmpeg binary or directory
	Timeout        time.Duration // socket timeout for each network read
}

func (f *YTDLPFetcher) command(outputTemplate string) *ytdlp.Command {
	bitrate := f.Bitrate
	if bitrate <= 0 {
		bitrate = 192
	}

	dl := services.NewYTDLPCommand(f.Executable, f.Timeout).
		Format("bestaudio").
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(fmt.Sprintf("%dK", bitrate)).
		Output(outputTemplate).
		NoPlaylist().
		NoProgress()
	if f.FFmpegLocation != "" {
		dl.FFmpegLocation(f.FFmpegLocation)
	}
	return dl
}

// Fetch runs yt-dlp once. Output is captured even when the command fails.
func (f *YTDLPFetcher) Fetch(ctx context.Context, link, outputTemplate string) (FetchOutput, error) {
	res, err := f.command(outputTemplate).Run(ctx, link)

	var out FetchOutput
	if res != nil {
		out.Stdout = res.Stdout
		out.Stderr = res.Stderr
	}
	return out, err
}

// Downloader implements [Acquirer] with bounded retries over a [Fetcher].
type Downloader struct {
	fetcher Fetcher
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewDownloader creates a downloader around fetcher.
func NewDownloader(fetcher Fetcher, logger *log.Logger) *Downloader {
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{fetcher: fetcher, logger: logger}
}

// WithLimiter makes every fetch wait on limiter first. A nil limiter disables pacing.
func (d *Downloader) WithLimiter(limiter *rate.Limiter) *Downloader {
	d.limiter = limiter
	return d
}

// Acquire fetches link until the temp file appears, a rate limit is detected or retries run out.
//
// On success any existing {name}.mp3 is replaced.
func (d *Downloader) Acquire(ctx context.Context, link, dir, name string) AcquireResult {
	temp := filepath.Join(dir, TempFileBase+audioExt)
	final := filepath.Join(dir, name+audioExt)
	template := filepath.Join(dir, TempFileBase+".%(ext)s")

	result := AcquireResult{}
	attempts := 0
	for attempts <= maxRetries {
		if err := ctx.Err(); err != nil {
			result.Outcome = Exhausted
			result.Err = err
			return result
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				result.Outcome = Exhausted
				result.Err = err
				return result
			}
		}

		_ = os.Remove(temp)
		out, err := d.fetcher.Fetch(ctx, link, template)
		result.Attempts++

		switch classifyAttempt(out, err, temp) {
		case AttemptRateLimited:
			d.logger.Warn("provider rate limit detected", "link", link, "attempt", result.Attempts)
			result.Outcome = RateLimited
			return result
		case AttemptTransient:
			attempts++
			if err == nil {
				err = fmt.Errorf("fetch produced no %s", filepath.Base(temp))
			}
			result.Err = err
			d.logger.Debug("download attempt failed", "link", link, "attempt", result.Attempts, "err", err)
			continue
		}

		if err := os.Remove(final); err != nil && !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("failed to remove previous file", "path", final, "err", err)
		}
		if err := os.Rename(temp, final); err != nil {
			attempts++
			result.Err = fmt.Errorf("failed to move download into place: %w", err)
			continue
		}

		result.Outcome = Succeeded
		result.Path = final
		result.Err = nil
		return result
	}

	result.Outcome = Exhausted
	return result
}

// classifyAttempt inspects one fetch. Rate-limit phrases win over every other signal.
func classifyAttempt(out FetchOutput, err error, temp string) AttemptResult {
	text := out.Stdout + "\n" + out.Stderr
	if err != nil {
		text += "\n" + err.Error()
	}
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(text, phrase) {
			return AttemptRateLimited
		}
	}

	if err != nil {
		return AttemptTransient
	}
	if _, statErr := os.Stat(temp); statErr != nil {
		return AttemptTransient
	}
	return AttemptSuccess
}
