package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
	"github.com/lrstanley/go-ytdlp"
	"github.com/tidwall/gjson"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v=%s"

// searchRunner runs a yt-dlp search target and returns its JSON output.
type searchRunner func(ctx context.Context, target string) (string, error)

// lookupYTDLP resolves the yt-dlp binary without downloading it.
var lookupYTDLP = func(ctx context.Context) (*ytdlp.ResolvedInstall, error) {
	return ytdlp.Install(ctx, &ytdlp.InstallOptions{DisableDownload: true, AllowVersionMismatch: true})
}

// FindYTDLP returns the path of the yt-dlp binary from PATH or go-ytdlp's cache.
func FindYTDLP(ctx context.Context) (string, error) {
	resolved, err := lookupYTDLP(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: yt-dlp: %v", shared.ErrServiceUnavailable, err)
	}
	return resolved.Executable, nil
}

// NewYTDLPCommand returns a quiet yt-dlp command that ignores user config files.
//
// executable may be empty to let go-ytdlp resolve the binary. A positive timeout becomes --socket-timeout.
func NewYTDLPCommand(executable string, timeout time.Duration) *ytdlp.Command {
	cmd := ytdlp.New().
		IgnoreConfig().
		Quiet().
		NoWarnings()
	if executable != "" {
		cmd.SetExecutable(executable)
	}
	if timeout > 0 {
		cmd.SocketTimeout(timeout.Seconds())
	}
	return cmd
}

// YouTubeSearcher implements [VideoSearcher] with yt-dlp's "ytsearch" extractor.
type YouTubeSearcher struct {
	executable string
	timeout    time.Duration
	run        searchRunner
}

// NewYouTubeSearcher creates a searcher that shells out to yt-dlp. Each search is bounded by timeout when it is positive.
func NewYouTubeSearcher(executable string, timeout time.Duration) *YouTubeSearcher {
	y := &YouTubeSearcher{executable: executable, timeout: timeout}
	y.run = y.runYTDLP
	return y
}

func (y *YouTubeSearcher) command() *ytdlp.Command {
	return NewYTDLPCommand(y.executable, y.timeout).
		FlatPlaylist().
		DumpSingleJSON()
}

func (y *YouTubeSearcher) runYTDLP(ctx context.Context, target string) (string, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	res, err := y.command().Run(ctx, target)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: yt-dlp search after %s", shared.ErrTimeout, y.timeout)
		}
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("%w: yt-dlp search: %v: %s", shared.ErrAPIRequest, err, strings.TrimSpace(res.Stderr))
		}
		return "", fmt.Errorf("%w: yt-dlp search: %v", shared.ErrAPIRequest, err)
	}
	return res.Stdout, nil
}

// Search returns up to limit videos matching query, best match first.
func (y *YouTubeSearcher) Search(ctx context.Context, query string, limit int) ([]Video, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty search query", shared.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 3
	}

	out, err := y.run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, err
	}
	return parseSearchResults(out, limit)
}

// parseSearchResults reads the entries of a flat-playlist JSON document.
//
// Entries without a duration (live streams, premieres) keep an empty DurationDisplay.
func parseSearchResults(out string, limit int) ([]Video, error) {
	if !gjson.Valid(out) {
		return nil, fmt.Errorf("%w: yt-dlp returned invalid JSON", shared.ErrAPIRequest)
	}

	var videos []Video
	gjson.Get(out, "entries").ForEach(func(_, entry gjson.Result) bool {
		link := entry.Get("url").String()
		if link == "" {
			id := entry.Get("id").String()
			if id == "" {
				return true
			}
			link = fmt.Sprintf(youtubeWatchURL, id)
		}

		// duration_string drops the minutes for clips under a minute ("45"), so seconds win.
		var duration string
		if d := entry.Get("duration"); d.Type == gjson.Number {
			duration = shared.FormatDuration(int(d.Float()))
		} else if ds := entry.Get("duration_string"); ds.String() != "" {
			duration = ds.String()
		}

		videos = append(videos, Video{
			Link:            link,
			Title:           entry.Get("title").String(),
			DurationDisplay: duration,
		})
		return len(videos) < limit
	})
	return videos, nil
}
