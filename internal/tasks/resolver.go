package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	"golang.org/x/time/rate"
)

// LinkResolver picks the source link for a song. An empty link means no acceptable source.
type LinkResolver interface {
	Resolve(ctx context.Context, song models.Song) string
}

// ResolverOpts configures a [Resolver].
type ResolverOpts struct {
	SearchLimit       int           // candidates inspected per song (default: 3)
	RequestsPerMinute int           // search rate when Limiter is nil; zero disables limiting
	Limiter           *rate.Limiter // shared pacing, e.g. with a [Downloader]
	Logger            *log.Logger
}

// NewRequestLimiter paces provider requests to perMinute with no burst. It returns nil when perMinute is not positive.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Resolver selects the search result whose duration is closest to the song's.
type Resolver struct {
	searcher services.VideoSearcher
	limiter  *rate.Limiter
	limit    int
	logger   *log.Logger
}

// NewResolver creates a resolver backed by searcher.
func NewResolver(searcher services.VideoSearcher, opts ResolverOpts) *Resolver {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 3
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRequestLimiter(opts.RequestsPerMinute)
	}

	return &Resolver{
		searcher: searcher,
		limiter:  limiter,
		limit:    opts.SearchLimit,
		logger:   opts.Logger,
	}
}

// Resolve searches "{name} {artist}" and returns the link of the candidate with the smallest duration delta.
//
// A candidate only wins when its delta is strictly smaller than the best so far, which starts at the song's
// own duration, so ties keep the earlier candidate. A malformed duration ends the scan.
func (r *Resolver) Resolve(ctx context.Context, song models.Song) string {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Warn("search rate limiter aborted", "song", song.Name, "err", err)
			return ""
		}
	}

	videos, err := r.searcher.Search(ctx, song.Query(), r.limit)
	if err != nil {
		r.logger.Error("video search failed", "song", song.Name, "err", err)
		return ""
	}

	var link string
	best := song.DurationMS
	for _, v := range videos {
		ms, err := ParseDuration(v.DurationDisplay)
		if err != nil {
			r.logger.Warn("unreadable candidate duration", "song", song.Name, "link", v.Link, "err", err)
			break
		}

		delta := ms - song.DurationMS
		if delta < 0 {
			delta = -delta
		}
		if delta < best {
			best = delta
			link = v.Link
		}
	}

	r.logger.Debug("resolved source", "song", song.Name, "link", link, "delta_ms", best)
	return link
}

// ParseDuration converts an "m:ss" or "h:mm:ss" display string to milliseconds. A bare number is seconds.
func ParseDuration(display string) (int, error) {
	parts := strings.Split(strings.TrimSpace(display), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: duration %q", shared.ErrInvalidInput, display)
	}

	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: duration %q", shared.ErrInvalidInput, display)
		}
		if i > 0 && n > 59 {
			return 0, fmt.Errorf("%w: duration %q", shared.ErrInvalidInput, display)
		}
		total = total*60 + n
	}
	return total * 1000, nil
}
