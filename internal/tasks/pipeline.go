// package tasks implements the playlist synchronization pipeline.
//
// The core abstraction is SyncEngine, which mirrors a remote playlist into a local directory of tagged MP3 files.
// Runs report to the UI through an [EventSink] and are stopped through a [StopToken].
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
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
)

// SongRecord is the outcome of one song, as handed to a [HistoryRecorder].
type SongRecord struct {
	Song     models.Song
	FileName string
	Link     string
	Err      error
}

// HistoryRecorder persists runs and per-song outcomes. Its errors never affect a run.
type HistoryRecorder interface {
	StartRun(ctx context.Context, playlistID, dir string, total int) (string, error)
	RecordSong(ctx context.Context, runID string, rec SongRecord) error
	FinishRun(ctx context.Context, runID string, success, failure int, cancelled bool) error
}

// SyncRequest describes one run.
type SyncRequest struct {
	PlaylistID string // bare ID, spotify: URI or share URL
	Directory  string // created if missing
	Limit      int    // only the first Limit entries when > 0
	Normalize  bool   // run loudness normalization after a complete run
}

// SongFailure records why a song was not synced.
type SongFailure struct {
	Name string
	Err  error
}

// SyncResult summarizes a run.
type SyncResult struct {
	RunID      string
	PlaylistID string
	Fetched    int // entries returned by the provider
	Skipped    int // entries already present locally
	Total      int // entries processed
	Success    int
	Failed     int
	Cancelled  bool
	Elapsed    time.Duration
	Failures   []SongFailure
}

// EngineOpts wires the collaborators of a [SyncEngine].
//
// Provider, Resolver, NewAcquirer and Tagger are required.
type EngineOpts struct {
	Provider    services.PlaylistProvider
	Resolver    LinkResolver
	NewAcquirer AcquirerFactory
	Tagger      Tagger
	Covers      CoverFetcher       // optional
	Normalizer  LoudnessNormalizer // optional
	History     HistoryRecorder    // optional
	Logger      *log.Logger
	Now         func() time.Time
}

// SyncEngine runs playlist synchronizations. Songs are processed strictly in playlist order.
type SyncEngine struct {
	provider    services.PlaylistProvider
	resolver    LinkResolver
	newAcquirer AcquirerFactory
	tagger      Tagger
	covers      CoverFetcher
	normalizer  LoudnessNormalizer
	history     HistoryRecorder
	logger      *log.Logger
	now         func() time.Time
}

// NewSyncEngine creates a SyncEngine from opts.
func NewSyncEngine(opts EngineOpts) (*SyncEngine, error) {
	switch {
	case opts.Provider == nil:
		return nil, fmt.Errorf("%w: playlist provider not initialized", shared.ErrServiceUnavailable)
	case opts.Resolver == nil:
		return nil, fmt.Errorf("%w: link resolver not initialized", shared.ErrServiceUnavailable)
	case opts.NewAcquirer == nil:
		return nil, fmt.Errorf("%w: acquirer factory not initialized", shared.ErrServiceUnavailable)
	case opts.Tagger == nil:
		return nil, fmt.Errorf("%w: tagger not initialized", shared.ErrServiceUnavailable)
	}

	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SyncEngine{
		provider:    opts.Provider,
		resolver:    opts.Resolver,
		newAcquirer: opts.NewAcquirer,
		tagger:      opts.Tagger,
		covers:      opts.Covers,
		normalizer:  opts.Normalizer,
		history:     opts.History,
		logger:      opts.Logger,
		now:         opts.Now,
	}, nil
}

// Run synchronizes req.PlaylistID into req.Directory.
//
// Setup failures (directory, playlist fetch, local scan) are returned as errors. Per-song failures are counted
// in the result. After every song the run emits progress and eta_update, then polls stop; an exit request or a
// cancelled ctx ends the run without normalization or download_complete.
func (e *SyncEngine) Run(ctx context.Context, req SyncRequest, sink EventSink, stop *StopToken) (*SyncResult, error) {
	if req.Directory == "" {
		return nil, fmt.Errorf("%w: directory", shared.ErrMissingArgument)
	}
	if sink == nil {
		sink = NopSink{}
	}

	start := e.now()
	logger := e.logger.With("playlist", req.PlaylistID)

	if err := os.MkdirAll(req.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	entries, err := FetchEntries(ctx, e.provider, req.PlaylistID)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{PlaylistID: req.PlaylistID, Fetched: len(entries)}

	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	existing, err := LocalLibrary(req.Directory)
	if err != nil {
		return nil, err
	}
	pending := FilterPending(entries, existing)
	result.Skipped = len(entries) - len(pending)
	result.Total = len(pending)

	logger.Info("starting sync", "fetched", result.Fetched, "skipped", result.Skipped, "pending", result.Total)
	result.RunID = e.startRun(ctx, req, result.Total)

	run := &syncRun{engine: e, dir: req.Directory, sink: sink, acquirer: e.newAcquirer()}
	for i, entry := range pending {
		rec, err := run.process(ctx, entry)
		rec.Err = err

		if err != nil {
			result.Failed++
			name := rec.Song.Name
			if name == "" {
				name = entry.Name()
			}
			result.Failures = append(result.Failures, SongFailure{Name: name, Err: err})
			logger.Error("song failed", "song", name, "err", err)
		} else {
			result.Success++
			logger.Info("song synced", "song", rec.Song.Name, "file", rec.FileName)
		}
		e.recordSong(ctx, result.RunID, rec)

		completed := i + 1
		elapsed := e.now().Sub(start)
		sink.Emit(progressEvent(completed, result.Total, result.Success, result.Failed))
		sink.Emit(etaEvent(elapsed, EstimateRemaining(result.Total, completed, elapsed)))

		if stop.Requested() || ctx.Err() != nil {
			result.Cancelled = true
			logger.Warn("sync stopped", "completed", completed, "remaining", result.Total-completed)
			break
		}
	}

	result.Elapsed = e.now().Sub(start)
	e.finishRun(ctx, result)

	if result.Cancelled {
		return result, nil
	}

	if req.Normalize && e.normalizer != nil {
		if err := e.normalizer.NormalizeDirectory(ctx, req.Directory); err != nil {
			logger.Error("loudness normalization failed", "err", err)
		}
	}

	sink.Emit(completeEvent())
	logger.Info("sync complete", "success", result.Success, "failed", result.Failed, "elapsed", result.Elapsed.Round(time.Second))
	return result, nil
}

// syncRun holds the state carried from song to song within one run.
type syncRun struct {
	engine   *SyncEngine
	dir      string
	sink     EventSink
	acquirer Acquirer
}

// process runs the per-song sequence. Panics are converted to errors and the staged cover is always removed.
func (r *syncRun) process(ctx context.Context, entry models.PlaylistEntry) (rec SongRecord, err error) {
	e := r.engine
	cover := filepath.Join(r.dir, CoverFileName)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing song: %v", p)
		}
		if rmErr := os.Remove(cover); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			e.logger.Warn("failed to remove cover", "path", cover, "err", rmErr)
		}
	}()

	song, err := models.FormatSongData(entry)
	if err != nil {
		return rec, err
	}
	rec.Song = song

	name := models.SanitizeFilename(song.Name)
	rec.FileName = name + audioExt

	if e.covers != nil {
		if err := e.covers.Fetch(ctx, song.CoverArtURL, cover); err != nil {
			e.logger.Warn("failed to fetch cover art", "song", song.Name, "err", err)
		}
	}

	r.sink.Emit(songTitleEvent(song.Title()))

	link := e.resolver.Resolve(ctx, song)
	if link == "" {
		return rec, fmt.Errorf("%w: %s", shared.ErrUnresolvedLink, song.Title())
	}
	rec.Link = link

	res := r.acquirer.Acquire(ctx, link, r.dir, name)
	if res.Outcome == RateLimited {
		e.logger.Warn("rate limited, retrying with a fresh downloader", "song", song.Name)
		r.acquirer = e.newAcquirer()
		res = r.acquirer.Acquire(ctx, link, r.dir, name)
	}

	switch res.Outcome {
	case RateLimited:
		return rec, fmt.Errorf("%w: %s", shared.ErrRateLimited, link)
	case Exhausted:
		if res.Err != nil {
			return rec, fmt.Errorf("%w after %d attempts: %v", shared.ErrAcquisitionExhausted, res.Attempts, res.Err)
		}
		return rec, fmt.Errorf("%w after %d attempts", shared.ErrAcquisitionExhausted, res.Attempts)
	}

	if err := e.tagger.Apply(ctx, song, r.dir, name); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *SyncEngine) startRun(ctx context.Context, req SyncRequest, total int) string {
	if e.history == nil {
		return ""
	}
	id, err := e.history.StartRun(ctx, req.PlaylistID, req.Directory, total)
	if err != nil {
		e.logger.Warn("failed to record run", "err", err)
		return ""
	}
	return id
}

func (e *SyncEngine) recordSong(ctx context.Context, runID string, rec SongRecord) {
	if e.history == nil || runID == "" {
		return
	}
	if err := e.history.RecordSong(ctx, runID, rec); err != nil {
		e.logger.Warn("failed to record song", "song", rec.Song.Name, "err", err)
	}
}

func (e *SyncEngine) finishRun(ctx context.Context, result *SyncResult) {
	if e.history == nil || result.RunID == "" {
		return
	}
	// The run may have been stopped by ctx; its summary is still written.
	if err := e.history.FinishRun(context.WithoutCancel(ctx), result.RunID, result.Success, result.Failed, result.Cancelled); err != nil {
		e.logger.Warn("failed to finish run", "err", err)
	}
}

// FetchEntries collects every entry of a playlist, following page cursors until exhausted.
func FetchEntries(ctx context.Context, provider services.PlaylistProvider, playlistID string) ([]models.PlaylistEntry, error) {
	page, err := provider.PlaylistItems(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	var entries []models.PlaylistEntry
	for page != nil {
		entries = append(entries, page.Items...)
		page, err = provider.NextPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch playlist page: %w", err)
		}
	}
	return entries, nil
}

// LocalLibrary returns the normalized base names (extension stripped) of the regular files in dir.
func LocalLibrary(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	existing := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		existing[models.NormalizeName(base)] = struct{}{}
	}
	return existing, nil
}

// FilterPending drops entries whose normalized track name is already in existing, preserving order.
//
// Entries without a track are kept so they are reported as malformed.
func FilterPending(entries []models.PlaylistEntry, existing map[string]struct{}) []models.PlaylistEntry {
	pending := make([]models.PlaylistEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Track != nil {
			if _, ok := existing[models.NormalizeName(entry.Track.Name)]; ok {
				continue
			}
		}
		pending = append(pending, entry)
	}
	return pending
}
