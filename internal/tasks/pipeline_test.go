package tasks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
	tu "github.com/desertthunder/plsync/internal/testing"
)

type stubResolver struct {
	links map[string]string // explicit "" marks a song as unresolvable
	calls []string
}

func (s *stubResolver) Resolve(ctx context.Context, song models.Song) string {
	s.calls = append(s.calls, song.Name)
	if link, ok := s.links[song.Name]; ok {
		return link
	}
	return "https://www.youtube.com/watch?v=" + song.Name
}

// fakeAcquirer replays outcomes in order and succeeds once they run out.
type fakeAcquirer struct {
	outcomes []Outcome
	calls    int
}

func (f *fakeAcquirer) Acquire(ctx context.Context, link, dir, name string) AcquireResult {
	outcome := Succeeded
	if f.calls < len(f.outcomes) {
		outcome = f.outcomes[f.calls]
	}
	f.calls++

	if outcome != Succeeded {
		return AcquireResult{Outcome: outcome, Attempts: 1}
	}
	path := filepath.Join(dir, name+audioExt)
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return AcquireResult{Outcome: Exhausted, Attempts: 1, Err: err}
	}
	return AcquireResult{Outcome: Succeeded, Attempts: 1, Path: path}
}

// acquirerSequence hands out prepared acquirers, then plain succeeding ones.
type acquirerSequence struct {
	prepared []*fakeAcquirer
	built    []*fakeAcquirer
}

func (s *acquirerSequence) factory() Acquirer {
	a := &fakeAcquirer{}
	if len(s.built) < len(s.prepared) {
		a = s.prepared[len(s.built)]
	}
	s.built = append(s.built, a)
	return a
}

type fakeTagger struct {
	tagged   []string
	errs     map[string]error
	panics   map[string]bool
	sawCover []bool
}

func (f *fakeTagger) Apply(ctx context.Context, song models.Song, dir, name string) error {
	if f.panics[song.Name] {
		panic("tag library exploded")
	}
	_, err := os.Stat(filepath.Join(dir, CoverFileName))
	f.sawCover = append(f.sawCover, err == nil)
	if err := f.errs[song.Name]; err != nil {
		return err
	}
	f.tagged = append(f.tagged, name)
	return nil
}

type fakeCovers struct {
	err error
}

func (f *fakeCovers) Fetch(ctx context.Context, url, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("jpeg"), 0644)
}

type fakeNormalizer struct {
	calls int
	err   error
}

func (f *fakeNormalizer) NormalizeDirectory(ctx context.Context, dir string) error {
	f.calls++
	return f.err
}

type fakeHistory struct {
	started  int
	songs    []SongRecord
	finished bool
	summary  [2]int
	stopped  bool
	err      error
}

func (f *fakeHistory) StartRun(ctx context.Context, playlistID, dir string, total int) (string, error) {
	f.started++
	return "run-1", nil
}

func (f *fakeHistory) RecordSong(ctx context.Context, runID string, rec SongRecord) error {
	f.songs = append(f.songs, rec)
	return f.err
}

func (f *fakeHistory) FinishRun(ctx context.Context, runID string, success, failure int, cancelled bool) error {
	f.finished = true
	f.summary = [2]int{success, failure}
	f.stopped = cancelled
	return f.err
}

type recordingSink struct {
	events []Event
	onEmit func(Event)
}

func (r *recordingSink) Emit(e Event) {
	r.events = append(r.events, e)
	if r.onEmit != nil {
		r.onEmit(e)
	}
}

func (r *recordingSink) ofType(t EventType) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	provider   *tu.MockPlaylistProvider
	resolver   *stubResolver
	acquirers  *acquirerSequence
	tagger     *fakeTagger
	covers     *fakeCovers
	normalizer *fakeNormalizer
	history    *fakeHistory
}

func newHarness(entries ...models.PlaylistEntry) *harness {
	return &harness{
		provider:   &tu.MockPlaylistProvider{Entries: entries},
		resolver:   &stubResolver{links: map[string]string{}},
		acquirers:  &acquirerSequence{},
		tagger:     &fakeTagger{errs: map[string]error{}, panics: map[string]bool{}},
		covers:     &fakeCovers{},
		normalizer: &fakeNormalizer{},
		history:    &fakeHistory{},
	}
}

func (h *harness) engine(t *testing.T) *SyncEngine {
	t.Helper()
	e, err := NewSyncEngine(EngineOpts{
		Provider:    h.provider,
		Resolver:    h.resolver,
		NewAcquirer: h.acquirers.factory,
		Tagger:      h.tagger,
		Covers:      h.covers,
		Normalizer:  h.normalizer,
		History:     h.history,
		Logger:      log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestSyncEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("NewSyncEngine requires collaborators", func(t *testing.T) {
		_, err := NewSyncEngine(EngineOpts{})
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("skips songs already on disk", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "A.mp3"), "existing")

		h := newHarness(tu.Entry("A", "Artist", 200000), tu.Entry("B", "Artist", 180000))
		sink := &recordingSink{}

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, sink, NewStopToken())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Fetched != 2 || result.Skipped != 1 || result.Total != 1 {
			t.Errorf("unexpected counts: %+v", result)
		}
		if len(h.resolver.calls) != 1 || h.resolver.calls[0] != "B" {
			t.Errorf("expected only B to be resolved, got %v", h.resolver.calls)
		}

		titles := sink.ofType(EventSongTitle)
		if len(titles) != 1 || titles[0].Title != "B by Artist" {
			t.Errorf("expected one song_title for B, got %+v", titles)
		}

		progress := sink.ofType(EventProgress)
		if len(progress) != 1 {
			t.Fatalf("expected one progress event, got %d", len(progress))
		}
		if got := progress[0].Progress; got != (Progress{Completed: 1, Total: 1, Success: 1, Failure: 0}) {
			t.Errorf("unexpected progress %+v", got)
		}
		if len(sink.ofType(EventComplete)) != 1 {
			t.Error("expected one download_complete")
		}
		if last := sink.events[len(sink.events)-1]; last.Type != EventComplete {
			t.Errorf("expected download_complete last, got %s", last.Type)
		}

		tu.AssertFileExists(t, filepath.Join(dir, "B.mp3"))
		if tu.MustReadFile(t, filepath.Join(dir, "A.mp3")) != "existing" {
			t.Error("existing file should not be touched")
		}
	})

	t.Run("skip matching ignores case and separators", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "song title_1.mp3"), "existing")

		h := newHarness(tu.Entry("Song - Title 1", "Artist", 1000))
		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Total != 0 || result.Skipped != 1 {
			t.Errorf("expected the song to be skipped, got %+v", result)
		}
	})

	t.Run("exit after the first of three songs", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000), tu.Entry("Three", "X", 1000))

		stop := NewStopToken()
		sink := &recordingSink{onEmit: func(e Event) {
			if e.Type == EventProgress && e.Progress.Completed == 1 {
				stop.Exit()
			}
		}}

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir, Normalize: true}, sink, stop)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if !result.Cancelled {
			t.Error("expected run to be cancelled")
		}
		if result.Success != 1 {
			t.Errorf("expected 1 success, got %d", result.Success)
		}

		wantTypes := []EventType{EventSongTitle, EventProgress, EventETA}
		if len(sink.events) != len(wantTypes) {
			t.Fatalf("expected %d events, got %+v", len(wantTypes), sink.events)
		}
		for i, want := range wantTypes {
			if sink.events[i].Type != want {
				t.Errorf("event %d: expected %s, got %s", i, want, sink.events[i].Type)
			}
		}

		tu.AssertFileExists(t, filepath.Join(dir, "One.mp3"))
		tu.AssertFileNotExists(t, filepath.Join(dir, "Two.mp3"))
		tu.AssertFileNotExists(t, filepath.Join(dir, "Three.mp3"))

		if h.normalizer.calls != 0 {
			t.Error("normalization should not run after EXIT")
		}
		if !h.history.finished || !h.history.stopped {
			t.Error("expected history to record a cancelled run")
		}
	})

	t.Run("cancelled context stops between songs", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000))

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		sink := &recordingSink{onEmit: func(e Event) {
			if e.Type == EventSongTitle {
				cancel()
			}
		}}

		result, err := h.engine(t).Run(cctx, SyncRequest{PlaylistID: "pl", Directory: dir}, sink, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !result.Cancelled || len(sink.ofType(EventSongTitle)) != 1 {
			t.Errorf("expected run to stop after the first song, got %+v", result)
		}
		if len(sink.ofType(EventComplete)) != 0 {
			t.Error("download_complete should not be emitted")
		}
	})

	t.Run("rate limit retries once with a fresh acquirer", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000))
		first := &fakeAcquirer{outcomes: []Outcome{RateLimited}}
		fresh := &fakeAcquirer{}
		h.acquirers.prepared = []*fakeAcquirer{first, fresh}

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Success != 2 || result.Failed != 0 {
			t.Errorf("expected both songs to succeed, got %+v", result)
		}
		if len(h.acquirers.built) != 2 {
			t.Errorf("expected exactly one fresh acquirer, built %d", len(h.acquirers.built))
		}
		if first.calls != 1 {
			t.Errorf("expected the throttled acquirer to be used once, got %d", first.calls)
		}
		if fresh.calls != 2 {
			t.Errorf("expected the fresh acquirer to serve the retry and the next song, got %d", fresh.calls)
		}
	})

	t.Run("second rate limit fails the song", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000))
		h.acquirers.prepared = []*fakeAcquirer{
			{outcomes: []Outcome{RateLimited}},
			{outcomes: []Outcome{RateLimited}},
		}

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Failed != 1 || result.Success != 1 {
			t.Fatalf("expected one failure then one success, got %+v", result)
		}
		if !errors.Is(result.Failures[0].Err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", result.Failures[0].Err)
		}
		if len(h.acquirers.built) != 2 {
			t.Errorf("expected one retry only, built %d acquirers", len(h.acquirers.built))
		}
	})

	t.Run("per-song failures are counted", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(
			models.PlaylistEntry{},
			tu.Entry("Unresolved", "X", 1000),
			tu.Entry("Exhausted", "X", 1000),
			tu.Entry("BadTag", "X", 1000),
			tu.Entry("Panics", "X", 1000),
			tu.Entry("Fine", "X", 1000),
		)
		h.resolver.links["Unresolved"] = ""
		h.acquirers.prepared = []*fakeAcquirer{{outcomes: []Outcome{Exhausted}}}
		h.tagger.errs["BadTag"] = shared.ErrTagWrite
		h.tagger.panics["Panics"] = true
		sink := &recordingSink{}

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, sink, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Success != 1 || result.Failed != 5 {
			t.Fatalf("expected 1 success and 5 failures, got %+v", result)
		}

		wantErrs := []error{
			shared.ErrMalformedEntry,
			shared.ErrUnresolvedLink,
			shared.ErrAcquisitionExhausted,
			shared.ErrTagWrite,
		}
		for i, want := range wantErrs {
			if !errors.Is(result.Failures[i].Err, want) {
				t.Errorf("failure %d: expected %v, got %v", i, want, result.Failures[i].Err)
			}
		}
		if result.Failures[4].Name != "Panics" {
			t.Errorf("expected panic to be recorded for Panics, got %+v", result.Failures[4])
		}

		if len(sink.ofType(EventSongTitle)) != 5 {
			t.Errorf("malformed entry should not emit song_title, got %d titles", len(sink.ofType(EventSongTitle)))
		}
		progress := sink.ofType(EventProgress)
		if len(progress) != 6 {
			t.Fatalf("expected progress after every song, got %d", len(progress))
		}
		if got := progress[5].Progress; got != (Progress{Completed: 6, Total: 6, Success: 1, Failure: 5}) {
			t.Errorf("unexpected final progress %+v", got)
		}

		tu.AssertFileNotExists(t, filepath.Join(dir, CoverFileName))
		if len(h.history.songs) != 6 {
			t.Errorf("expected every song to be recorded, got %d", len(h.history.songs))
		}
	})

	t.Run("cover is staged for the tagger", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000))

		if _, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(h.tagger.sawCover) != 1 || !h.tagger.sawCover[0] {
			t.Error("expected cover_photo.jpg to exist while tagging")
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, CoverFileName))
	})

	t.Run("cover failure is not fatal", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000))
		h.covers.err = errors.New("cdn down")

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Success != 1 {
			t.Errorf("expected success without cover, got %+v", result)
		}
	})

	t.Run("limit and pagination", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000), tu.Entry("Three", "X", 1000))
		h.provider.PageSize = 1

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir, Limit: 2}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Fetched != 3 || result.Total != 2 {
			t.Errorf("expected 3 fetched and 2 processed, got %+v", result)
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, "Three.mp3"))
	})

	t.Run("normalization runs after a complete run", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000))
		h.normalizer.err = errors.New("ffmpeg crashed")
		sink := &recordingSink{}

		_, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir, Normalize: true}, sink, nil)
		if err != nil {
			t.Fatalf("normalization errors should not be fatal, got %v", err)
		}
		if h.normalizer.calls != 1 {
			t.Errorf("expected one normalization, got %d", h.normalizer.calls)
		}
		if len(sink.ofType(EventComplete)) != 1 {
			t.Error("expected download_complete after normalization")
		}
	})

	t.Run("history", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(tu.Entry("One", "X", 1000), tu.Entry("Two", "X", 1000))
		h.resolver.links["Two"] = ""
		h.history.err = errors.New("disk full")

		result, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: dir}, nil, nil)
		if err != nil {
			t.Fatalf("recorder errors should be ignored, got %v", err)
		}
		if result.RunID != "run-1" {
			t.Errorf("expected run ID from recorder, got %q", result.RunID)
		}
		if h.history.summary != [2]int{1, 1} || h.history.stopped {
			t.Errorf("unexpected run summary %v cancelled=%v", h.history.summary, h.history.stopped)
		}
		if h.history.songs[0].Link == "" || h.history.songs[0].FileName != "One.mp3" {
			t.Errorf("unexpected song record %+v", h.history.songs[0])
		}
		if !errors.Is(h.history.songs[1].Err, shared.ErrUnresolvedLink) {
			t.Errorf("expected failure to be recorded, got %v", h.history.songs[1].Err)
		}
	})

	t.Run("fatal errors", func(t *testing.T) {
		t.Run("playlist fetch", func(t *testing.T) {
			h := newHarness()
			h.provider.Err = shared.ErrPlaylistNotFound
			sink := &recordingSink{}

			_, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: t.TempDir()}, sink, nil)
			if !errors.Is(err, shared.ErrPlaylistNotFound) {
				t.Errorf("expected ErrPlaylistNotFound, got %v", err)
			}
			if len(sink.events) != 0 {
				t.Errorf("expected no events, got %d", len(sink.events))
			}
		})

		t.Run("directory", func(t *testing.T) {
			parent := t.TempDir()
			file := filepath.Join(parent, "file")
			tu.MustWriteFile(t, file, "")

			h := newHarness(tu.Entry("One", "X", 1000))
			_, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl", Directory: filepath.Join(file, "sub")}, nil, nil)
			if err == nil {
				t.Error("expected error creating directory under a file")
			}
		})

		t.Run("missing directory argument", func(t *testing.T) {
			h := newHarness()
			_, err := h.engine(t).Run(ctx, SyncRequest{PlaylistID: "pl"}, nil, nil)
			if !errors.Is(err, shared.ErrMissingArgument) {
				t.Errorf("expected ErrMissingArgument, got %v", err)
			}
		})
	})
}

func TestLocalLibrary(t *testing.T) {
	dir := t.TempDir()
	tu.MustWriteFile(t, filepath.Join(dir, "My Song.mp3"), "")
	tu.MustWriteFile(t, filepath.Join(dir, "notes"), "")
	if err := os.Mkdir(filepath.Join(dir, "Folder Song"), 0755); err != nil {
		t.Fatal(err)
	}

	existing, err := LocalLibrary(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, name := range []string{"mysong", "notes"} {
		if _, ok := existing[name]; !ok {
			t.Errorf("expected %q in library", name)
		}
	}
	if _, ok := existing["foldersong"]; ok {
		t.Error("directories should not be part of the library")
	}

	if _, err := LocalLibrary(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFilterPending(t *testing.T) {
	entries := []models.PlaylistEntry{
		tu.Entry("Keep Me", "X", 1),
		tu.Entry("Skip-Me", "X", 1),
		{},
		tu.Entry("Also Keep", "X", 1),
	}
	existing := map[string]struct{}{"skipme": {}}

	pending := FilterPending(entries, existing)
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(pending))
	}
	if pending[0].Name() != "Keep Me" || pending[1].Track != nil || pending[2].Name() != "Also Keep" {
		t.Errorf("unexpected order: %+v", pending)
	}
}
