package models

import (
	"fmt"
	"time"
)

// DownloadStatus is the terminal outcome of one song.
type DownloadStatus string

const (
	StatusSucceeded DownloadStatus = "succeeded"
	StatusFailed    DownloadStatus = "failed"
)

// Run is one invocation of the synchronization pipeline.
type Run struct {
	id         string
	sequence   int
	playlistID string
	directory  string
	startedAt  time.Time
	finishedAt *time.Time
	total      int
	success    int
	failure    int
	cancelled  bool
}

var _ Model = (*Run)(nil)

// NewRun creates an unfinished run starting now.
func NewRun(playlistID, directory string, total int) *Run {
	return &Run{
		playlistID: playlistID,
		directory:  directory,
		total:      total,
		startedAt:  time.Now().UTC(),
	}
}

// RestoreRun rebuilds a run from stored columns.
func RestoreRun(id string, sequence int, playlistID, directory string, startedAt time.Time, finishedAt *time.Time, total, success, failure int, cancelled bool) *Run {
	return &Run{
		id: id, sequence: sequence, playlistID: playlistID, directory: directory,
		startedAt: startedAt, finishedAt: finishedAt,
		total: total, success: success, failure: failure, cancelled: cancelled,
	}
}

func (r *Run) ID() string               { return r.id }
func (r *Run) Sequence() int            { return r.sequence }
func (r *Run) PlaylistID() string       { return r.playlistID }
func (r *Run) Directory() string        { return r.directory }
func (r *Run) StartedAt() time.Time     { return r.startedAt }
func (r *Run) CreatedAt() time.Time     { return r.startedAt }
func (r *Run) FinishedAt() *time.Time   { return r.finishedAt }
func (r *Run) Total() int               { return r.total }
func (r *Run) Success() int             { return r.success }
func (r *Run) Failure() int             { return r.failure }
func (r *Run) Cancelled() bool          { return r.cancelled }
func (r *Run) SetID(id string)          { r.id = id }
func (r *Run) SetSequence(sequence int) { r.sequence = sequence }

// Finish records the final counts.
func (r *Run) Finish(success, failure int, cancelled bool) {
	now := time.Now().UTC()
	r.finishedAt = &now
	r.success = success
	r.failure = failure
	r.cancelled = cancelled
}

// Status summarizes the run for listings.
func (r *Run) Status() string {
	switch {
	case r.finishedAt == nil:
		return "running"
	case r.cancelled:
		return "cancelled"
	default:
		return "complete"
	}
}

func (r *Run) Validate() error {
	if r.playlistID == "" {
		return fmt.Errorf("run requires a playlist id")
	}
	if r.directory == "" {
		return fmt.Errorf("run requires a directory")
	}
	if r.success+r.failure > r.total {
		return fmt.Errorf("run counts exceed total: %d+%d > %d", r.success, r.failure, r.total)
	}
	return nil
}

// Download is the outcome of one song within a run.
type Download struct {
	id        string
	runID     string
	song      Song
	fileName  string
	link      string
	status    DownloadStatus
	errText   string
	createdAt time.Time
}

var _ Model = (*Download)(nil)

// NewDownload records a song outcome. A nil err marks the song as succeeded.
func NewDownload(runID string, song Song, fileName, link string, err error) *Download {
	d := &Download{
		runID:     runID,
		song:      song,
		fileName:  fileName,
		link:      link,
		status:    StatusSucceeded,
		createdAt: time.Now().UTC(),
	}
	if err != nil {
		d.status = StatusFailed
		d.errText = err.Error()
	}
	return d
}

// RestoreDownload rebuilds a download from stored columns.
func RestoreDownload(id, runID string, song Song, fileName, link string, status DownloadStatus, errText string, createdAt time.Time) *Download {
	return &Download{
		id: id, runID: runID, song: song, fileName: fileName, link: link,
		status: status, errText: errText, createdAt: createdAt,
	}
}

func (d *Download) ID() string             { return d.id }
func (d *Download) RunID() string          { return d.runID }
func (d *Download) Song() Song             { return d.song }
func (d *Download) FileName() string       { return d.fileName }
func (d *Download) Link() string           { return d.link }
func (d *Download) Status() DownloadStatus { return d.status }
func (d *Download) Error() string          { return d.errText }
func (d *Download) CreatedAt() time.Time   { return d.createdAt }
func (d *Download) SetID(id string)        { d.id = id }

func (d *Download) Validate() error {
	if d.runID == "" {
		return fmt.Errorf("download requires a run id")
	}
	if d.status != StatusSucceeded && d.status != StatusFailed {
		return fmt.Errorf("invalid download status %q", d.status)
	}
	return nil
}
