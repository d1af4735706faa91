// package formatter renders sync run history as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

// Format names accepted by [Render].
const (
	FormatText     = "text"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// RunReport is a run together with its per-song outcomes.
type RunReport struct {
	Run       *models.Run
	Downloads []*models.Download
}

// Failures returns the downloads that did not succeed.
func (r RunReport) Failures() []*models.Download {
	var failed []*models.Download
	for _, d := range r.Downloads {
		if d.Status() == models.StatusFailed {
			failed = append(failed, d)
		}
	}
	return failed
}

// Render dispatches to the renderer for format.
func Render(report RunReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return RunToText(report)
	case FormatCSV:
		return RunToCSV(report)
	case FormatMarkdown, "markdown":
		return RunToMarkdown(report)
	case FormatJSON:
		return RunToJSON(report)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// RunToCSV converts a run's downloads to CSV with columns: Name, Artist, Album, File, Link, Status, Error
func RunToCSV(report RunReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Name", "Artist", "Album", "File", "Link", "Status", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, d := range report.Downloads {
		song := d.Song()
		record := []string{
			song.Name,
			song.Artist,
			song.Album,
			d.FileName(),
			d.Link(),
			string(d.Status()),
			d.Error(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RunToMarkdown converts a run to a Markdown summary with a table of songs
func RunToMarkdown(report RunReport) ([]byte, error) {
	if report.Run == nil {
		return nil, fmt.Errorf("%w: run is required", shared.ErrMissingArgument)
	}

	var buf bytes.Buffer
	run := report.Run

	fmt.Fprintf(&buf, "# Run %d\n\n", run.Sequence())
	fmt.Fprintf(&buf, "**Playlist**: %s\n", run.PlaylistID())
	fmt.Fprintf(&buf, "**Directory**: `%s`\n", run.Directory())
	fmt.Fprintf(&buf, "**Started**: %s\n", run.StartedAt().Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Status**: %s\n", run.Status())
	fmt.Fprintf(&buf, "**Result**: %d succeeded, %d failed of %d\n\n", run.Success(), run.Failure(), run.Total())

	if len(report.Downloads) == 0 {
		return buf.Bytes(), nil
	}

	buf.WriteString("## Songs\n\n")
	buf.WriteString("| # | Song | Artist | Status | Detail |\n")
	buf.WriteString("|---|------|--------|--------|--------|\n")
	for i, d := range report.Downloads {
		detail := d.Link()
		if d.Status() == models.StatusFailed {
			detail = d.Error()
		}
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s |\n",
			i+1, escapeCell(d.Song().Name), escapeCell(d.Song().Artist), d.Status(), escapeCell(detail))
	}

	return buf.Bytes(), nil
}

// RunToText converts a run to plain text, listing failures with their reasons
func RunToText(report RunReport) ([]byte, error) {
	if report.Run == nil {
		return nil, fmt.Errorf("%w: run is required", shared.ErrMissingArgument)
	}

	var buf bytes.Buffer
	run := report.Run

	fmt.Fprintf(&buf, "Run: %s (#%d)\n", run.ID(), run.Sequence())
	fmt.Fprintf(&buf, "Playlist: %s\n", run.PlaylistID())
	fmt.Fprintf(&buf, "Directory: %s\n", run.Directory())
	fmt.Fprintf(&buf, "Started: %s\n", run.StartedAt().Local().Format(time.DateTime))
	if finished := run.FinishedAt(); finished != nil {
		fmt.Fprintf(&buf, "Duration: %s\n", finished.Sub(run.StartedAt()).Round(time.Second))
	}
	fmt.Fprintf(&buf, "Status: %s\n", run.Status())
	fmt.Fprintf(&buf, "Result: %d succeeded, %d failed of %d\n", run.Success(), run.Failure(), run.Total())

	if len(report.Downloads) > 0 {
		buf.WriteString("\n")
	}
	for i, d := range report.Downloads {
		mark := "ok"
		if d.Status() == models.StatusFailed {
			mark = "failed"
		}
		fmt.Fprintf(&buf, "%d. [%s] %s\n", i+1, mark, d.Song().Title())
		if d.Error() != "" {
			fmt.Fprintf(&buf, "   %s\n", d.Error())
		}
	}

	return buf.Bytes(), nil
}

type downloadJSON struct {
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	FileName string `json:"file_name"`
	Link     string `json:"link,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type runJSON struct {
	ID         string         `json:"id"`
	Sequence   int            `json:"sequence"`
	PlaylistID string         `json:"playlist_id"`
	Directory  string         `json:"directory"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     string         `json:"status"`
	Total      int            `json:"total"`
	Success    int            `json:"success"`
	Failure    int            `json:"failure"`
	Downloads  []downloadJSON `json:"downloads"`
}

// RunToJSON converts a run and its downloads to indented JSON
func RunToJSON(report RunReport) ([]byte, error) {
	if report.Run == nil {
		return nil, fmt.Errorf("%w: run is required", shared.ErrMissingArgument)
	}

	run := report.Run
	out := runJSON{
		ID:         run.ID(),
		Sequence:   run.Sequence(),
		PlaylistID: run.PlaylistID(),
		Directory:  run.Directory(),
		StartedAt:  run.StartedAt(),
		FinishedAt: run.FinishedAt(),
		Status:     run.Status(),
		Total:      run.Total(),
		Success:    run.Success(),
		Failure:    run.Failure(),
		Downloads:  make([]downloadJSON, 0, len(report.Downloads)),
	}
	for _, d := range report.Downloads {
		out.Downloads = append(out.Downloads, downloadJSON{
			Name:     d.Song().Name,
			Artist:   d.Song().Artist,
			Album:    d.Song().Album,
			FileName: d.FileName(),
			Link:     d.Link(),
			Status:   string(d.Status()),
			Error:    d.Error(),
		})
	}

	return shared.MarshalJSON(out, true)
}

// WriteReport renders report in format to w.
func WriteReport(w io.Writer, report RunReport, format string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteReportFile renders report in format to path.
//
// An empty path defaults to run_{sequence}.{ext}.
func WriteReportFile(report RunReport, format, path string) (string, error) {
	data, err := Render(report, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		ext := strings.ToLower(format)
		if ext == "" || ext == FormatText {
			ext = "txt"
		}
		path = fmt.Sprintf("run_%d.%s", report.Run.Sequence(), ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
