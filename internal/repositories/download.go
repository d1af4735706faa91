package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

// DownloadRepository persists per-song outcomes belonging to a run.
type DownloadRepository struct {
	db *sql.DB
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// Create inserts a new [models.Download] with a generated ID
func (r *DownloadRepository) Create(download *models.Download) error {
	if err := download.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	id := shared.GenerateID()
	song := download.Song()

	query := `
		INSERT INTO downloads (id, run_id, name, artist, album, file_name, link, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		id,
		download.RunID(),
		song.Name,
		song.Artist,
		song.Album,
		download.FileName(),
		download.Link(),
		string(download.Status()),
		download.Error(),
		download.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert download: %w", err)
	}

	download.SetID(id)
	return nil
}

// ListByRun returns a run's downloads in the order they were recorded
func (r *DownloadRepository) ListByRun(runID string) ([]*models.Download, error) {
	query := `
		SELECT id, run_id, name, artist, album, file_name, link, status, error, created_at
		FROM downloads
		WHERE run_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*models.Download
	for rows.Next() {
		var (
			id        string
			run       string
			song      models.Song
			fileName  string
			link      string
			status    string
			errText   string
			createdAt time.Time
		)

		err := rows.Scan(&id, &run, &song.Name, &song.Artist, &song.Album, &fileName, &link, &status, &errText, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}

		downloads = append(downloads, models.RestoreDownload(id, run, song, fileName, link, models.DownloadStatus(status), errText, createdAt))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return downloads, nil
}

// Delete removes a single download by ID
func (r *DownloadRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("download not found: %s", id)
	}

	return nil
}
