package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const runColumns = `id, sequence, playlist_id, directory, started_at, finished_at, total, success, failure, cancelled`

// RunRepository implements models.Repository[*models.Run] for sync run history.
type RunRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.Run] = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new [models.Run] with a generated ID and sequence
func (r *RunRepository) Create(run *models.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "runs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		run.PlaylistID(),
		run.Directory(),
		run.StartedAt(),
		nullTime(run.FinishedAt()),
		run.Total(),
		run.Success(),
		run.Failure(),
		run.Cancelled(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	run.SetID(id)
	run.SetSequence(sequence)
	return nil
}

// Get retrieves a run by ID
func (r *RunRepository) Get(id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Update writes the run's final counts and finish time
func (r *RunRepository) Update(run *models.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		UPDATE runs
		SET finished_at = ?, total = ?, success = ?, failure = ?, cancelled = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		nullTime(run.FinishedAt()),
		run.Total(),
		run.Success(),
		run.Failure(),
		run.Cancelled(),
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrRunNotFound, run.ID())
	}

	return nil
}

// Delete removes a run. Its downloads go with it via ON DELETE CASCADE.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrRunNotFound, id)
	}

	return nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns every run.
func (r *RunRepository) List(limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY sequence DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		id         string
		sequence   int
		playlistID string
		directory  string
		startedAt  time.Time
		finishedAt sql.NullTime
		total      int
		success    int
		failure    int
		cancelled  bool
	)

	err := row.Scan(&id, &sequence, &playlistID, &directory, &startedAt, &finishedAt, &total, &success, &failure, &cancelled)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	var finished *time.Time
	if finishedAt.Valid {
		finished = &finishedAt.Time
	}

	return models.RestoreRun(id, sequence, playlistID, directory, startedAt, finished, total, success, failure, cancelled), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
