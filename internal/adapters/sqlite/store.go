// Package sqlite persists jobs, scene images, models and extracted vectors
// in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/flotsam/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	scene_key    TEXT NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	vector_count INTEGER NOT NULL DEFAULT 0,
	result_url   TEXT NOT NULL DEFAULT '',
	preview_url  TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	started_at   TEXT,
	finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS jobs_scene_key ON jobs (scene_key);
CREATE INDEX IF NOT EXISTS jobs_status_created ON jobs (status, created_at);

CREATE TABLE IF NOT EXISTS images (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT NOT NULL REFERENCES jobs (id),
	image_id     TEXT NOT NULL,
	provider     TEXT NOT NULL DEFAULT '',
	acquired_at  TEXT NOT NULL,
	bbox         TEXT NOT NULL,
	footprint    BLOB,
	crs          INTEGER NOT NULL,
	height       INTEGER NOT NULL,
	width        INTEGER NOT NULL,
	cloud_cover  REAL NOT NULL DEFAULT -1,
	requested_at TEXT NOT NULL DEFAULT '',
	UNIQUE (image_id, acquired_at, bbox)
);

CREATE TABLE IF NOT EXISTS models (
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	bands        TEXT NOT NULL DEFAULT '',
	window_h     INTEGER NOT NULL,
	window_w     INTEGER NOT NULL,
	offset_px    INTEGER NOT NULL,
	padding      INTEGER NOT NULL,
	divisible_by INTEGER NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS vectors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES jobs (id),
	crs         INTEGER NOT NULL,
	pixel_value INTEGER NOT NULL,
	geometry    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS vectors_job ON vectors (job_id);
`

// defaultListLimit caps ListJobs when no limit is given.
const defaultListLimit = 100

// Store implements output.JobRepository.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// SQLite allows one writer; a single connection serialises access.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements output.JobRepository.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreateJob implements output.JobRepository.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, scene_key, model, status, error, note, vector_count,
			result_url, preview_url, created_at, updated_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SceneKey, job.Model, string(job.Status), job.Error, job.Note, job.VectorCount,
		job.ResultURL, job.PreviewURL, formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
		nullTime(job.StartedAt), nullTime(job.FinishedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// UpdateJob implements output.JobRepository.
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, note = ?, vector_count = ?, result_url = ?,
			preview_url = ?, updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(job.Status), job.Error, job.Note, job.VectorCount, job.ResultURL, job.PreviewURL,
		formatTime(job.UpdatedAt), nullTime(job.StartedAt), nullTime(job.FinishedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", job.ID, domain.ErrJobNotFound)
	}
	return nil
}

const jobColumns = `id, scene_key, model, status, error, note, vector_count, result_url,
	preview_url, created_at, updated_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		j                 domain.Job
		status            string
		created, updated  string
		started, finished sql.NullString
	)
	err := row.Scan(&j.ID, &j.SceneKey, &j.Model, &status, &j.Error, &j.Note, &j.VectorCount,
		&j.ResultURL, &j.PreviewURL, &created, &updated, &started, &finished)
	if err != nil {
		return nil, err
	}
	if j.Status, err = domain.ParseJobStatus(status); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseNullTime(started); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob implements output.JobRepository.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job: %w", err)
	}
	return job, nil
}

// ListJobs implements output.JobRepository. An empty status lists all jobs,
// newest first.
func (s *Store) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SceneKnown implements output.JobRepository.
func (s *Store) SceneKnown(ctx context.Context, sceneKey string) (bool, error) {
	var known bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE scene_key = ?)`, sceneKey,
	).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("checking scene: %w", err)
	}
	return known, nil
}

// RecordImage implements output.JobRepository.
func (s *Store) RecordImage(ctx context.Context, jobID string, scene domain.DownloadResponse) error {
	row, err := ImageRowFromScene(jobID, scene)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO images (job_id, image_id, provider, acquired_at, bbox, footprint,
			crs, height, width, cloud_cover, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.JobID, row.ImageID, row.Provider, row.AcquiredAt, row.BBox, row.Footprint,
		row.CRS, row.Height, row.Width, row.CloudCover, row.RequestedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("image %s at %s: %w", row.ImageID, row.AcquiredAt, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}
	return nil
}

// ReleaseImage implements output.JobRepository.
func (s *Store) ReleaseImage(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("releasing image: %w", err)
	}
	return nil
}

// RegisterModel implements output.JobRepository.
func (s *Store) RegisterModel(ctx context.Context, m domain.Model) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO models (name, version, bands, window_h, window_w,
			offset_px, padding, divisible_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Version, joinBands(m.Bands), m.WindowSize.Height, m.WindowSize.Width,
		m.Offset, m.Padding, m.DivisibleBy,
	)
	if err != nil {
		return fmt.Errorf("registering model: %w", err)
	}
	return nil
}

// SaveVectors implements output.JobRepository. All vectors are written in
// one transaction.
func (s *Store) SaveVectors(ctx context.Context, jobID string, vectors []domain.Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (job_id, crs, pixel_value, geometry) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, v := range vectors {
		row, err := VectorRowFromVector(jobID, v)
		if err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, row.JobID, row.CRS, row.PixelValue, row.Geometry); err != nil {
			return fmt.Errorf("inserting vector %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Vectors implements output.JobRepository.
func (s *Store) Vectors(ctx context.Context, jobID string) ([]domain.Vector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT crs, pixel_value, geometry FROM vectors WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("reading vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Vector
	for rows.Next() {
		row := VectorRow{JobID: jobID}
		if err := rows.Scan(&row.CRS, &row.PixelValue, &row.Geometry); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		v, err := row.Vector()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
