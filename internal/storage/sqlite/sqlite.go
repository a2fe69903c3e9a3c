package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
	"github.com/slok/satdl/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Single writer, read-modify-write transactions must not race each other.
	db.SetMaxOpenConns(1)

	version, err := migrations.Up(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s with schema version %d", cfg.DBPath, version)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

const jobColumns = `
	id, owner_id, tax_id,
	start_date, end_date,
	status, total_files, downloaded_files,
	error_message, artifact_path,
	created_at, updated_at
`

// CreateJob creates a new job in the repository.
func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, jobArgs(j)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: jobs.") {
			return fmt.Errorf("job already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert job: %w", err)
	}

	r.logger.Debugf("Created job in repository: %s", j.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query job: %w", err)
	}

	return &j, nil
}

// ListJobs returns the jobs of an owner, all of them if owner is empty.
func (r *Repository) ListJobs(ctx context.Context, ownerID string) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

// UpdateJob atomically applies a mutation to a job.
func (r *Repository) UpdateJob(ctx context.Context, id string, mutate storage.JobMutation) (*model.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	j, err := scanJob(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query job: %w", err)
	}

	if err := mutate(&j); err != nil {
		return nil, err
	}
	if j.ID != id {
		return nil, fmt.Errorf("job id can't be changed: %w", model.ErrNotValid)
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	j.UpdatedAt = time.Now().UTC()

	update := `
		UPDATE jobs
		SET
			owner_id = ?,
			tax_id = ?,
			start_date = ?,
			end_date = ?,
			status = ?,
			total_files = ?,
			downloaded_files = ?,
			error_message = ?,
			artifact_path = ?,
			created_at = ?,
			updated_at = ?
		WHERE id = ?
	`
	args := append(jobArgs(j)[1:], id)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("could not update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Updated job in repository: %s", id)
	return &j, nil
}

// DeleteJob deletes a job, its captcha sessions are removed in cascade.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted job from repository: %s", id)
	return nil
}

func jobArgs(j model.Job) []any {
	var total *int64
	if j.TotalFiles != nil {
		t := int64(*j.TotalFiles)
		total = &t
	}

	return []any{
		j.ID,
		j.OwnerID,
		j.TaxID,
		j.Range.Start.Format(model.DateLayout),
		j.Range.End.Format(model.DateLayout),
		string(j.Status),
		total,
		j.DownloadedFiles,
		j.ErrorMessage,
		j.ArtifactPath,
		j.CreatedAt.UnixNano(),
		j.UpdatedAt.UnixNano(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (model.Job, error) {
	var j model.Job
	var startDate, endDate, status string
	var total sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&j.ID,
		&j.OwnerID,
		&j.TaxID,
		&startDate,
		&endDate,
		&status,
		&total,
		&j.DownloadedFiles,
		&j.ErrorMessage,
		&j.ArtifactPath,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.Status = model.JobStatus(status)
	if total.Valid {
		j.TotalFiles = model.IntPtr(int(total.Int64))
	}

	j.Range.Start, err = time.Parse(model.DateLayout, startDate)
	if err != nil {
		return model.Job{}, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	j.Range.End, err = time.Parse(model.DateLayout, endDate)
	if err != nil {
		return model.Job{}, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}

	j.CreatedAt = timeFromUnixNano(createdAt)
	j.UpdatedAt = timeFromUnixNano(updatedAt)

	return j, nil
}

func timeFromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
