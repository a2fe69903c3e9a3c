// Package postgres is a PostgreSQL storage.Repository with a native change feed
// based on LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
	"github.com/slok/satdl/internal/storage/postgres/migrations"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// RepositoryConfig is the configuration for the PostgreSQL repository.
type RepositoryConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	Logger          log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Postgres"})
	return nil
}

// Repository is a PostgreSQL implementation of storage.Repository.
type Repository struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

var (
	_ storage.Repository = &Repository{}
	_ storage.ChangeFeed = &Repository{}
)

// NewRepository connects to PostgreSQL and runs the migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "satdl"

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	version, err := migrations.Up(stdlib.OpenDBFromPool(pool))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("PostgreSQL repository initialized with schema version %d", version)

	return &Repository{pool: pool, logger: cfg.Logger}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

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

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query, jobArgs(j)...)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("job already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert job: %w", err)
	}

	r.logger.Debugf("Created job in repository: %s", j.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
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

// UpdateJob atomically applies a mutation to a job, the row is locked until commit.
func (r *Repository) UpdateJob(ctx context.Context, id string, mutate storage.JobMutation) (*model.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
			owner_id = $2,
			tax_id = $3,
			start_date = $4,
			end_date = $5,
			status = $6,
			total_files = $7,
			downloaded_files = $8,
			error_message = $9,
			artifact_path = $10,
			created_at = $11,
			updated_at = $12
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, jobArgs(j)...); err != nil {
		if pgErrCode(err) == pgCheckViolation {
			return nil, fmt.Errorf("invalid job: %w", model.ErrNotValid)
		}
		return nil, fmt.Errorf("could not update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Updated job in repository: %s", id)
	return &j, nil
}

// DeleteJob deletes a job, its captcha sessions are removed in cascade.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("could not delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted job from repository: %s", id)
	return nil
}

func jobArgs(j model.Job) []any {
	return []any{
		j.ID,
		j.OwnerID,
		j.TaxID,
		j.Range.Start,
		j.Range.End,
		string(j.Status),
		j.TotalFiles,
		j.DownloadedFiles,
		j.ErrorMessage,
		j.ArtifactPath,
		j.CreatedAt,
		j.UpdatedAt,
	}
}

func scanJob(row pgx.Row) (model.Job, error) {
	var j model.Job
	var status string

	err := row.Scan(
		&j.ID,
		&j.OwnerID,
		&j.TaxID,
		&j.Range.Start,
		&j.Range.End,
		&status,
		&j.TotalFiles,
		&j.DownloadedFiles,
		&j.ErrorMessage,
		&j.ArtifactPath,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.Status = model.JobStatus(status)
	j.Range.Start = j.Range.Start.UTC()
	j.Range.End = j.Range.End.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	return j, nil
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
