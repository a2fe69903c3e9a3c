package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/slok/satdl/internal/model"
)

// CreateCaptchaSession stores a session superseding any unresolved one of the same job.
func (r *Repository) CreateCaptchaSession(ctx context.Context, s model.CaptchaSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid captcha session: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM captcha_sessions WHERE job_id = $1 AND NOT resolved`, s.JobID)
	if err != nil {
		return fmt.Errorf("could not supersede captcha sessions: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Debugf("Superseded %d captcha sessions of job %s", n, s.JobID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO captcha_sessions (id, job_id, image, resolved, created_at) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.JobID, s.Image, s.Resolved, s.CreatedAt,
	)
	if err != nil {
		switch pgErrCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("captcha session already exists: %w", model.ErrAlreadyExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("job %s: %w", s.JobID, model.ErrNotFound)
		}
		return fmt.Errorf("could not insert captcha session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created captcha session in repository: %s", s.ID)
	return nil
}

// GetCaptchaSession retrieves a captcha session by ID.
func (r *Repository) GetCaptchaSession(ctx context.Context, id string) (*model.CaptchaSession, error) {
	query := `SELECT id, job_id, image, resolved, created_at FROM captcha_sessions WHERE id = $1`

	s, err := scanCaptcha(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("captcha session %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query captcha session: %w", err)
	}

	return &s, nil
}

// GetActiveCaptchaSession retrieves the unresolved captcha session of a job.
func (r *Repository) GetActiveCaptchaSession(ctx context.Context, jobID string) (*model.CaptchaSession, error) {
	query := `SELECT id, job_id, image, resolved, created_at FROM captcha_sessions WHERE job_id = $1 AND NOT resolved`

	s, err := scanCaptcha(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active captcha session for job %s: %w", jobID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query captcha session: %w", err)
	}

	return &s, nil
}

// ResolveCaptchaSession marks a captcha session as resolved.
func (r *Repository) ResolveCaptchaSession(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE captcha_sessions SET resolved = TRUE WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("could not resolve captcha session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Debugf("Resolved captcha session: %s", id)
		return nil
	}

	// Distinguish missing from already resolved.
	if _, err := r.GetCaptchaSession(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("captcha session %s already resolved: %w", id, model.ErrNotValid)
}

func scanCaptcha(row pgx.Row) (model.CaptchaSession, error) {
	var s model.CaptchaSession
	err := row.Scan(&s.ID, &s.JobID, &s.Image, &s.Resolved, &s.CreatedAt)
	if err != nil {
		return model.CaptchaSession{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
