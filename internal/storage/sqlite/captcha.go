package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/satdl/internal/model"
)

// CreateCaptchaSession stores a session superseding any unresolved one of the same job.
func (r *Repository) CreateCaptchaSession(ctx context.Context, s model.CaptchaSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid captcha session: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	res, err := tx.ExecContext(ctx, `DELETE FROM captcha_sessions WHERE job_id = ? AND resolved = 0`, s.JobID)
	if err != nil {
		return fmt.Errorf("could not supersede captcha sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Debugf("Superseded %d captcha sessions of job %s", n, s.JobID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO captcha_sessions (id, job_id, image, resolved, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.JobID, s.Image, s.Resolved, s.CreatedAt.UnixNano(),
	)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "UNIQUE constraint failed"):
			return fmt.Errorf("captcha session already exists: %w", model.ErrAlreadyExists)
		case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
			return fmt.Errorf("job %s: %w", s.JobID, model.ErrNotFound)
		}
		return fmt.Errorf("could not insert captcha session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created captcha session in repository: %s", s.ID)
	return nil
}

// GetCaptchaSession retrieves a captcha session by ID.
func (r *Repository) GetCaptchaSession(ctx context.Context, id string) (*model.CaptchaSession, error) {
	query := `SELECT id, job_id, image, resolved, created_at FROM captcha_sessions WHERE id = ?`

	s, err := scanCaptcha(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("captcha session %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query captcha session: %w", err)
	}

	return &s, nil
}

// GetActiveCaptchaSession retrieves the unresolved captcha session of a job.
func (r *Repository) GetActiveCaptchaSession(ctx context.Context, jobID string) (*model.CaptchaSession, error) {
	query := `SELECT id, job_id, image, resolved, created_at FROM captcha_sessions WHERE job_id = ? AND resolved = 0`

	s, err := scanCaptcha(r.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active captcha session for job %s: %w", jobID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query captcha session: %w", err)
	}

	return &s, nil
}

// ResolveCaptchaSession marks a captcha session as resolved.
func (r *Repository) ResolveCaptchaSession(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE captcha_sessions SET resolved = 1 WHERE id = ? AND resolved = 0`, id)
	if err != nil {
		return fmt.Errorf("could not update captcha session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetCaptchaSession(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("captcha session %s already resolved: %w", id, model.ErrNotValid)
	}

	r.logger.Debugf("Resolved captcha session: %s", id)
	return nil
}

func scanCaptcha(s scanner) (model.CaptchaSession, error) {
	var c model.CaptchaSession
	var createdAt int64

	if err := s.Scan(&c.ID, &c.JobID, &c.Image, &c.Resolved, &createdAt); err != nil {
		return model.CaptchaSession{}, err
	}
	c.CreatedAt = timeFromUnixNano(createdAt)

	return c, nil
}
