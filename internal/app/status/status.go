package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves the status of a job.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	OwnerID string
	JobID   string
}

// Response is the status of a job.
type Response struct {
	Job model.Job
	// CaptchaSessionID is the challenge waiting for resolution of suspended jobs.
	CaptchaSessionID string
}

// Run retrieves the status of a job of the owner.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	s.logger.Debugf("getting status for job: %s", req.JobID)

	j, err := job.GetOwned(ctx, s.repo, req.OwnerID, req.JobID)
	if err != nil {
		return nil, err
	}

	resp := &Response{Job: *j}
	if j.Status != model.JobStatusCaptchaRequired {
		return resp, nil
	}

	cs, err := s.repo.GetActiveCaptchaSession(ctx, j.ID)
	switch {
	case err == nil:
		resp.CaptchaSessionID = cs.ID
	case errors.Is(err, model.ErrNotFound):
		s.logger.Warningf("Job %s waits for a captcha without active session", j.ID)
	default:
		return nil, fmt.Errorf("could not get captcha session: %w", err)
	}

	return resp, nil
}
