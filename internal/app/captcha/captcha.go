package captcha

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the captcha service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Captcha"})

	return nil
}

// Service returns the challenge waiting for resolution of a suspended job.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new captcha service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the captcha request parameters.
type Request struct {
	OwnerID string
	JobID   string
}

// Run returns the active challenge of a job of the owner.
func (s *Service) Run(ctx context.Context, req Request) (*model.CaptchaSession, error) {
	j, err := job.GetOwned(ctx, s.repo, req.OwnerID, req.JobID)
	if err != nil {
		return nil, err
	}

	cs, err := s.repo.GetActiveCaptchaSession(ctx, j.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("job %s has no captcha waiting for resolution: %w", j.ID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get captcha session: %w", err)
	}

	return cs, nil
}
