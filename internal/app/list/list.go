package list

import (
	"context"
	"fmt"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Repository storage.JobRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.List"})

	return nil
}

// Service lists the jobs of an owner with optional filtering.
type Service struct {
	repo   storage.JobRepository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	OwnerID string
	// StatusFilter is an optional filter to only show jobs with this status.
	StatusFilter *model.JobStatus
}

// Run lists the jobs of the owner, newest first, optionally filtered by status.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Job, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner is required: %w", model.ErrNotValid)
	}
	s.logger.Debugf("listing jobs of %s with filter: %v", req.OwnerID, req.StatusFilter)

	jobs, err := s.repo.ListJobs(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}

	// Apply status filter if provided
	if req.StatusFilter != nil {
		filtered := make([]model.Job, 0, len(jobs))
		for _, j := range jobs {
			if j.Status == *req.StatusFilter {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	s.logger.Debugf("found %d jobs", len(jobs))
	return jobs, nil
}
