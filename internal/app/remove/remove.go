package remove

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the remove service.
type ServiceConfig struct {
	Repository storage.JobRepository
	Launcher   job.Launcher
	Artifacts  artifact.Store
	// Concurrency is the number of jobs removed at the same time when removing all.
	Concurrency int
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}

	if c.Artifacts == nil {
		return fmt.Errorf("artifact store is required")
	}

	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Remove"})

	return nil
}

// Service removes jobs.
type Service struct {
	repo        storage.JobRepository
	launcher    job.Launcher
	artifacts   artifact.Store
	concurrency int
	logger      log.Logger
}

// NewService creates a new remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:        cfg.Repository,
		launcher:    cfg.Launcher,
		artifacts:   cfg.Artifacts,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}, nil
}

// Request represents the remove request parameters.
type Request struct {
	OwnerID string
	// JobID is the job to remove, ignored when All is set.
	JobID string
	// All removes every job of the owner.
	All bool
}

// Run removes jobs of the owner. Running executions are cancelled before
// their job is removed, and the diagnostic artifacts are removed with them.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Job, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner is required: %w", model.ErrNotValid)
	}

	if !req.All {
		j, err := job.GetOwned(ctx, s.repo, req.OwnerID, req.JobID)
		if err != nil {
			return nil, err
		}
		if err := s.remove(ctx, *j); err != nil {
			return nil, err
		}
		return []model.Job{*j}, nil
	}

	jobs, err := s.repo.ListJobs(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}

	var (
		mu      sync.Mutex
		removed = make([]model.Job, 0, len(jobs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := s.remove(gctx, j); err != nil {
				return err
			}
			mu.Lock()
			removed = append(removed, j)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return removed, err
	}

	s.logger.Infof("removed %d jobs of %s", len(removed), req.OwnerID)
	return removed, nil
}

func (s *Service) remove(ctx context.Context, j model.Job) error {
	if err := s.launcher.Cancel(ctx, j.ID); err != nil {
		return fmt.Errorf("could not cancel job %s: %w", j.ID, err)
	}

	// Delete from repository.
	err := s.repo.DeleteJob(ctx, j.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not delete job %s: %w", j.ID, err)
	}

	if err := s.artifacts.DeletePrefix(ctx, artifact.JobPrefix(j.ID)); err != nil {
		return fmt.Errorf("could not delete artifacts of job %s: %w", j.ID, err)
	}

	s.logger.Infof("removed job: %s", j.ID)
	return nil
}
