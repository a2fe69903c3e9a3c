// Package janitor fails the jobs whose execution was lost, like the ones left
// running by a crashed server.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// LostMessage is the error message of the jobs failed by the janitor.
const LostMessage = "job execution lost"

// ExecutionChecker knows if a job has a live execution in this process.
type ExecutionChecker interface {
	IsRunning(jobID string) bool
}

// Config is the configuration of the janitor.
type Config struct {
	Repository storage.JobRepository
	Executions ExecutionChecker
	// Schedule is a cron spec, "@every 1m" by default.
	Schedule string
	// StaleAfter is the time without updates after which an unattended job is
	// considered lost.
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Executions == nil {
		return fmt.Errorf("execution checker is required")
	}
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "janitor.Janitor"})
	return nil
}

// Janitor periodically sweeps lost jobs.
type Janitor struct {
	repo       storage.JobRepository
	executions ExecutionChecker
	schedule   string
	staleAfter time.Duration
	now        func() time.Time
	logger     log.Logger
}

// New returns a new janitor.
func New(cfg Config) (*Janitor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Janitor{
		repo:       cfg.Repository,
		executions: cfg.Executions,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}, nil
}

// Run sweeps on schedule until the context is done.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(j.schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Errorf("Sweep failed: %s", err)
		}
	})
	if err != nil {
		return fmt.Errorf("could not schedule sweep: %w", err)
	}

	c.Start()
	j.logger.Infof("Janitor started with schedule %q", j.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Infof("Janitor stopped")

	return nil
}

// Sweep fails the unattended jobs that have not been updated for the stale
// period and returns their ids.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	jobs, err := j.repo.ListJobs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}

	limit := j.now().Add(-j.staleAfter)
	var swept []string
	for _, jb := range jobs {
		if !unattended(jb.Status) || jb.UpdatedAt.After(limit) || j.executions.IsRunning(jb.ID) {
			continue
		}

		if err := j.fail(ctx, jb); err != nil {
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, errChanged) {
				continue
			}
			return swept, fmt.Errorf("could not fail job %s: %w", jb.ID, err)
		}
		j.logger.Warningf("Job %s was %s without execution since %s, marked as failed", jb.ID, jb.Status, jb.UpdatedAt.Format(time.RFC3339))
		swept = append(swept, jb.ID)
	}

	return swept, nil
}

var errChanged = errors.New("job changed while sweeping")

// fail moves the job to failed if nothing updated it since it was listed.
// Queued and resuming jobs can only fail from in progress so they go through it.
func (j *Janitor) fail(ctx context.Context, jb model.Job) error {
	seen := jb.UpdatedAt
	unchanged := func(cur *model.Job) error {
		if !cur.UpdatedAt.Equal(seen) {
			return errChanged
		}
		return nil
	}

	if jb.Status != model.JobStatusInProgress {
		cur, err := job.Transition(ctx, j.repo, jb.ID, model.JobStatusInProgress, unchanged)
		if err != nil {
			return err
		}
		seen = cur.UpdatedAt
	}

	_, err := job.Transition(ctx, j.repo, jb.ID, model.JobStatusFailed, func(cur *model.Job) error {
		if err := unchanged(cur); err != nil {
			return err
		}
		cur.ErrorMessage = LostMessage
		return nil
	})
	return err
}

func unattended(s model.JobStatus) bool {
	switch s {
	case model.JobStatusPending, model.JobStatusInProgress, model.JobStatusResuming:
		return true
	}
	return false
}
