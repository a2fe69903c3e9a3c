package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	jobs     map[string]model.Job
	captchas map[string]model.CaptchaSession
	mu       sync.RWMutex
	logger   log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		jobs:     make(map[string]model.Job),
		captchas: make(map[string]model.CaptchaSession),
		logger:   cfg.Logger,
	}, nil
}

// CreateJob creates a new job in the repository.
func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("job with id %s: %w", j.ID, model.ErrAlreadyExists)
	}

	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	r.jobs[j.ID] = copyJob(j)
	r.logger.Debugf("Created job in repository: %s", j.ID)

	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	jobCopy := copyJob(j)
	return &jobCopy, nil
}

// ListJobs returns the jobs of an owner, all of them if owner is empty.
func (r *Repository) ListJobs(ctx context.Context, ownerID string) ([]model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if ownerID != "" && j.OwnerID != ownerID {
			continue
		}
		jobs = append(jobs, copyJob(j))
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// UpdateJob atomically applies a mutation to a job.
func (r *Repository) UpdateJob(ctx context.Context, id string, mutate storage.JobMutation) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	updated := copyJob(current)
	if err := mutate(&updated); err != nil {
		return nil, err
	}
	if updated.ID != id {
		return nil, fmt.Errorf("job id can't be changed: %w", model.ErrNotValid)
	}
	if err := updated.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	updated.UpdatedAt = time.Now().UTC()

	r.jobs[id] = updated
	r.logger.Debugf("Updated job in repository: %s", id)

	res := copyJob(updated)
	return &res, nil
}

// DeleteJob deletes a job and its captcha sessions.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	delete(r.jobs, id)
	for sid, s := range r.captchas {
		if s.JobID == id {
			delete(r.captchas, sid)
		}
	}
	r.logger.Debugf("Deleted job from repository: %s", id)

	return nil
}

// CreateCaptchaSession stores a session superseding any unresolved one of the same job.
func (r *Repository) CreateCaptchaSession(ctx context.Context, s model.CaptchaSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid captcha session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[s.JobID]; !ok {
		return fmt.Errorf("job %s: %w", s.JobID, model.ErrNotFound)
	}
	if _, ok := r.captchas[s.ID]; ok {
		return fmt.Errorf("captcha session with id %s: %w", s.ID, model.ErrAlreadyExists)
	}

	for id, existing := range r.captchas {
		if existing.JobID == s.JobID && !existing.Resolved {
			delete(r.captchas, id)
			r.logger.Debugf("Superseded captcha session %s of job %s", id, s.JobID)
		}
	}

	r.captchas[s.ID] = copyCaptcha(s)
	r.logger.Debugf("Created captcha session in repository: %s", s.ID)

	return nil
}

// GetCaptchaSession retrieves a captcha session by ID.
func (r *Repository) GetCaptchaSession(ctx context.Context, id string) (*model.CaptchaSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.captchas[id]
	if !ok {
		return nil, fmt.Errorf("captcha session %s: %w", id, model.ErrNotFound)
	}

	sCopy := copyCaptcha(s)
	return &sCopy, nil
}

// GetActiveCaptchaSession retrieves the unresolved captcha session of a job.
func (r *Repository) GetActiveCaptchaSession(ctx context.Context, jobID string) (*model.CaptchaSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.captchas {
		if s.JobID == jobID && !s.Resolved {
			sCopy := copyCaptcha(s)
			return &sCopy, nil
		}
	}

	return nil, fmt.Errorf("active captcha session for job %s: %w", jobID, model.ErrNotFound)
}

// ResolveCaptchaSession marks a captcha session as resolved.
func (r *Repository) ResolveCaptchaSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.captchas[id]
	if !ok {
		return fmt.Errorf("captcha session %s: %w", id, model.ErrNotFound)
	}
	if s.Resolved {
		return fmt.Errorf("captcha session %s already resolved: %w", id, model.ErrNotValid)
	}

	s.Resolved = true
	r.captchas[id] = s
	r.logger.Debugf("Resolved captcha session: %s", id)

	return nil
}

func copyJob(j model.Job) model.Job {
	if j.TotalFiles != nil {
		total := *j.TotalFiles
		j.TotalFiles = &total
	}
	return j
}

func copyCaptcha(s model.CaptchaSession) model.CaptchaSession {
	s.Image = append([]byte(nil), s.Image...)
	return s
}
