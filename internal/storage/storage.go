package storage

import (
	"context"

	"github.com/slok/satdl/internal/model"
)

// JobMutation mutates a job inside an atomic update. Returning an error aborts
// the update leaving the stored job untouched.
type JobMutation func(j *model.Job) error

// JobRepository is the interface for job persistence.
type JobRepository interface {
	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs lists jobs ordered by creation time, newest first. An empty
	// ownerID lists the jobs of every owner.
	ListJobs(ctx context.Context, ownerID string) ([]model.Job, error)
	// UpdateJob atomically reads the job, applies the mutation and stores it.
	UpdateJob(ctx context.Context, id string, mutate JobMutation) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// CaptchaRepository is the interface for captcha session persistence.
type CaptchaRepository interface {
	// CreateCaptchaSession stores a new session, superseding (removing) any
	// unresolved session of the same job.
	CreateCaptchaSession(ctx context.Context, s model.CaptchaSession) error
	GetCaptchaSession(ctx context.Context, id string) (*model.CaptchaSession, error)
	// GetActiveCaptchaSession returns the unresolved session of a job.
	GetActiveCaptchaSession(ctx context.Context, jobID string) (*model.CaptchaSession, error)
	ResolveCaptchaSession(ctx context.Context, id string) error
}

// Repository is the full persistence interface.
type Repository interface {
	JobRepository
	CaptchaRepository
}

// ChangeFeed notifies about job changes.
type ChangeFeed interface {
	// Subscribe returns a channel receiving job events until the context is done.
	Subscribe(ctx context.Context) (<-chan model.JobEvent, error)
}
