package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the resolve service.
type ServiceConfig struct {
	Repository storage.Repository
	Launcher   job.Launcher
	// CaptchaWait is how long to wait for the new execution to know if the
	// portal asks for another CAPTCHA.
	CaptchaWait time.Duration
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}
	if c.CaptchaWait <= 0 {
		c.CaptchaWait = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Resolve"})

	return nil
}

// Service resolves the CAPTCHA of a suspended job and resumes it.
type Service struct {
	repo        storage.Repository
	launcher    job.Launcher
	captchaWait time.Duration
	logger      log.Logger
}

// NewService creates a new resolve service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:        cfg.Repository,
		launcher:    cfg.Launcher,
		captchaWait: cfg.CaptchaWait,
		logger:      cfg.Logger,
	}, nil
}

// Request represents the resolve request parameters. The portal password is
// needed again because credentials are never stored.
type Request struct {
	OwnerID          string
	JobID            string
	CaptchaSessionID string
	Answer           string
	Password         string
}

func (r Request) validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("owner is required: %w", model.ErrNotValid)
	}
	if r.JobID == "" {
		return fmt.Errorf("job id is required: %w", model.ErrNotValid)
	}
	if r.CaptchaSessionID == "" {
		return fmt.Errorf("captcha session id is required: %w", model.ErrNotValid)
	}
	if strings.TrimSpace(r.Answer) == "" {
		return fmt.Errorf("answer is required: %w", model.ErrNotValid)
	}
	if r.Password == "" {
		return fmt.Errorf("password is required: %w", model.ErrNotValid)
	}
	return nil
}

// Response is the result of a resolution.
type Response struct {
	Job model.Job
	// Captcha is set when the resumed execution found a new challenge.
	Captcha *model.CaptchaSession
}

// Run marks the active challenge of the job as resolved, moves the job to
// resuming and starts a new execution that types the answer.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	j, err := job.GetOwned(ctx, s.repo, req.OwnerID, req.JobID)
	if err != nil {
		return nil, err
	}
	if j.Status != model.JobStatusCaptchaRequired {
		return nil, fmt.Errorf("job %s is %s, not waiting for a captcha: %w", j.ID, j.Status, model.ErrInvalidTransition)
	}

	active, err := s.repo.GetActiveCaptchaSession(ctx, j.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("job %s has no captcha waiting for resolution: %w", j.ID, model.ErrNotValid)
		}
		return nil, fmt.Errorf("could not get captcha session: %w", err)
	}
	if active.ID != req.CaptchaSessionID {
		return nil, fmt.Errorf("captcha session %s is not the active one of job %s: %w", req.CaptchaSessionID, j.ID, model.ErrNotValid)
	}

	// The job leaves captcha_required first, a job that can't be resumed
	// keeps its challenge waiting for another answer.
	if _, err := job.Transition(ctx, s.repo, j.ID, model.JobStatusResuming, nil); err != nil {
		return nil, fmt.Errorf("could not resume job: %w", err)
	}

	logger := s.logger.WithValues(log.Kv{"job-id": j.ID})

	if err := s.repo.ResolveCaptchaSession(context.WithoutCancel(ctx), active.ID); err != nil {
		err = fmt.Errorf("could not resolve captcha session: %w", err)
		s.abandon(ctx, logger, j.ID, err)
		return nil, err
	}
	logger.Infof("Captcha session %s resolved, resuming job", active.ID)

	h, err := s.launcher.Start(ctx, j.ID, model.Credentials{
		TaxID:         j.TaxID,
		Password:      req.Password,
		CaptchaAnswer: strings.TrimSpace(req.Answer),
	})
	if err != nil {
		err = fmt.Errorf("could not start job: %w", err)
		s.abandon(ctx, logger, j.ID, err)
		return nil, err
	}

	resp := &Response{Captcha: h.WaitCaptcha(ctx, s.captchaWait)}
	if resp.Captcha != nil {
		logger.Infof("Job requires a captcha again, session %s", resp.Captcha.ID)
	}

	current, err := s.repo.GetJob(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("could not get job: %w", err)
	}
	resp.Job = *current

	return resp, nil
}

// abandon fails a resuming job that no execution will pick up.
func (s *Service) abandon(ctx context.Context, logger log.Logger, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := job.Transition(ctx, s.repo, jobID, model.JobStatusInProgress, nil); err != nil {
		logger.Errorf("Could not abandon job: %s", err)
		return
	}
	_, err := job.Transition(ctx, s.repo, jobID, model.JobStatusFailed, func(j *model.Job) error {
		j.ErrorMessage = fmt.Sprintf("could not resume job: %s", cause)
		return nil
	})
	if err != nil {
		logger.Errorf("Could not abandon job: %s", err)
		return
	}
	logger.Warningf("Job abandoned: %s", cause)
}
