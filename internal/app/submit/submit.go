package submit

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// ServiceConfig is the configuration for the submit service.
type ServiceConfig struct {
	Repository storage.JobRepository
	Launcher   job.Launcher
	// CaptchaWait is how long a submission waits for the first execution to
	// know if the portal asks for a CAPTCHA.
	CaptchaWait time.Duration
	NewID       func() string
	Now         func() time.Time
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
	if c.NewID == nil {
		c.NewID = model.NewID
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Submit"})

	return nil
}

// Service creates retrieval jobs and starts their execution.
type Service struct {
	repo        storage.JobRepository
	launcher    job.Launcher
	captchaWait time.Duration
	newID       func() string
	now         func() time.Time
	validate    *validator.Validate
	logger      log.Logger
}

// NewService creates a new submit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	v := validator.New()
	if err := v.RegisterValidation("taxid", validateTaxID); err != nil {
		return nil, fmt.Errorf("could not register tax id validation: %w", err)
	}

	return &Service{
		repo:        cfg.Repository,
		launcher:    cfg.Launcher,
		captchaWait: cfg.CaptchaWait,
		newID:       cfg.NewID,
		now:         cfg.Now,
		validate:    v,
		logger:      cfg.Logger,
	}, nil
}

// taxIDRe matches RFC tax ids of companies (12) and individuals (13).
var taxIDRe = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

func validateTaxID(fl validator.FieldLevel) bool {
	return taxIDRe.MatchString(strings.ToUpper(fl.Field().String()))
}

// Request represents the submit request parameters. The password is only used
// by the execution and never stored.
type Request struct {
	OwnerID   string `validate:"required"`
	TaxID     string `validate:"required,taxid"`
	Password  string `validate:"required"`
	StartDate string `validate:"required,datetime=2006-01-02"`
	EndDate   string `validate:"required,datetime=2006-01-02"`
}

// Response is the result of a submission.
type Response struct {
	Job model.Job
	// Captcha is set when the first execution was suspended by a challenge
	// while the submission waited.
	Captcha *model.CaptchaSession
}

// Run creates a pending job and starts it in the background. It returns as
// soon as the job is known to need a CAPTCHA, or after the captcha wait,
// never waiting for the job to complete.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %s: %w", err, model.ErrNotValid)
	}

	r, err := model.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("invalid date range: %w", err)
	}

	taxID := strings.ToUpper(strings.TrimSpace(req.TaxID))
	j := model.Job{
		ID:        s.newID(),
		OwnerID:   req.OwnerID,
		TaxID:     taxID,
		Range:     r,
		Status:    model.JobStatusPending,
		CreatedAt: s.now(),
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	if err := s.repo.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("could not create job: %w", err)
	}
	logger := s.logger.WithValues(log.Kv{"job-id": j.ID})
	logger.Infof("Job submitted for %s (%s)", taxID, r)

	h, err := s.launcher.Start(ctx, j.ID, model.Credentials{TaxID: taxID, Password: req.Password})
	if err != nil {
		if derr := s.repo.DeleteJob(context.WithoutCancel(ctx), j.ID); derr != nil {
			logger.Errorf("Could not delete job that didn't start: %s", derr)
		}
		return nil, fmt.Errorf("could not start job: %w", err)
	}

	resp := &Response{Job: j, Captcha: h.WaitCaptcha(ctx, s.captchaWait)}
	if resp.Captcha != nil {
		logger.Infof("Job requires a captcha, session %s", resp.Captcha.ID)
	}

	// Return the job as it is now, the execution already changed it.
	if current, err := s.repo.GetJob(ctx, j.ID); err == nil {
		resp.Job = *current
	}

	return resp, nil
}
