// Package job drives retrieval jobs through the portal stages, owning the
// job status for the whole execution.
package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/netwatch"
	"github.com/slok/satdl/internal/portal"
	"github.com/slok/satdl/internal/storage"
)

// Stages are the portal stages run by the orchestrator, in this order.
type Stages interface {
	Login(ctx context.Context, s browser.Session, creds model.Credentials) (portal.Result, error)
	CheckCaptcha(ctx context.Context, s browser.Session) (portal.Result, error)
	ConfirmLogin(ctx context.Context, s browser.Session) (portal.Result, error)
	Search(ctx context.Context, s browser.Session, r model.DateRange) (portal.Result, error)
	Download(ctx context.Context, s browser.Session, total int, onRow portal.RowFunc) (portal.Result, error)
}

var _ Stages = &portal.Portal{}

// Hooks are optional callbacks of an execution.
type Hooks struct {
	// CaptchaChecked is called once the execution knows if the portal asks for
	// a CAPTCHA, with the stored challenge session or nil when there is none.
	CaptchaChecked func(cs *model.CaptchaSession)
}

func (h Hooks) captchaChecked(cs *model.CaptchaSession) {
	if h.CaptchaChecked != nil {
		h.CaptchaChecked(cs)
	}
}

// Executor runs a single execution of a job.
type Executor interface {
	Run(ctx context.Context, jobID string, creds model.Credentials, hooks Hooks) (*model.Job, error)
}

// OrchestratorConfig is the configuration of the orchestrator.
type OrchestratorConfig struct {
	Repository storage.Repository
	Driver     browser.Driver
	Stages     Stages
	Artifacts  artifact.Store
	// Interceptor watches the network of every session, netwatch.Noop by default.
	Interceptor netwatch.Interceptor
	// DownloadDir is the parent of the per job download directories.
	DownloadDir string
	// DiagnosticsTimeout bounds the capture and storage of failure artifacts.
	DiagnosticsTimeout time.Duration
	NewID              func() string
	Now                func() time.Time
	Logger             log.Logger
}

func (c *OrchestratorConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Driver == nil {
		return fmt.Errorf("browser driver is required")
	}
	if c.Stages == nil {
		return fmt.Errorf("stages are required")
	}
	if c.Artifacts == nil {
		return fmt.Errorf("artifact store is required")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download dir is required")
	}
	if c.Interceptor == nil {
		c.Interceptor = netwatch.Noop
	}
	if c.DiagnosticsTimeout <= 0 {
		c.DiagnosticsTimeout = 15 * time.Second
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "job.Orchestrator"})
	return nil
}

// Orchestrator runs the stages of a job in order and writes every status
// change of the job while doing it.
type Orchestrator struct {
	repo               storage.Repository
	driver             browser.Driver
	stages             Stages
	artifacts          artifact.Store
	interceptor        netwatch.Interceptor
	downloadDir        string
	diagnosticsTimeout time.Duration
	newID              func() string
	now                func() time.Time
	logger             log.Logger
}

var _ Executor = &Orchestrator{}

// NewOrchestrator returns a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Orchestrator{
		repo:               cfg.Repository,
		driver:             cfg.Driver,
		stages:             cfg.Stages,
		artifacts:          cfg.Artifacts,
		interceptor:        cfg.Interceptor,
		downloadDir:        cfg.DownloadDir,
		diagnosticsTimeout: cfg.DiagnosticsTimeout,
		newID:              cfg.NewID,
		now:                cfg.Now,
		logger:             cfg.Logger,
	}, nil
}

// DownloadDir returns the directory where the documents of a job are written.
func (o *Orchestrator) DownloadDir(jobID string) string {
	return filepath.Join(o.downloadDir, jobID)
}

// Run executes a pending or resuming job until it completes, fails or is
// suspended by a CAPTCHA, returning the job as it was left. Failed jobs are
// not an error, errors are only returned when the job could not be driven or
// its final state could not be stored.
func (o *Orchestrator) Run(ctx context.Context, jobID string, creds model.Credentials, hooks Hooks) (*model.Job, error) {
	logger := o.logger.WithValues(log.Kv{"job-id": jobID})

	j, err := Transition(ctx, o.repo, jobID, model.JobStatusInProgress, nil)
	if err != nil {
		return nil, fmt.Errorf("could not start job: %w", err)
	}
	creds.TaxID = j.TaxID
	logger.Infof("Job started for %s (%s)", j.TaxID, j.Range)

	s, err := o.driver.NewSession(ctx, browser.SessionOptions{ID: jobID, DownloadDir: o.DownloadDir(jobID)})
	if err != nil {
		return o.fail(ctx, logger, jobID, nil, netwatch.Report{}, fmt.Errorf("could not start browser: %w", err).Error())
	}
	release := sync.OnceFunc(func() {
		if err := s.Close(); err != nil {
			logger.Warningf("Could not close browser session: %s", err)
		}
	})
	defer release()

	watch := o.interceptor.Install(jobID, s)
	defer watch.Uninstall()

	res, err := o.pipeline(ctx, logger, s, j, creds, hooks)
	report := watch.Uninstall()
	logger.Debugf("Session made %d requests to %d hosts", report.Requests, len(report.Hosts))

	switch {
	case err != nil:
		logger.Errorf("Job execution error: %s", err)
		return o.fail(ctx, logger, jobID, s, report, err.Error())
	case res.Outcome == portal.OutcomeFail:
		logger.Warningf("Job failed on %s: %s", res.Kind, res.Message)
		return o.fail(ctx, logger, jobID, s, report, res.Message)
	case res.Outcome == portal.OutcomeSuspend:
		// The browser is released before the job can be seen suspended.
		release()
		return o.suspend(ctx, logger, jobID, res.CaptchaImage, report, hooks)
	}

	j, err = Transition(ctx, o.repo, jobID, model.JobStatusCompleted, func(j *model.Job) error {
		j.ErrorMessage = ""
		return nil
	})
	if err != nil {
		return o.fail(ctx, logger, jobID, s, report, fmt.Errorf("could not complete job: %w", err).Error())
	}
	done, total := j.Progress()
	logger.Infof("Job completed with %d/%d documents", done, total)

	return j, nil
}

// pipeline runs the stages in order. Panics are returned as errors.
func (o *Orchestrator) pipeline(ctx context.Context, logger log.Logger, s browser.Session, j *model.Job, creds model.Credentials, hooks Hooks) (res portal.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = portal.Result{}, fmt.Errorf("panic: %v", r)
		}
	}()

	res, err = o.stages.Login(ctx, s, creds)
	if err != nil || res.Outcome != portal.OutcomeContinue {
		return res, err
	}

	res, err = o.stages.CheckCaptcha(ctx, s)
	if err != nil || res.Outcome != portal.OutcomeContinue {
		return res, err
	}
	hooks.captchaChecked(nil)

	res, err = o.stages.ConfirmLogin(ctx, s)
	if err != nil || res.Outcome != portal.OutcomeContinue {
		return res, err
	}

	res, err = o.stages.Search(ctx, s, j.Range)
	if err != nil || res.Outcome != portal.OutcomeContinue {
		return res, err
	}

	total := res.Total
	if _, err := SetTotal(ctx, o.repo, j.ID, total); err != nil {
		return portal.Result{}, fmt.Errorf("could not set total files: %w", err)
	}
	if total == 0 {
		logger.Infof("No documents in range")
		return portal.Continue(), nil
	}
	logger.Infof("Found %d documents", total)

	res, err = o.stages.Download(ctx, s, total, func(ctx context.Context, index int, id string) error {
		if _, err := IncrementProgress(ctx, o.repo, j.ID); err != nil {
			return err
		}
		logger.Infof("Downloaded document %d/%d: %s", index+1, total, id)
		return nil
	})
	if err != nil || res.Outcome != portal.OutcomeContinue {
		return res, err
	}
	if len(res.Skipped) > 0 {
		logger.Warningf("Skipped %d documents (rows %v)", len(res.Skipped), res.Skipped)
	}

	return res, nil
}

// suspend stores the challenge and leaves the job waiting for its resolution.
// The browser is already closed.
func (o *Orchestrator) suspend(ctx context.Context, logger log.Logger, jobID string, image []byte, report netwatch.Report, hooks Hooks) (*model.Job, error) {
	if len(image) == 0 {
		return o.fail(ctx, logger, jobID, nil, report, "captcha challenge without image")
	}

	cs := model.CaptchaSession{
		ID:        o.newID(),
		JobID:     jobID,
		Image:     image,
		CreatedAt: o.now(),
	}
	if err := o.repo.CreateCaptchaSession(ctx, cs); err != nil {
		return o.fail(ctx, logger, jobID, nil, report, fmt.Errorf("could not store captcha session: %w", err).Error())
	}

	j, err := Transition(ctx, o.repo, jobID, model.JobStatusCaptchaRequired, func(j *model.Job) error {
		j.ErrorMessage = ""
		return nil
	})
	if err != nil {
		// A failed job keeps no challenge waiting for an answer.
		if rerr := o.repo.ResolveCaptchaSession(context.WithoutCancel(ctx), cs.ID); rerr != nil && !errors.Is(rerr, model.ErrNotFound) {
			logger.Errorf("Could not retire captcha session %s: %s", cs.ID, rerr)
		}
		return o.fail(ctx, logger, jobID, nil, report, fmt.Errorf("could not suspend job: %w", err).Error())
	}
	logger.Infof("Job suspended, captcha session %s waiting for resolution", cs.ID)
	hooks.captchaChecked(&cs)

	return j, nil
}

// fail marks the job as failed with a diagnostic artifact. It runs even when
// the context is cancelled; if the job was removed meanwhile the write is dropped.
func (o *Orchestrator) fail(ctx context.Context, logger log.Logger, jobID string, s browser.Session, report netwatch.Report, msg string) (*model.Job, error) {
	ctx = context.WithoutCancel(ctx)
	if msg == "" {
		msg = "job failed"
	}

	ref := o.captureDiagnostics(ctx, logger, jobID, s, report, msg)

	j, err := Transition(ctx, o.repo, jobID, model.JobStatusFailed, func(j *model.Job) error {
		j.ErrorMessage = msg
		j.ArtifactPath = ref
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warningf("Job removed during execution, dropping failure: %s", msg)
		}
		return nil, fmt.Errorf("could not mark job as failed: %w", err)
	}

	return j, nil
}
