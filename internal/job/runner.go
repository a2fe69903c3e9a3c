package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
)

// Launcher starts and cancels background job executions.
type Launcher interface {
	// Start starts an execution. The context only bounds the wait for a
	// previous execution of the same job, never the new execution.
	Start(ctx context.Context, jobID string, creds model.Credentials) (*Handle, error)
	// Cancel cancels the execution of the job and waits for it to end.
	Cancel(ctx context.Context, jobID string) error
	IsRunning(jobID string) bool
}

// ExecutorFunc is a helper to use functions as Executors.
type ExecutorFunc func(ctx context.Context, jobID string, creds model.Credentials, hooks Hooks) (*model.Job, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, jobID string, creds model.Credentials, hooks Hooks) (*model.Job, error) {
	return f(ctx, jobID, creds, hooks)
}

// RunnerConfig is the configuration of the runner.
type RunnerConfig struct {
	Executor Executor
	// MaxConcurrent is the number of jobs driving a browser at the same time,
	// the rest wait in queue.
	MaxConcurrent int
	Logger        log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "job.Runner"})
	return nil
}

// Runner executes jobs in the background, each one in its own goroutine with
// its own cancellation.
type Runner struct {
	exec   Executor
	sem    *semaphore.Weighted
	logger log.Logger

	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]*execution
	stopped bool
}

type execution struct {
	cancel context.CancelFunc
	handle *Handle
}

var _ Launcher = &Runner{}

// NewRunner returns a new runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		exec:    cfg.Executor,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:  cfg.Logger,
		ctx:     ctx,
		stop:    stop,
		running: map[string]*execution{},
	}, nil
}

// Start starts an execution of the job in the background. A job can only have
// one execution at a time: when the job still has one, like a suspended
// execution releasing its browser, Start waits for it to end or for ctx to be
// done.
func (r *Runner) Start(ctx context.Context, jobID string, creds model.Credentials) (*Handle, error) {
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return nil, fmt.Errorf("runner is stopped")
		}

		prev, ok := r.running[jobID]
		if !ok {
			execCtx, cancel := context.WithCancel(r.ctx)
			h := newHandle(jobID)
			r.running[jobID] = &execution{cancel: cancel, handle: h}
			r.wg.Add(1)
			r.mu.Unlock()

			go r.run(execCtx, cancel, h, creds)
			return h, nil
		}
		r.mu.Unlock()

		r.logger.Debugf("Waiting for the previous execution of job %s to end", jobID)
		select {
		case <-prev.handle.Done():
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s is already running: %w", jobID, errors.Join(model.ErrAlreadyExists, ctx.Err()))
		}
	}
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, h *Handle, creds model.Credentials) {
	defer r.wg.Done()
	defer cancel()

	logger := r.logger.WithValues(log.Kv{"job-id": h.JobID})

	j, err := func() (*model.Job, error) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("job cancelled while queued: %w", err)
		}
		defer r.sem.Release(1)
		return r.exec.Run(ctx, h.JobID, creds, Hooks{CaptchaChecked: h.onCaptchaChecked})
	}()
	if err != nil {
		logger.Errorf("Job execution ended with error: %s", err)
	} else {
		logger.Debugf("Job execution ended as %s", j.Status)
	}

	r.mu.Lock()
	delete(r.running, h.JobID)
	r.mu.Unlock()

	// A suspension is only reported here, once the execution released the
	// browser and the job can be started again.
	h.finish(j, err)
}

// IsRunning returns true if the job has a live execution, queued or running.
func (r *Runner) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// Cancel cancels the execution of the job and waits until it ends or the
// context is done. Jobs without execution are ignored.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	e, ok := r.running[jobID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.logger.Infof("Cancelling execution of job %s", jobID)
	e.cancel()

	select {
	case <-e.handle.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job %s execution didn't end: %w", jobID, ctx.Err())
	}
}

// Stop cancels every execution, rejects new ones and waits for the running
// ones to end or the context to be done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	n := len(r.running)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Infof("Stopping %d job executions", n)
	}
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job executions didn't end: %w", ctx.Err())
	}
}

// Handle follows a background execution.
type Handle struct {
	JobID string

	mu        sync.Mutex
	checkOnce sync.Once
	check     chan struct{}
	captcha   *model.CaptchaSession
	suspended *model.CaptchaSession

	done chan struct{}
	job  *model.Job
	err  error
}

func newHandle(jobID string) *Handle {
	return &Handle{
		JobID: jobID,
		check: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// onCaptchaChecked receives the CAPTCHA decision of the execution. No challenge is
// reported right away, a challenge waits until the execution ends.
func (h *Handle) onCaptchaChecked(cs *model.CaptchaSession) {
	if cs == nil {
		h.decide(nil)
		return
	}
	h.mu.Lock()
	h.suspended = cs
	h.mu.Unlock()
}

func (h *Handle) decide(cs *model.CaptchaSession) {
	h.checkOnce.Do(func() {
		h.captcha = cs
		close(h.check)
	})
}

func (h *Handle) finish(j *model.Job, err error) {
	h.mu.Lock()
	cs := h.suspended
	h.mu.Unlock()
	h.decide(cs)

	h.job = j
	h.err = err
	close(h.done)
}

// Checked is closed once the execution knows no CAPTCHA is required, or when
// the execution ends, suspended or not.
func (h *Handle) Checked() <-chan struct{} { return h.check }

// Captcha returns the challenge that suspended the job, nil when there is
// none. It is only meaningful after Checked is closed.
func (h *Handle) Captcha() *model.CaptchaSession {
	select {
	case <-h.check:
		return h.captcha
	default:
		return nil
	}
}

// WaitCaptcha waits up to the timeout for the CAPTCHA decision and returns the
// challenge if the job was suspended.
func (h *Handle) WaitCaptcha(ctx context.Context, timeout time.Duration) *model.CaptchaSession {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-h.check:
		return h.captcha
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

// Done is closed when the execution ends.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the job as the execution left it. It is only meaningful
// after Done is closed.
func (h *Handle) Result() (*model.Job, error) {
	select {
	case <-h.done:
		return h.job, h.err
	default:
		return nil, fmt.Errorf("job %s execution is still running", h.JobID)
	}
}
