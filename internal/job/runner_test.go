package job_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/portal/portaltest"
)

// blockingExecutor runs until its context ends or it is released.
type blockingExecutor struct {
	release chan struct{}
	started chan string
	active  int32
	maxSeen int32
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{}), started: make(chan string, 16)}
}

func (b *blockingExecutor) Run(ctx context.Context, jobID string, _ model.Credentials, hooks job.Hooks) (*model.Job, error) {
	n := atomic.AddInt32(&b.active, 1)
	defer atomic.AddInt32(&b.active, -1)
	for {
		m := atomic.LoadInt32(&b.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&b.maxSeen, m, n) {
			break
		}
	}

	b.started <- jobID
	hooks.CaptchaChecked(nil)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &model.Job{ID: jobID, Status: model.JobStatusCompleted}, nil
	}
}

func waitDone(t *testing.T, h *job.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("execution of %s didn't end", h.JobID)
	}
}

func TestRunnerRunsJobsInBackground(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHarness(t, portaltest.Portal{Rows: portaltest.Rows(2)}, harnessOptions{})
	id := h.createJob(t)

	r, err := job.NewRunner(job.RunnerConfig{Executor: h.orch})
	require.NoError(err)

	handle, err := r.Start(context.Background(), id, portaltest.Credentials())
	require.NoError(err)

	assert.Nil(handle.WaitCaptcha(context.Background(), 5*time.Second))
	waitDone(t, handle)

	j, err := handle.Result()
	require.NoError(err)
	assert.Equal(model.JobStatusCompleted, j.Status)
	assert.Equal(2, j.DownloadedFiles)
	assert.False(r.IsRunning(id))
}

func TestRunnerReportsCaptcha(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHarness(t, portaltest.Portal{Captcha: true}, harnessOptions{})
	id := h.createJob(t)

	r, err := job.NewRunner(job.RunnerConfig{Executor: h.orch})
	require.NoError(err)

	handle, err := r.Start(context.Background(), id, portaltest.Credentials())
	require.NoError(err)

	cs := handle.WaitCaptcha(context.Background(), 5*time.Second)
	require.NotNil(cs)
	assert.Equal(id, cs.JobID)
	assert.Equal([]byte(portaltest.CaptchaPNG), cs.Image)

	waitDone(t, handle)
	assert.Equal(cs, handle.Captcha())
}

func TestRunnerHandleUnblocksWhenExecutionEndsEarly(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, portaltest.Portal{}, harnessOptions{})

	r, err := job.NewRunner(job.RunnerConfig{Executor: h.orch})
	require.NoError(err)

	handle, err := r.Start(context.Background(), "missing", portaltest.Credentials())
	require.NoError(err)

	select {
	case <-handle.Checked():
	case <-time.After(5 * time.Second):
		t.Fatal("checked was not closed")
	}
	waitDone(t, handle)

	_, err = handle.Result()
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Nil(t, handle.Captcha())
}

func TestRunnerLimitsConcurrency(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newBlockingExecutor()
	r, err := job.NewRunner(job.RunnerConfig{Executor: exec, MaxConcurrent: 2})
	require.NoError(err)

	var handles []*job.Handle
	for _, id := range []string{"j1", "j2", "j3", "j4"} {
		h, err := r.Start(context.Background(), id, model.Credentials{})
		require.NoError(err)
		handles = append(handles, h)
	}

	// Two start, the rest wait in queue.
	<-exec.started
	<-exec.started
	select {
	case id := <-exec.started:
		t.Fatalf("job %s started over the limit", id)
	case <-time.After(50 * time.Millisecond):
	}
	for _, h := range handles {
		assert.True(r.IsRunning(h.JobID), "queued jobs are running executions")
	}

	close(exec.release)
	for _, h := range handles {
		waitDone(t, h)
	}
	assert.Equal(int32(2), atomic.LoadInt32(&exec.maxSeen))
}

func TestRunnerWaitsForThePreviousExecution(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newBlockingExecutor()
	r, err := job.NewRunner(job.RunnerConfig{Executor: exec})
	require.NoError(err)

	first, err := r.Start(context.Background(), "j1", model.Credentials{})
	require.NoError(err)
	<-exec.started

	// Giving up the wait rejects the execution.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Start(ctx, "j1", model.Credentials{})
	assert.ErrorIs(err, model.ErrAlreadyExists)
	assert.ErrorIs(err, context.DeadlineExceeded)

	// The next execution starts once the previous one ends.
	started := make(chan *job.Handle)
	go func() {
		h, err := r.Start(context.Background(), "j1", model.Credentials{})
		assert.NoError(err)
		started <- h
	}()
	select {
	case <-started:
		t.Fatal("second execution started while the first one was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.release)
	waitDone(t, first)

	select {
	case h := <-started:
		waitDone(t, h)
	case <-time.After(5 * time.Second):
		t.Fatal("second execution didn't start")
	}
}

// suspendingExecutor suspends the job and takes its time to release it.
type suspendingExecutor struct {
	release time.Duration
}

func (e suspendingExecutor) Run(ctx context.Context, jobID string, _ model.Credentials, hooks job.Hooks) (*model.Job, error) {
	hooks.CaptchaChecked(&model.CaptchaSession{ID: "cs-1", JobID: jobID})
	time.Sleep(e.release)
	return &model.Job{ID: jobID, Status: model.JobStatusCaptchaRequired}, nil
}

func TestRunnerReportsCaptchaOnceTheExecutionEnded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := job.NewRunner(job.RunnerConfig{Executor: suspendingExecutor{release: 200 * time.Millisecond}})
	require.NoError(err)

	h, err := r.Start(context.Background(), "j1", model.Credentials{})
	require.NoError(err)

	cs := h.WaitCaptcha(context.Background(), 5*time.Second)
	require.NotNil(cs)
	assert.Equal("cs-1", cs.ID)
	assert.False(r.IsRunning("j1"), "a reported captcha has no execution behind")

	// The job can be resumed right away.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	next, err := r.Start(ctx, "j1", model.Credentials{})
	require.NoError(err)
	waitDone(t, next)
}

func TestRunnerCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newBlockingExecutor()
	r, err := job.NewRunner(job.RunnerConfig{Executor: exec, MaxConcurrent: 1})
	require.NoError(err)

	running, err := r.Start(context.Background(), "j1", model.Credentials{})
	require.NoError(err)
	<-exec.started
	queued, err := r.Start(context.Background(), "j2", model.Credentials{})
	require.NoError(err)

	// Not running jobs are ignored.
	require.NoError(r.Cancel(context.Background(), "j3"))

	require.NoError(r.Cancel(context.Background(), "j2"))
	_, err = queued.Result()
	assert.ErrorIs(err, context.Canceled)

	require.NoError(r.Cancel(context.Background(), "j1"))
	_, err = running.Result()
	assert.ErrorIs(err, context.Canceled)

	assert.False(r.IsRunning("j1"))
	assert.False(r.IsRunning("j2"))
}

func TestRunnerStop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newBlockingExecutor()
	r, err := job.NewRunner(job.RunnerConfig{Executor: exec, MaxConcurrent: 4})
	require.NoError(err)

	var wg sync.WaitGroup
	for _, id := range []string{"j1", "j2"} {
		h, err := r.Start(context.Background(), id, model.Credentials{})
		require.NoError(err)
		<-exec.started
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-h.Done()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(r.Stop(ctx))
	wg.Wait()

	_, err = r.Start(context.Background(), "j3", model.Credentials{})
	assert.Error(err)
}
