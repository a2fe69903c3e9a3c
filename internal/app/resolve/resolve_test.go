package resolve_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/app/resolve"
	"github.com/slok/satdl/internal/artifact/local"
	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/job/jobmock"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/portal"
	"github.com/slok/satdl/internal/portal/portaltest"
	"github.com/slok/satdl/internal/storage"
	"github.com/slok/satdl/internal/storage/memory"
	"github.com/slok/satdl/internal/storage/storagemock"
)

var errUnavailable = errors.New("database unavailable")

func TestServiceRunRejections(t *testing.T) {
	jobID := "01J00000000000000000000001"
	suspended := &model.Job{ID: jobID, OwnerID: "alice", TaxID: portaltest.TaxID, Status: model.JobStatusCaptchaRequired}
	req := resolve.Request{OwnerID: "alice", JobID: jobID, CaptchaSessionID: "cs2", Answer: "K7PQ2", Password: "s3cr3t"}

	tests := map[string]struct {
		mockRepo func(m *storagemock.MockRepository)
		req      func(r *resolve.Request)
		expErr   error
	}{
		"missing answer": {
			mockRepo: func(m *storagemock.MockRepository) {},
			req:      func(r *resolve.Request) { r.Answer = " " },
			expErr:   model.ErrNotValid,
		},
		"missing password": {
			mockRepo: func(m *storagemock.MockRepository) {},
			req:      func(r *resolve.Request) { r.Password = "" },
			expErr:   model.ErrNotValid,
		},
		"job of another owner": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(suspended, nil)
			},
			req:    func(r *resolve.Request) { r.OwnerID = "bob" },
			expErr: model.ErrNotFound,
		},
		"job not waiting for a captcha": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(&model.Job{ID: jobID, OwnerID: "alice", Status: model.JobStatusInProgress}, nil)
			},
			req:    func(r *resolve.Request) {},
			expErr: model.ErrInvalidTransition,
		},
		"superseded captcha session": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(suspended, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(&model.CaptchaSession{ID: "cs3", JobID: jobID}, nil)
			},
			req:    func(r *resolve.Request) {},
			expErr: model.ErrNotValid,
		},
		"no active captcha session": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(suspended, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(nil, model.ErrNotFound)
			},
			req:    func(r *resolve.Request) {},
			expErr: model.ErrNotValid,
		},
		"job that can't be resumed keeps its challenge": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(suspended, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(&model.CaptchaSession{ID: "cs2", JobID: jobID}, nil)
				m.On("UpdateJob", mock.Anything, jobID, mock.Anything).Once().Return(nil, errUnavailable)
			},
			req:    func(r *resolve.Request) {},
			expErr: errUnavailable,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mRepo := &storagemock.MockRepository{}
			test.mockRepo(mRepo)
			mLauncher := &jobmock.MockLauncher{}

			svc, err := resolve.NewService(resolve.ServiceConfig{Repository: mRepo, Launcher: mLauncher})
			require.NoError(t, err)

			r := req
			test.req(&r)
			_, err = svc.Run(context.Background(), r)
			assert.ErrorIs(t, err, test.expErr)

			mRepo.AssertExpectations(t)
			mLauncher.AssertExpectations(t)
		})
	}
}

func TestServiceRunResumesTheJob(t *testing.T) {
	tests := map[string]struct {
		portal     portaltest.Portal
		expStatus  model.JobStatus
		expCaptcha bool
	}{
		"A right answer should complete the job.": {
			portal:    portaltest.Portal{Captcha: true, Rows: portaltest.Rows(2)},
			expStatus: model.JobStatusCompleted,
		},
		"A new challenge should suspend the job again.": {
			portal:     portaltest.Portal{CaptchaAlways: true},
			expStatus:  model.JobStatusCaptchaRequired,
			expCaptcha: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			p, err := portal.New(portal.Config{Profile: portaltest.Profile()})
			require.NoError(err)
			artifacts, err := local.NewStore(local.StoreConfig{Root: t.TempDir()})
			require.NoError(err)
			orch, err := job.NewOrchestrator(job.OrchestratorConfig{
				Repository:  repo,
				Driver:      test.portal.Driver(),
				Stages:      p,
				Artifacts:   artifacts,
				DownloadDir: t.TempDir(),
			})
			require.NoError(err)
			runner, err := job.NewRunner(job.RunnerConfig{Executor: orch})
			require.NoError(err)

			// Suspend a job.
			r, err := model.ParseDateRange("2024-01-01", "2024-01-31")
			require.NoError(err)
			jobID := model.NewID()
			require.NoError(repo.CreateJob(ctx, model.Job{ID: jobID, OwnerID: "alice", TaxID: portaltest.TaxID, Range: r, Status: model.JobStatusPending}))
			_, err = orch.Run(ctx, jobID, portaltest.Credentials(), job.Hooks{})
			require.NoError(err)
			first, err := repo.GetActiveCaptchaSession(ctx, jobID)
			require.NoError(err)

			svc, err := resolve.NewService(resolve.ServiceConfig{Repository: repo, Launcher: runner, CaptchaWait: 5 * time.Second})
			require.NoError(err)

			resp, err := svc.Run(ctx, resolve.Request{
				OwnerID:          "alice",
				JobID:            jobID,
				CaptchaSessionID: first.ID,
				Answer:           " " + portaltest.Answer + " ",
				Password:         portaltest.Password,
			})
			require.NoError(err)

			resolved, err := repo.GetCaptchaSession(ctx, first.ID)
			require.NoError(err)
			assert.True(resolved.Resolved)

			if test.expCaptcha {
				require.NotNil(resp.Captcha)
				assert.NotEqual(first.ID, resp.Captcha.ID)
			} else {
				assert.Nil(resp.Captcha)
			}

			require.Eventually(func() bool {
				j, err := repo.GetJob(ctx, jobID)
				return err == nil && j.Status == test.expStatus
			}, 5*time.Second, 10*time.Millisecond)

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			require.NoError(runner.Stop(stopCtx))
		})
	}
}

// unresolvableRepository can't mark captcha sessions as resolved.
type unresolvableRepository struct {
	storage.Repository
}

func (unresolvableRepository) ResolveCaptchaSession(context.Context, string) error {
	return errUnavailable
}

func TestServiceRunFailsJobsThatCantBeResumed(t *testing.T) {
	tests := map[string]struct {
		repository    func(r storage.Repository) storage.Repository
		mockLauncher  func(m *jobmock.MockLauncher)
		expSessionEnd bool
	}{
		"A challenge that can't be resolved should fail the job.": {
			repository:   func(r storage.Repository) storage.Repository { return unresolvableRepository{Repository: r} },
			mockLauncher: func(m *jobmock.MockLauncher) {},
		},

		"An execution that can't start should fail the job.": {
			repository: func(r storage.Repository) storage.Repository { return r },
			mockLauncher: func(m *jobmock.MockLauncher) {
				m.On("Start", mock.Anything, "01J00000000000000000000001", mock.Anything).Once().Return(nil, errors.New("runner is stopped"))
			},
			expSessionEnd: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			mem, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			r, err := model.ParseDateRange("2024-01-01", "2024-01-31")
			require.NoError(err)
			jobID := "01J00000000000000000000001"
			require.NoError(mem.CreateJob(ctx, model.Job{ID: jobID, OwnerID: "alice", TaxID: portaltest.TaxID, Range: r, Status: model.JobStatusCaptchaRequired}))
			require.NoError(mem.CreateCaptchaSession(ctx, model.CaptchaSession{ID: "cs1", JobID: jobID, Image: []byte("png")}))

			mLauncher := &jobmock.MockLauncher{}
			test.mockLauncher(mLauncher)

			svc, err := resolve.NewService(resolve.ServiceConfig{Repository: test.repository(mem), Launcher: mLauncher})
			require.NoError(err)

			_, err = svc.Run(ctx, resolve.Request{OwnerID: "alice", JobID: jobID, CaptchaSessionID: "cs1", Answer: "K7PQ2", Password: "s3cr3t"})
			assert.Error(err)

			j, err := mem.GetJob(ctx, jobID)
			require.NoError(err)
			assert.Equal(model.JobStatusFailed, j.Status)
			assert.Contains(j.ErrorMessage, "could not resume job")

			cs, err := mem.GetCaptchaSession(ctx, "cs1")
			require.NoError(err)
			assert.Equal(test.expSessionEnd, cs.Resolved)

			mLauncher.AssertExpectations(t)
		})
	}
}

// slowDriver takes its time to release the browser.
type slowDriver struct {
	browser.Driver
}

func (d slowDriver) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	s, err := d.Driver.NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return slowSession{Session: s}, nil
}

type slowSession struct {
	browser.Session
}

func (s slowSession) Close() error {
	time.Sleep(200 * time.Millisecond)
	return s.Session.Close()
}

func TestServiceRunResumesAJobAsSoonAsItIsSuspended(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	p, err := portal.New(portal.Config{Profile: portaltest.Profile()})
	require.NoError(err)
	artifacts, err := local.NewStore(local.StoreConfig{Root: t.TempDir()})
	require.NoError(err)
	orch, err := job.NewOrchestrator(job.OrchestratorConfig{
		Repository:  repo,
		Driver:      slowDriver{Driver: portaltest.Portal{Captcha: true, Rows: portaltest.Rows(2)}.Driver()},
		Stages:      p,
		Artifacts:   artifacts,
		DownloadDir: t.TempDir(),
	})
	require.NoError(err)
	runner, err := job.NewRunner(job.RunnerConfig{Executor: orch})
	require.NoError(err)
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		assert.NoError(runner.Stop(stopCtx))
	}()

	r, err := model.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(err)
	jobID := model.NewID()
	require.NoError(repo.CreateJob(ctx, model.Job{ID: jobID, OwnerID: "alice", TaxID: portaltest.TaxID, Range: r, Status: model.JobStatusPending}))
	_, err = runner.Start(ctx, jobID, portaltest.Credentials())
	require.NoError(err)

	// Answer the challenge as soon as it is visible.
	var active *model.CaptchaSession
	require.Eventually(func() bool {
		cs, err := repo.GetActiveCaptchaSession(ctx, jobID)
		if err != nil {
			return false
		}
		active = cs
		return true
	}, 5*time.Second, time.Millisecond)

	svc, err := resolve.NewService(resolve.ServiceConfig{Repository: repo, Launcher: runner, CaptchaWait: 5 * time.Second})
	require.NoError(err)
	resp, err := svc.Run(ctx, resolve.Request{
		OwnerID:          "alice",
		JobID:            jobID,
		CaptchaSessionID: active.ID,
		Answer:           portaltest.Answer,
		Password:         portaltest.Password,
	})
	require.NoError(err)
	assert.Nil(resp.Captcha)

	require.Eventually(func() bool {
		j, err := repo.GetJob(ctx, jobID)
		return err == nil && j.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}
