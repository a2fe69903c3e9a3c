package submit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/app/submit"
	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/job/jobmock"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage/memory"
	"github.com/slok/satdl/internal/storage/storagemock"
)

func validRequest() submit.Request {
	return submit.Request{
		OwnerID:   "alice",
		TaxID:     "xaxx010101000",
		Password:  "s3cr3t",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-31",
	}
}

func TestServiceRunValidation(t *testing.T) {
	tests := map[string]struct {
		req func(r *submit.Request)
	}{
		"missing owner":      {req: func(r *submit.Request) { r.OwnerID = "" }},
		"missing tax id":     {req: func(r *submit.Request) { r.TaxID = "" }},
		"malformed tax id":   {req: func(r *submit.Request) { r.TaxID = "ABC" }},
		"missing password":   {req: func(r *submit.Request) { r.Password = "" }},
		"missing start date": {req: func(r *submit.Request) { r.StartDate = "" }},
		"missing end date":   {req: func(r *submit.Request) { r.EndDate = "" }},
		"malformed date":     {req: func(r *submit.Request) { r.StartDate = "01/01/2024" }},
		"start after end":    {req: func(r *submit.Request) { r.StartDate, r.EndDate = "2024-02-01", "2024-01-01" }},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mRepo := &storagemock.MockRepository{}
			mLauncher := &jobmock.MockLauncher{}

			svc, err := submit.NewService(submit.ServiceConfig{Repository: mRepo, Launcher: mLauncher})
			require.NoError(t, err)

			req := validRequest()
			test.req(&req)
			_, err = svc.Run(context.Background(), req)
			assert.ErrorIs(t, err, model.ErrNotValid)

			// Nothing is stored nor started.
			mRepo.AssertExpectations(t)
			mLauncher.AssertExpectations(t)
		})
	}
}

func TestServiceRunErrors(t *testing.T) {
	tests := map[string]struct {
		mockRepo     func(m *storagemock.MockRepository)
		mockLauncher func(m *jobmock.MockLauncher)
	}{
		"repository error": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("CreateJob", mock.Anything, mock.Anything).Once().Return(fmt.Errorf("db error"))
			},
			mockLauncher: func(m *jobmock.MockLauncher) {},
		},
		"a job that can't start is removed": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("CreateJob", mock.Anything, mock.Anything).Once().Return(nil)
				m.On("DeleteJob", mock.Anything, "01J00000000000000000000001").Once().Return(nil)
			},
			mockLauncher: func(m *jobmock.MockLauncher) {
				m.On("Start", mock.Anything, "01J00000000000000000000001", mock.Anything).Once().Return(nil, fmt.Errorf("runner is stopped"))
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mRepo := &storagemock.MockRepository{}
			test.mockRepo(mRepo)
			mLauncher := &jobmock.MockLauncher{}
			test.mockLauncher(mLauncher)

			svc, err := submit.NewService(submit.ServiceConfig{
				Repository: mRepo,
				Launcher:   mLauncher,
				NewID:      func() string { return "01J00000000000000000000001" },
			})
			require.NoError(t, err)

			_, err = svc.Run(context.Background(), validRequest())
			assert.Error(t, err)

			mRepo.AssertExpectations(t)
			mLauncher.AssertExpectations(t)
		})
	}
}

func TestServiceRun(t *testing.T) {
	captcha := &model.CaptchaSession{ID: "cs1", Image: []byte("png")}

	tests := map[string]struct {
		exec       func(release <-chan struct{}) job.ExecutorFunc
		expCaptcha *model.CaptchaSession
	}{
		"A job without captcha returns after the check.": {
			exec: func(release <-chan struct{}) job.ExecutorFunc {
				return func(ctx context.Context, id string, creds model.Credentials, hooks job.Hooks) (*model.Job, error) {
					hooks.CaptchaChecked(nil)
					<-release
					return &model.Job{ID: id}, nil
				}
			},
		},

		"A job suspended by a captcha returns the challenge.": {
			exec: func(release <-chan struct{}) job.ExecutorFunc {
				return func(ctx context.Context, id string, creds model.Credentials, hooks job.Hooks) (*model.Job, error) {
					cs := *captcha
					cs.JobID = id
					hooks.CaptchaChecked(&cs)
					return &model.Job{ID: id}, nil
				}
			},
			expCaptcha: captcha,
		},

		"A slow portal returns after the captcha wait.": {
			exec: func(release <-chan struct{}) job.ExecutorFunc {
				return func(ctx context.Context, id string, creds model.Credentials, hooks job.Hooks) (*model.Job, error) {
					<-release
					return &model.Job{ID: id}, nil
				}
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)

			release := make(chan struct{})
			defer close(release)

			gotCreds := make(chan model.Credentials, 1)
			exec := test.exec(release)
			runner, err := job.NewRunner(job.RunnerConfig{Executor: job.ExecutorFunc(func(ctx context.Context, id string, creds model.Credentials, hooks job.Hooks) (*model.Job, error) {
				gotCreds <- creds
				return exec(ctx, id, creds, hooks)
			})})
			require.NoError(err)

			svc, err := submit.NewService(submit.ServiceConfig{
				Repository:  repo,
				Launcher:    runner,
				CaptchaWait: 50 * time.Millisecond,
			})
			require.NoError(err)

			resp, err := svc.Run(context.Background(), validRequest())
			require.NoError(err)

			assert.Equal("XAXX010101000", resp.Job.TaxID)
			assert.Equal("alice", resp.Job.OwnerID)
			assert.Equal(model.JobStatusPending, resp.Job.Status)
			if test.expCaptcha != nil {
				require.NotNil(resp.Captcha)
				assert.Equal(test.expCaptcha.ID, resp.Captcha.ID)
				assert.Equal(resp.Job.ID, resp.Captcha.JobID)
			} else {
				assert.Nil(resp.Captcha)
			}

			stored, err := repo.GetJob(context.Background(), resp.Job.ID)
			require.NoError(err)
			assert.Equal("2024-01-01..2024-01-31", stored.Range.String())

			select {
			case creds := <-gotCreds:
				assert.Equal(model.Credentials{TaxID: "XAXX010101000", Password: "s3cr3t"}, creds)
			case <-time.After(5 * time.Second):
				t.Fatal("job was not executed")
			}
		})
	}
}
