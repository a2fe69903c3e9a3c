package janitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/janitor"
	"github.com/slok/satdl/internal/job/jobmock"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func createJob(t *testing.T, repo *memory.Repository, id string, status model.JobStatus, createdAt time.Time) {
	t.Helper()
	r, err := model.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	require.NoError(t, repo.CreateJob(context.Background(), model.Job{
		ID:        id,
		OwnerID:   "owner-1",
		TaxID:     "XAXX010101000",
		Range:     r,
		Status:    status,
		CreatedAt: createdAt,
	}))
}

func TestJanitorSweep(t *testing.T) {
	type jobFixture struct {
		status  model.JobStatus
		age     time.Duration
		running bool
	}

	tests := map[string]struct {
		jobs      map[string]jobFixture
		expSwept  []string
		expStatus map[string]model.JobStatus
	}{
		"Lost jobs are failed.": {
			jobs: map[string]jobFixture{
				"j-in-progress": {status: model.JobStatusInProgress, age: time.Hour},
				"j-pending":     {status: model.JobStatusPending, age: time.Hour},
				"j-resuming":    {status: model.JobStatusResuming, age: time.Hour},
			},
			expSwept: []string{"j-in-progress", "j-pending", "j-resuming"},
			expStatus: map[string]model.JobStatus{
				"j-in-progress": model.JobStatusFailed,
				"j-pending":     model.JobStatusFailed,
				"j-resuming":    model.JobStatusFailed,
			},
		},

		"Jobs with a live execution are kept.": {
			jobs: map[string]jobFixture{
				"j1": {status: model.JobStatusInProgress, age: time.Hour, running: true},
			},
			expStatus: map[string]model.JobStatus{"j1": model.JobStatusInProgress},
		},

		"Recently updated jobs are kept.": {
			jobs: map[string]jobFixture{
				"j1": {status: model.JobStatusInProgress, age: time.Minute},
				"j2": {status: model.JobStatusPending, age: 5 * time.Minute},
			},
			expStatus: map[string]model.JobStatus{
				"j1": model.JobStatusInProgress,
				"j2": model.JobStatusPending,
			},
		},

		"Jobs not waiting for an execution are kept.": {
			jobs: map[string]jobFixture{
				"j-captcha":   {status: model.JobStatusCaptchaRequired, age: 24 * time.Hour},
				"j-completed": {status: model.JobStatusCompleted, age: 24 * time.Hour},
				"j-failed":    {status: model.JobStatusFailed, age: 24 * time.Hour},
			},
			expStatus: map[string]model.JobStatus{
				"j-captcha":   model.JobStatusCaptchaRequired,
				"j-completed": model.JobStatusCompleted,
				"j-failed":    model.JobStatusFailed,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)

			executions := jobmock.NewMockLauncher(t)
			for id, f := range test.jobs {
				createJob(t, repo, id, f.status, t0.Add(-f.age))
				executions.On("IsRunning", id).Maybe().Return(f.running)
			}

			j, err := janitor.New(janitor.Config{
				Repository: repo,
				Executions: executions,
				StaleAfter: 10 * time.Minute,
				Now:        func() time.Time { return t0 },
			})
			require.NoError(err)

			swept, err := j.Sweep(context.Background())
			require.NoError(err)
			assert.ElementsMatch(test.expSwept, swept)

			for id, exp := range test.expStatus {
				got, err := repo.GetJob(context.Background(), id)
				require.NoError(err)
				assert.Equal(exp, got.Status, id)
				if exp == model.JobStatusFailed && test.jobs[id].status != model.JobStatusFailed {
					assert.Equal(janitor.LostMessage, got.ErrorMessage)
				}
			}
		})
	}
}

func TestJanitorInvalidSchedule(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	_, err = janitor.New(janitor.Config{
		Repository: repo,
		Executions: jobmock.NewMockLauncher(t),
		Schedule:   "every minute please",
	})
	assert.Error(t, err)
}

func TestJanitorRunSweepsOnSchedule(t *testing.T) {
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	createJob(t, repo, "j1", model.JobStatusInProgress, t0)

	executions := jobmock.NewMockLauncher(t)
	executions.On("IsRunning", mock.Anything).Maybe().Return(false)

	j, err := janitor.New(janitor.Config{
		Repository: repo,
		Executions: executions,
		Schedule:   "@every 1s",
		StaleAfter: time.Minute,
		Now:        func() time.Time { return t0.Add(time.Hour) },
	})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(func() bool {
		got, err := repo.GetJob(context.Background(), "j1")
		return err == nil && got.Status == model.JobStatusFailed
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(<-done)
}
