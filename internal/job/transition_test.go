package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage/memory"
)

func newJob(t *testing.T, repo *memory.Repository, status model.JobStatus) string {
	t.Helper()
	r, err := model.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	id := model.NewID()
	require.NoError(t, repo.CreateJob(context.Background(), model.Job{
		ID:        id,
		OwnerID:   "owner-1",
		TaxID:     "XAXX010101000",
		Range:     r,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}))
	return id
}

func TestTransition(t *testing.T) {
	for _, from := range model.JobStatuses {
		for _, to := range model.JobStatuses {
			name := string(from) + " -> " + string(to)
			t.Run(name, func(t *testing.T) {
				repo, err := memory.NewRepository(memory.RepositoryConfig{})
				require.NoError(t, err)
				id := newJob(t, repo, from)

				j, err := job.Transition(context.Background(), repo, id, to, nil)

				stored, gerr := repo.GetJob(context.Background(), id)
				require.NoError(t, gerr)

				if from.CanTransitionTo(to) {
					require.NoError(t, err)
					assert.Equal(t, to, j.Status)
					assert.Equal(t, to, stored.Status)
					return
				}
				assert.True(t, errors.Is(err, model.ErrInvalidTransition))
				assert.Equal(t, from, stored.Status, "rejected transitions don't change the job")
			})
		}
	}
}

func TestTransitionMutation(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		mutate    func(j *model.Job) error
		expErr    error
		expStatus model.JobStatus
		expMsg    string
	}{
		"The mutation is applied with the status change.": {
			mutate: func(j *model.Job) error {
				j.ErrorMessage = "boom"
				return nil
			},
			expStatus: model.JobStatusFailed,
			expMsg:    "boom",
		},
		"A failing mutation aborts the transition.": {
			mutate:    func(j *model.Job) error { return model.ErrNotValid },
			expErr:    model.ErrNotValid,
			expStatus: model.JobStatusInProgress,
		},
		"A mutation can't change the status.": {
			mutate: func(j *model.Job) error {
				j.Status = model.JobStatusCompleted
				return nil
			},
			expErr:    model.ErrInvalidTransition,
			expStatus: model.JobStatusInProgress,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(t, err)
			id := newJob(t, repo, model.JobStatusInProgress)

			_, err = job.Transition(ctx, repo, id, model.JobStatusFailed, test.mutate)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}

			stored, err := repo.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, stored.Status)
			assert.Equal(t, test.expMsg, stored.ErrorMessage)
		})
	}
}

func TestTransitionMissingJob(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	_, err = job.Transition(context.Background(), repo, "missing", model.JobStatusInProgress, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	id := newJob(t, repo, model.JobStatusInProgress)

	// No total yet.
	_, err = job.IncrementProgress(ctx, repo, id)
	assert.ErrorIs(t, err, model.ErrNotValid)

	_, err = job.SetTotal(ctx, repo, id, 2)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		j, err := job.IncrementProgress(ctx, repo, id)
		require.NoError(t, err)
		assert.Equal(t, i, j.DownloadedFiles)
	}

	// Never over the total.
	_, err = job.IncrementProgress(ctx, repo, id)
	assert.ErrorIs(t, err, model.ErrNotValid)

	// Total can't go under the progress.
	_, err = job.SetTotal(ctx, repo, id, 1)
	assert.ErrorIs(t, err, model.ErrNotValid)

	// Only running jobs make progress.
	_, err = job.Transition(ctx, repo, id, model.JobStatusCompleted, nil)
	require.NoError(t, err)
	_, err = job.IncrementProgress(ctx, repo, id)
	assert.ErrorIs(t, err, model.ErrNotValid)
	_, err = job.SetTotal(ctx, repo, id, 3)
	assert.ErrorIs(t, err, model.ErrNotValid)

	j, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, j.DownloadedFiles)
	assert.Equal(t, 2, *j.TotalFiles)
}
