// Package storagetest has a behavior suite shared by every storage.Repository
// implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// JobFixture returns a valid pending job.
func JobFixture(id, owner string) model.Job {
	return model.Job{
		ID:      id,
		OwnerID: owner,
		TaxID:   "XAXX010101000",
		Range: model.DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// CaptchaFixture returns a valid unresolved captcha session.
func CaptchaFixture(id, jobID string) model.CaptchaSession {
	return model.CaptchaSession{
		ID:        id,
		JobID:     jobID,
		Image:     []byte("\x89PNG-fake-" + id),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// TestRepository runs the repository behavior suite.
func TestRepository(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("Job CRUD", func(t *testing.T) { testJobCRUD(t, newRepo(t)) })
	t.Run("Job constraints", func(t *testing.T) { testJobConstraints(t, newRepo(t)) })
	t.Run("Job list by owner", func(t *testing.T) { testListJobs(t, newRepo(t)) })
	t.Run("Job update mutation errors", func(t *testing.T) { testUpdateMutationError(t, newRepo(t)) })
	t.Run("Job concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, newRepo(t)) })
	t.Run("Captcha sessions", func(t *testing.T) { testCaptchaSessions(t, newRepo(t)) })
	t.Run("Captcha sessions are removed with the job", func(t *testing.T) { testCaptchaCascade(t, newRepo(t)) })
}

func testJobCRUD(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	j := JobFixture("job-1", "owner-1")
	require.NoError(t, repo.CreateJob(ctx, j))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "XAXX010101000", got.TaxID)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.TotalFiles)
	assert.Equal(t, "2024-01-01", got.Range.Start.Format(model.DateLayout))
	assert.Equal(t, "2024-01-31", got.Range.End.Format(model.DateLayout))
	assert.True(t, j.CreatedAt.Equal(got.CreatedAt))

	updated, err := repo.UpdateJob(ctx, "job-1", func(j *model.Job) error {
		j.Status = model.JobStatusInProgress
		j.TotalFiles = model.IntPtr(5)
		j.DownloadedFiles = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, updated.Status)

	got, err = repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, got.Status)
	require.NotNil(t, got.TotalFiles)
	assert.Equal(t, 5, *got.TotalFiles)
	assert.Equal(t, 2, got.DownloadedFiles)

	require.NoError(t, repo.DeleteJob(ctx, "job-1"))
	_, err = repo.GetJob(ctx, "job-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func testJobConstraints(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateJob(ctx, JobFixture("job-1", "owner-1")))

	err := repo.CreateJob(ctx, JobFixture("job-1", "owner-2"))
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))

	invalid := JobFixture("job-2", "owner-1")
	invalid.TaxID = ""
	err = repo.CreateJob(ctx, invalid)
	assert.True(t, errors.Is(err, model.ErrNotValid))

	_, err = repo.UpdateJob(ctx, "job-x", func(j *model.Job) error { return nil })
	assert.True(t, errors.Is(err, model.ErrNotFound))

	err = repo.DeleteJob(ctx, "job-x")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Downloaded files can't go over the total.
	_, err = repo.UpdateJob(ctx, "job-1", func(j *model.Job) error {
		j.TotalFiles = model.IntPtr(1)
		j.DownloadedFiles = 2
		return nil
	})
	assert.True(t, errors.Is(err, model.ErrNotValid))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.TotalFiles)
	assert.Equal(t, 0, got.DownloadedFiles)
}

func testListJobs(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, owner := range []string{"owner-1", "owner-2", "owner-1"} {
		j := JobFixture(fmt.Sprintf("job-%d", i), owner)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.CreateJob(ctx, j))
	}

	all, err := repo.ListJobs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	owned, err := repo.ListJobs(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "job-2", owned[0].ID, "newest first")
	assert.Equal(t, "job-0", owned[1].ID)

	none, err := repo.ListJobs(ctx, "owner-x")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUpdateMutationError(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateJob(ctx, JobFixture("job-1", "owner-1")))

	errTest := errors.New("whatever")
	_, err := repo.UpdateJob(ctx, "job-1", func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		return errTest
	})
	assert.True(t, errors.Is(err, errTest))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status, "aborted mutations must not be stored")
}

func testConcurrentUpdates(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	j := JobFixture("job-1", "owner-1")
	j.TotalFiles = model.IntPtr(50)
	require.NoError(t, repo.CreateJob(ctx, j))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateJob(ctx, "job-1", func(j *model.Job) error {
				j.DownloadedFiles++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.DownloadedFiles)
}

func testCaptchaSessions(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateJob(ctx, JobFixture("job-1", "owner-1")))

	// Missing job.
	err := repo.CreateCaptchaSession(ctx, CaptchaFixture("cs-0", "job-x"))
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Missing image.
	noImage := CaptchaFixture("cs-0", "job-1")
	noImage.Image = nil
	err = repo.CreateCaptchaSession(ctx, noImage)
	assert.True(t, errors.Is(err, model.ErrNotValid))

	require.NoError(t, repo.CreateCaptchaSession(ctx, CaptchaFixture("cs-1", "job-1")))
	active, err := repo.GetActiveCaptchaSession(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "cs-1", active.ID)
	assert.NotEmpty(t, active.Image)
	assert.False(t, active.Resolved)

	// A new session supersedes the active one.
	require.NoError(t, repo.CreateCaptchaSession(ctx, CaptchaFixture("cs-2", "job-1")))
	active, err = repo.GetActiveCaptchaSession(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "cs-2", active.ID)
	_, err = repo.GetCaptchaSession(ctx, "cs-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Resolve.
	require.NoError(t, repo.ResolveCaptchaSession(ctx, "cs-2"))
	got, err := repo.GetCaptchaSession(ctx, "cs-2")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	_, err = repo.GetActiveCaptchaSession(ctx, "job-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Resolving twice is not valid.
	err = repo.ResolveCaptchaSession(ctx, "cs-2")
	assert.True(t, errors.Is(err, model.ErrNotValid))
	err = repo.ResolveCaptchaSession(ctx, "cs-x")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Resolved sessions are kept when a new challenge appears.
	require.NoError(t, repo.CreateCaptchaSession(ctx, CaptchaFixture("cs-3", "job-1")))
	_, err = repo.GetCaptchaSession(ctx, "cs-2")
	assert.NoError(t, err)
}

func testCaptchaCascade(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateJob(ctx, JobFixture("job-1", "owner-1")))
	require.NoError(t, repo.CreateCaptchaSession(ctx, CaptchaFixture("cs-1", "job-1")))

	require.NoError(t, repo.DeleteJob(ctx, "job-1"))

	_, err := repo.GetCaptchaSession(ctx, "cs-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
