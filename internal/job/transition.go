package job

import (
	"context"
	"fmt"

	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// Transition changes the status of a job inside a single atomic update. The
// change must be an edge of the transition table, otherwise the stored job is
// left untouched and model.ErrInvalidTransition is returned. The optional
// mutation runs in the same update and can't change the status.
func Transition(ctx context.Context, repo storage.JobRepository, id string, to model.JobStatus, mutate storage.JobMutation) (*model.Job, error) {
	return repo.UpdateJob(ctx, id, func(j *model.Job) error {
		if !j.Status.CanTransitionTo(to) {
			return fmt.Errorf("job %s can't move from %s to %s: %w", j.ID, j.Status, to, model.ErrInvalidTransition)
		}

		j.Status = to
		if mutate == nil {
			return nil
		}
		if err := mutate(j); err != nil {
			return err
		}
		if j.Status != to {
			return fmt.Errorf("status can't be changed by the transition mutation: %w", model.ErrInvalidTransition)
		}
		return nil
	})
}

// SetTotal records the number of search results of a running job.
func SetTotal(ctx context.Context, repo storage.JobRepository, id string, total int) (*model.Job, error) {
	return repo.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusInProgress {
			return fmt.Errorf("job %s is %s, total can only be set in progress: %w", j.ID, j.Status, model.ErrNotValid)
		}
		if total < j.DownloadedFiles {
			return fmt.Errorf("total %d is lower than downloaded files %d: %w", total, j.DownloadedFiles, model.ErrNotValid)
		}
		j.TotalFiles = model.IntPtr(total)
		return nil
	})
}

// IncrementProgress adds one downloaded file to a running job. Progress never
// goes over the total.
func IncrementProgress(ctx context.Context, repo storage.JobRepository, id string) (*model.Job, error) {
	return repo.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusInProgress {
			return fmt.Errorf("job %s is %s, progress can only change in progress: %w", j.ID, j.Status, model.ErrNotValid)
		}
		if j.TotalFiles == nil {
			return fmt.Errorf("job %s has no total files yet: %w", j.ID, model.ErrNotValid)
		}
		if j.DownloadedFiles >= *j.TotalFiles {
			return fmt.Errorf("job %s already downloaded all its %d files: %w", j.ID, *j.TotalFiles, model.ErrNotValid)
		}
		j.DownloadedFiles++
		return nil
	})
}
