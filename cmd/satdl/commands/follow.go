package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/printer"
	"github.com/slok/satdl/internal/storage"
)

// settled returns true when the job doesn't need this process anymore.
func settled(s model.JobStatus) bool {
	return s.IsTerminal() || s == model.JobStatusCaptchaRequired
}

// follow prints the progress of the job until it's settled. The events must be
// subscribed before the job execution starts so no change is missed.
func follow(ctx context.Context, repo storage.JobRepository, events <-chan model.JobEvent, jobID string, out io.Writer) (*model.Job, error) {
	j, err := repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("could not get job: %w", err)
	}
	if settled(j.Status) {
		return j, nil
	}

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("change feed closed")
			}
			if ev.Job.ID != jobID {
				continue
			}
			if ev.Type == model.JobEventDelete {
				return nil, fmt.Errorf("job %s was removed: %w", jobID, model.ErrNotFound)
			}

			line := fmt.Sprintf("%s %s", ev.Job.Status, printer.FormatProgress(ev.Job))
			if line != last {
				fmt.Fprintln(out, line)
				last = line
			}
			if settled(ev.Job.Status) {
				j := ev.Job
				return &j, nil
			}
		}
	}
}
