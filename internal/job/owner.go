package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// GetOwned returns the job only when it belongs to the owner. Jobs of other
// owners are reported as not found so their existence is not leaked.
func GetOwned(ctx context.Context, repo storage.JobRepository, ownerID, id string) (*model.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner is required: %w", model.ErrNotValid)
	}

	j, err := repo.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("job %s not found: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get job: %w", err)
	}
	if j.OwnerID != ownerID {
		return nil, fmt.Errorf("job %s not found: %w", id, model.ErrNotFound)
	}

	return j, nil
}
