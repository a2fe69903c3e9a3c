package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/slok/satdl/internal/model"
)

const (
	notifyChannel   = "satdl_jobs"
	feedBuffer      = 64
	feedRetryPeriod = 2 * time.Second
)

type notification struct {
	Op      string `json:"op"`
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

// Subscribe listens for job changes notified by the database triggers, so
// changes made by other processes sharing the database are received too.
func (r *Repository) Subscribe(ctx context.Context) (<-chan model.JobEvent, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("could not listen: %w", err)
	}

	ch := make(chan model.JobEvent, feedBuffer)
	go func() {
		defer close(ch)
		defer func() {
			// Connection state is unknown after a cancelled wait, don't reuse it.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.logger.Errorf("Change feed stopped: %s", err)
				return
			}

			ev, err := r.notificationEvent(ctx, n.Payload)
			if err != nil {
				r.logger.Warningf("Ignoring job notification: %s", err)
				continue
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (r *Repository) notificationEvent(ctx context.Context, payload string) (model.JobEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return model.JobEvent{}, fmt.Errorf("invalid payload: %w", err)
	}

	ev := model.JobEvent{Job: model.Job{ID: n.ID, OwnerID: n.OwnerID}}
	switch n.Op {
	case "insert":
		ev.Type = model.JobEventInsert
	case "update":
		ev.Type = model.JobEventUpdate
	case "delete":
		ev.Type = model.JobEventDelete
		return ev, nil
	default:
		return model.JobEvent{}, fmt.Errorf("unknown operation %q", n.Op)
	}

	j, err := r.GetJob(ctx, n.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Deleted after the notification, the delete event will follow.
			return ev, nil
		}
		return model.JobEvent{}, err
	}
	ev.Job = *j

	return ev, nil
}
