// Package notify adds a change feed to repositories that don't have a native
// one. Events are fanned out in-process to every subscriber.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

const defaultSubscriberBuffer = 64

// HubConfig is the configuration for the hub.
type HubConfig struct {
	// SubscriberBuffer is the per-subscriber queue size. Events for a full
	// subscriber are dropped.
	SubscriberBuffer int
	Logger           log.Logger
}

func (c *HubConfig) defaults() error {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "notify.Hub"})
	return nil
}

// Hub fans out job events to subscribers.
type Hub struct {
	buffer int
	subs   map[int]chan model.JobEvent
	nextID int
	mu     sync.Mutex
	logger log.Logger
}

var _ storage.ChangeFeed = &Hub{}

// NewHub returns a new hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Hub{
		buffer: cfg.SubscriberBuffer,
		subs:   map[int]chan model.JobEvent{},
		logger: cfg.Logger,
	}, nil
}

// Subscribe registers a subscriber until the context is done.
func (h *Hub) Subscribe(ctx context.Context) (<-chan model.JobEvent, error) {
	ch := make(chan model.JobEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

// Publish sends an event to all the subscribers without blocking.
func (h *Hub) Publish(ev model.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warningf("Subscriber %d is full, dropping %s event of job %s", id, ev.Type, ev.Job.ID)
		}
	}
}

// Repository decorates a storage.Repository publishing job changes on a hub.
type Repository struct {
	storage.Repository
	hub *Hub
}

var _ storage.Repository = &Repository{}

// NewRepository wraps a repository so its job mutations are published on the hub.
func NewRepository(repo storage.Repository, hub *Hub) *Repository {
	return &Repository{Repository: repo, hub: hub}
}

// Subscribe implements storage.ChangeFeed.
func (r *Repository) Subscribe(ctx context.Context) (<-chan model.JobEvent, error) {
	return r.hub.Subscribe(ctx)
}

func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	if err := r.Repository.CreateJob(ctx, j); err != nil {
		return err
	}

	created, err := r.Repository.GetJob(ctx, j.ID)
	if err != nil {
		// Created but already gone, publish what we have.
		created = &j
	}
	r.hub.Publish(model.JobEvent{Type: model.JobEventInsert, Job: *created})
	return nil
}

func (r *Repository) UpdateJob(ctx context.Context, id string, mutate storage.JobMutation) (*model.Job, error) {
	j, err := r.Repository.UpdateJob(ctx, id, mutate)
	if err != nil {
		return nil, err
	}

	r.hub.Publish(model.JobEvent{Type: model.JobEventUpdate, Job: *j})
	return j, nil
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	// Best effort to know the owner of the deleted job for subscriber filtering.
	ev := model.JobEvent{Type: model.JobEventDelete, Job: model.Job{ID: id}}
	if j, err := r.Repository.GetJob(ctx, id); err == nil {
		ev.Job = *j
	}

	if err := r.Repository.DeleteJob(ctx, id); err != nil {
		return err
	}

	r.hub.Publish(ev)
	return nil
}
