// Package gcs stores artifacts on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/log"
)

// StoreConfig is the configuration of the GCS store.
type StoreConfig struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix string
	// Client is used when set, otherwise one is built with the default credentials.
	Client *storage.Client
	// ClientOptions are used when building the client.
	ClientOptions []option.ClientOption
	Logger        log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "artifact.GCS"})
	return nil
}

// Store is a GCS artifact.Store. References are gs:// URLs.
type Store struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
	logger     log.Logger
}

var _ artifact.Store = &Store{}

// NewStore returns a new GCS store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		c, err := storage.NewClient(ctx, cfg.ClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("could not create GCS client: %w", err)
		}
		client = c
	}

	return &Store{
		bucket:     client.Bucket(cfg.Bucket),
		bucketName: cfg.Bucket,
		prefix:     cfg.Prefix,
		logger:     cfg.Logger,
	}, nil
}

func (s *Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Put implements artifact.Store. Artifacts are immutable, writing an existing
// key keeps the stored object.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	k := s.key(key)
	ref := fmt.Sprintf("gs://%s/%s", s.bucketName, k)

	w := s.bucket.Object(k).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			s.logger.Warningf("Artifact %s already exists", ref)
			return ref, nil
		}
		return "", fmt.Errorf("could not write artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			s.logger.Warningf("Artifact %s already exists", ref)
			return ref, nil
		}
		return "", fmt.Errorf("could not finalize artifact: %w", err)
	}

	s.logger.Debugf("Stored artifact %s", ref)
	return ref, nil
}

// DeletePrefix implements artifact.Store.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.key(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not list artifacts: %w", err)
		}

		err = s.bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("could not delete artifact %s: %w", attrs.Name, err)
		}
	}
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
