package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/artifact/gcs"
	"github.com/slok/satdl/internal/artifact/local"
	"github.com/slok/satdl/internal/artifact/s3"
	"github.com/slok/satdl/internal/browser/chromedp"
	"github.com/slok/satdl/internal/config"
	"github.com/slok/satdl/internal/conventions"
	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/netwatch"
	"github.com/slok/satdl/internal/portal"
	"github.com/slok/satdl/internal/storage"
	storageio "github.com/slok/satdl/internal/storage/io"
	"github.com/slok/satdl/internal/storage/memory"
	"github.com/slok/satdl/internal/storage/notify"
	"github.com/slok/satdl/internal/storage/postgres"
	"github.com/slok/satdl/internal/storage/sqlite"
)

// feedRepository is a repository with its change feed.
type feedRepository interface {
	storage.Repository
	storage.ChangeFeed
}

// stack has the components shared by the commands, built from the configuration.
type stack struct {
	cfg       *config.Config
	repo      feedRepository
	artifacts artifact.Store
	logger    log.Logger

	// ping checks the database connection, nil for in-memory stores.
	ping    func(ctx context.Context) error
	closers []func() error
}

func newStack(ctx context.Context, root RootCommand) (*stack, error) {
	cfg, err := root.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}

	s := &stack{cfg: cfg, logger: root.Logger}

	s.repo, err = s.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	s.artifacts, err = s.newArtifacts(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *stack) newRepository(ctx context.Context) (feedRepository, error) {
	c := s.cfg.Storage
	switch c.Backend {
	case config.StoragePostgres:
		repo, err := postgres.NewRepository(ctx, postgres.RepositoryConfig{
			DSN:      c.Postgres.DSN,
			MaxConns: c.Postgres.MaxConns,
			Logger:   s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create postgres repository: %w", err)
		}
		s.closers = append(s.closers, repo.Close)
		s.ping = repo.Ping
		return repo, nil

	case config.StorageMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: s.logger})
		if err != nil {
			return nil, fmt.Errorf("could not create memory repository: %w", err)
		}
		return s.withHub(repo)

	default:
		path := c.SQLite.Path
		if path == "" {
			path = conventions.DBPath(s.cfg.DataDir)
		}
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path, Logger: s.logger})
		if err != nil {
			return nil, fmt.Errorf("could not create sqlite repository: %w", err)
		}
		s.closers = append(s.closers, repo.Close)
		s.ping = repo.Ping
		return s.withHub(repo)
	}
}

// withHub publishes the changes made by this process, the only writer of
// in-process stores.
func (s *stack) withHub(repo storage.Repository) (feedRepository, error) {
	hub, err := notify.NewHub(notify.HubConfig{Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create change hub: %w", err)
	}
	return notify.NewRepository(repo, hub), nil
}

func (s *stack) newArtifacts(ctx context.Context) (artifact.Store, error) {
	c := s.cfg.Artifacts
	switch c.Backend {
	case config.ArtifactsS3:
		store, err := s3.NewStore(ctx, s3.StoreConfig{
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Logger:    s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create s3 artifact store: %w", err)
		}
		return store, nil

	case config.ArtifactsGCS:
		store, err := gcs.NewStore(ctx, gcs.StoreConfig{
			Bucket: c.GCS.Bucket,
			Prefix: c.GCS.Prefix,
			Logger: s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create gcs artifact store: %w", err)
		}
		return store, nil

	default:
		store, err := local.NewStore(local.StoreConfig{Root: s.localArtifactsPath(), Logger: s.logger})
		if err != nil {
			return nil, fmt.Errorf("could not create local artifact store: %w", err)
		}
		return store, nil
	}
}

func (s *stack) localArtifactsPath() string {
	if s.cfg.Artifacts.Local.Path != "" {
		return s.cfg.Artifacts.Local.Path
	}
	return conventions.ArtifactsPath(s.cfg.DataDir)
}

func (s *stack) newDriver() (*chromedp.Driver, error) {
	c := s.cfg.Browser
	d, err := chromedp.NewDriver(chromedp.DriverConfig{
		ExecPath:      c.ExecPath,
		Headless:      c.Headless,
		NoSandbox:     c.NoSandbox,
		UserAgent:     c.UserAgent,
		ActionTimeout: c.ActionTimeout,
		StartTimeout:  c.StartTimeout,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create browser driver: %w", err)
	}
	return d, nil
}

func (s *stack) loadProfile(ctx context.Context) (model.PortalProfile, error) {
	path := s.cfg.Portal.Profile
	if path == "" {
		return storageio.NewEmbeddedProfileRepository().GetProfile(ctx, storageio.DefaultProfilePath)
	}
	repo := storageio.NewProfileYAMLRepository(os.DirFS(filepath.Dir(path)))
	return repo.GetProfile(ctx, filepath.Base(path))
}

// newRunner returns a runner driving a real browser against the portal.
func (s *stack) newRunner(ctx context.Context) (*job.Runner, error) {
	driver, err := s.newDriver()
	if err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load portal profile: %w", err)
	}

	p, err := portal.New(portal.Config{Profile: profile, Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create portal: %w", err)
	}

	recorder, err := netwatch.NewRecorder(netwatch.RecorderConfig{Policy: s.cfg.EgressPolicy(), Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create network recorder: %w", err)
	}

	orch, err := job.NewOrchestrator(job.OrchestratorConfig{
		Repository:         s.repo,
		Driver:             driver,
		Stages:             p,
		Artifacts:          s.artifacts,
		Interceptor:        recorder,
		DownloadDir:        conventions.DownloadsPath(s.cfg.DataDir),
		DiagnosticsTimeout: s.cfg.Jobs.DiagnosticsTimeout,
		Logger:             s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create orchestrator: %w", err)
	}

	runner, err := job.NewRunner(job.RunnerConfig{
		Executor:      orch,
		MaxConcurrent: s.cfg.Jobs.MaxConcurrent,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create runner: %w", err)
	}

	return runner, nil
}

// stopRunner cancels the running executions and waits for them to record
// their final state.
func (s *stack) stopRunner(r *job.Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Jobs.ShutdownTimeout)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		s.logger.Warningf("Could not stop job executions: %s", err)
	}
}

// Close releases the stack resources.
func (s *stack) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
