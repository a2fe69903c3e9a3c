package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/config"
	"github.com/slok/satdl/internal/model"
)

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		env    map[string]string
		exp    func(t *testing.T, dataDir string, cfg *config.Config)
		expErr bool
	}{
		"Without file the defaults are used.": {
			exp: func(t *testing.T, dataDir string, cfg *config.Config) {
				assert := assert.New(t)
				assert.Equal(":8080", cfg.Listen)
				assert.Equal(dataDir, cfg.DataDir)
				assert.Equal(config.StorageSQLite, cfg.Storage.Backend)
				assert.Equal(config.ArtifactsLocal, cfg.Artifacts.Backend)
				assert.Equal(2, cfg.Jobs.MaxConcurrent)
				assert.Equal(20*time.Second, cfg.Jobs.CaptchaWait)
				assert.Equal("@every 1m", cfg.Janitor.Schedule)
				assert.Equal(10*time.Minute, cfg.Janitor.StaleAfter)
				assert.True(cfg.Browser.Headless)
				assert.Equal(0.2, cfg.API.SubmitRate)
				assert.Equal(model.EgressPolicy{Default: model.EgressActionAllow}, cfg.EgressPolicy())
				assert.Empty(cfg.TokenOwners())
			},
		},

		"A config file should be loaded.": {
			file: `
listen: ":9090"
tokens:
  - token: Tok-A
    owner: alice
  - token: tok-b
    owner: bob
storage:
  backend: postgres
  postgres:
    dsn: postgres://satdl@localhost/satdl
artifacts:
  backend: s3
  s3:
    bucket: diagnostics
    endpoint: http://localhost:9000
jobs:
  max_concurrent: 4
  captcha_wait: 5s
janitor:
  stale_after: 1h
portal:
  egress:
    default: deny
    rules:
      - domain: "*.sat.gob.mx"
        action: allow
`,
			exp: func(t *testing.T, dataDir string, cfg *config.Config) {
				assert := assert.New(t)
				assert.Equal(":9090", cfg.Listen)
				assert.Equal(map[string]string{"Tok-A": "alice", "tok-b": "bob"}, cfg.TokenOwners())
				assert.Equal(config.StoragePostgres, cfg.Storage.Backend)
				assert.Equal("postgres://satdl@localhost/satdl", cfg.Storage.Postgres.DSN)
				assert.Equal(config.ArtifactsS3, cfg.Artifacts.Backend)
				assert.Equal("diagnostics", cfg.Artifacts.S3.Bucket)
				assert.Equal("us-east-1", cfg.Artifacts.S3.Region)
				assert.Equal(4, cfg.Jobs.MaxConcurrent)
				assert.Equal(5*time.Second, cfg.Jobs.CaptchaWait)
				assert.Equal(time.Hour, cfg.Janitor.StaleAfter)
				assert.Equal(model.EgressPolicy{
					Default: model.EgressActionDeny,
					Rules:   []model.EgressRule{{Domain: "*.sat.gob.mx", Action: model.EgressActionAllow}},
				}, cfg.EgressPolicy())
			},
		},

		"Environment should override the file.": {
			file: `
storage:
  backend: sqlite
jobs:
  max_concurrent: 4
`,
			env: map[string]string{
				"SATDL_STORAGE_BACKEND":     "memory",
				"SATDL_JOBS_MAX_CONCURRENT": "8",
			},
			exp: func(t *testing.T, dataDir string, cfg *config.Config) {
				assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
				assert.Equal(t, 8, cfg.Jobs.MaxConcurrent)
			},
		},

		"Unknown storage backends should fail.": {
			file:   "storage:\n  backend: mongo\n",
			expErr: true,
		},

		"Postgres without dsn should fail.": {
			file:   "storage:\n  backend: postgres\n",
			expErr: true,
		},

		"Artifact buckets are required.": {
			file:   "artifacts:\n  backend: gcs\n",
			expErr: true,
		},

		"Tokens without owner should fail.": {
			file:   "tokens:\n  - token: abc\n",
			expErr: true,
		},

		"Repeated tokens should fail.": {
			file:   "tokens:\n  - {token: abc, owner: a}\n  - {token: abc, owner: b}\n",
			expErr: true,
		},

		"Invalid egress should fail.": {
			file:   "portal:\n  egress:\n    default: maybe\n",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			for k, v := range test.env {
				t.Setenv(k, v)
			}

			dataDir := t.TempDir()
			path := ""
			if test.file != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(os.WriteFile(path, []byte(test.file), 0o600))
			}

			cfg, err := config.Load(path, dataDir)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}
			require.NoError(err)
			test.exp(t, dataDir, cfg)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	assert.Error(t, err)
}

func TestLoadFromDataDir(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte("listen: \":7070\"\n"), 0o600))

	cfg, err := config.Load("", dataDir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
}
