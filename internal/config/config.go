// Package config loads the server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slok/satdl/internal/model"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Artifact backends.
const (
	ArtifactsLocal = "local"
	ArtifactsS3    = "s3"
	ArtifactsGCS   = "gcs"
)

// EnvPrefix prefixes the environment variables overriding the file, with
// dots replaced by underscores (SATDL_STORAGE_BACKEND).
const EnvPrefix = "SATDL"

type Config struct {
	Listen string `mapstructure:"listen"`
	// DataDir holds the default database, downloads and local artifacts.
	DataDir   string          `mapstructure:"data_dir"`
	Tokens    []TokenConfig   `mapstructure:"tokens"`
	API       APIConfig       `mapstructure:"api"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Portal    PortalConfig    `mapstructure:"portal"`
}

// TokenConfig maps an API bearer token to the owner of the jobs.
type TokenConfig struct {
	Token string `mapstructure:"token"`
	Owner string `mapstructure:"owner"`
}

type APIConfig struct {
	// SubmitRate is the number of submissions per second allowed per owner.
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
	Mode        string  `mapstructure:"mode"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	// Path defaults to the database of the data dir.
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type ArtifactsConfig struct {
	Backend string              `mapstructure:"backend"`
	Local   LocalArtifactConfig `mapstructure:"local"`
	S3      S3ArtifactConfig    `mapstructure:"s3"`
	GCS     GCSArtifactConfig   `mapstructure:"gcs"`
}

type LocalArtifactConfig struct {
	// Path defaults to the artifacts dir of the data dir.
	Path string `mapstructure:"path"`
}

type S3ArtifactConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type GCSArtifactConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type JobsConfig struct {
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	CaptchaWait        time.Duration `mapstructure:"captcha_wait"`
	DiagnosticsTimeout time.Duration `mapstructure:"diagnostics_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type JanitorConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type BrowserConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	Headless      bool          `mapstructure:"headless"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
	UserAgent     string        `mapstructure:"user_agent"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	StartTimeout  time.Duration `mapstructure:"start_timeout"`
}

type PortalConfig struct {
	// Profile is a portal profile YAML file, the embedded SAT profile when empty.
	Profile string       `mapstructure:"profile"`
	Egress  EgressConfig `mapstructure:"egress"`
}

type EgressConfig struct {
	Default string             `mapstructure:"default"`
	Rules   []EgressRuleConfig `mapstructure:"rules"`
}

type EgressRuleConfig struct {
	Domain string `mapstructure:"domain"`
	CIDR   string `mapstructure:"cidr"`
	Action string `mapstructure:"action"`
}

// Load loads the configuration from the file and the environment, a missing
// file is only an error when the path is explicit.
func Load(path, dataDir string) (*Config, error) {
	v := viper.New()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, dataDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("api.submit_rate", 0.2)
	v.SetDefault("api.submit_burst", 3)
	v.SetDefault("api.mode", "release")
	v.SetDefault("storage.backend", StorageSQLite)
	v.SetDefault("storage.sqlite.path", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("artifacts.backend", ArtifactsLocal)
	v.SetDefault("artifacts.local.path", "")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.prefix", "")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.access_key", "")
	v.SetDefault("artifacts.s3.secret_key", "")
	v.SetDefault("artifacts.gcs.bucket", "")
	v.SetDefault("artifacts.gcs.prefix", "")
	v.SetDefault("jobs.max_concurrent", 2)
	v.SetDefault("jobs.captcha_wait", 20*time.Second)
	v.SetDefault("jobs.diagnostics_timeout", 15*time.Second)
	v.SetDefault("jobs.shutdown_timeout", 30*time.Second)
	v.SetDefault("janitor.schedule", "@every 1m")
	v.SetDefault("janitor.stale_after", 10*time.Minute)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.action_timeout", 30*time.Second)
	v.SetDefault("browser.start_timeout", 30*time.Second)
	v.SetDefault("portal.profile", "")
	v.SetDefault("portal.egress.default", string(model.EgressActionAllow))
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required: %w", model.ErrNotValid)
	}

	seen := map[string]bool{}
	for i, t := range c.Tokens {
		if t.Token == "" || t.Owner == "" {
			return fmt.Errorf("token %d: token and owner are required: %w", i, model.ErrNotValid)
		}
		if seen[t.Token] {
			return fmt.Errorf("token %d is repeated: %w", i, model.ErrNotValid)
		}
		seen[t.Token] = true
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres storage requires a dsn: %w", model.ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown storage backend %q: %w", c.Storage.Backend, model.ErrNotValid)
	}

	switch c.Artifacts.Backend {
	case ArtifactsLocal:
	case ArtifactsS3:
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("s3 artifacts require a bucket: %w", model.ErrNotValid)
		}
	case ArtifactsGCS:
		if c.Artifacts.GCS.Bucket == "" {
			return fmt.Errorf("gcs artifacts require a bucket: %w", model.ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q: %w", c.Artifacts.Backend, model.ErrNotValid)
	}

	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive: %w", model.ErrNotValid)
	}

	if err := c.EgressPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid portal egress: %w", err)
	}

	return nil
}

// TokenOwners returns the owner of every API token.
func (c Config) TokenOwners() map[string]string {
	owners := make(map[string]string, len(c.Tokens))
	for _, t := range c.Tokens {
		owners[t.Token] = t.Owner
	}
	return owners
}

// EgressPolicy returns the expected egress of the portal.
func (c Config) EgressPolicy() model.EgressPolicy {
	p := model.EgressPolicy{Default: model.EgressAction(strings.ToLower(c.Portal.Egress.Default))}
	for _, r := range c.Portal.Egress.Rules {
		p.Rules = append(p.Rules, model.EgressRule{
			Domain: r.Domain,
			CIDR:   r.CIDR,
			Action: model.EgressAction(strings.ToLower(r.Action)),
		})
	}
	return p
}
