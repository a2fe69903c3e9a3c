package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/satdl/internal/config"
	"github.com/slok/satdl/internal/conventions"
	"github.com/slok/satdl/internal/log"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// DefaultOwner owns the jobs managed from the command line.
	DefaultOwner = "local"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	ConfigPath string
	Owner      string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory of the database, downloads and artifacts.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("config", "Configuration file, config.yaml in the working or data directory by default.").StringVar(&c.ConfigPath)
	app.Flag("owner", "Owner of the jobs managed from the command line.").Default(DefaultOwner).StringVar(&c.Owner)

	return c
}

// LoadConfig loads the configuration of the command.
func (c RootCommand) LoadConfig() (*config.Config, error) {
	return config.Load(c.ConfigPath, c.DataDir)
}
