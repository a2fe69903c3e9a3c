package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/satdl/cmd/satdl/commands"
	"github.com/slok/satdl/internal/log"
	loglogrus "github.com/slok/satdl/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	// Missing .env files are fine, the environment is used as is.
	_ = godotenv.Load()

	app := kingpin.New("satdl", "Tax document retrieval jobs against the SAT portal.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	serverCmd := commands.NewServerCommand(rootCmd, app)
	submitCmd := commands.NewSubmitCommand(rootCmd, app)
	listCmd := commands.NewListCommand(rootCmd, app)
	statusCmd := commands.NewStatusCommand(rootCmd, app)
	removeCmd := commands.NewRemoveCommand(rootCmd, app)
	resolveCmd := commands.NewResolveCommand(rootCmd, app)
	captchaCmd := commands.NewCaptchaCommand(rootCmd, app)
	doctorCmd := commands.NewDoctorCommand(rootCmd, app)

	cmds := map[string]commands.Command{
		serverCmd.Name():  serverCmd,
		submitCmd.Name():  submitCmd,
		listCmd.Name():    listCmd,
		statusCmd.Name():  statusCmd,
		removeCmd.Name():  removeCmd,
		resolveCmd.Name(): resolveCmd,
		captchaCmd.Name(): captchaCmd,
		doctorCmd.Name():  doctorCmd,
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Commands with printer output don't log unless debugging, so the logs
	// don't mix with the output.
	printerCommands := map[string]bool{
		"list":   true,
		"status": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled") // Will log only when debug enabled.

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
