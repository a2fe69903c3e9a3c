package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/status"
	"github.com/slok/satdl/internal/printer"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID  string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the status of a job.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := status.NewService(status.ServiceConfig{
		Repository: st.repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, status.Request{OwnerID: c.rootCmd.Owner, JobID: c.jobID})
	if err != nil {
		return fmt.Errorf("could not get job: %w", err)
	}

	if err := printer.New(c.format, c.rootCmd.Stdout).PrintStatus(resp.Job, resp.CaptchaSessionID); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
