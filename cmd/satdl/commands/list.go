package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/list"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/printer"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	statusFilter string
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the jobs.")
	c.Cmd.Flag("status", "Filter by status (pending, in_progress, captcha_required, resuming, completed, failed).").StringVar(&c.statusFilter)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	var statusFilter *model.JobStatus
	if c.statusFilter != "" {
		st, err := model.ParseJobStatus(c.statusFilter)
		if err != nil {
			return fmt.Errorf("invalid status filter: %w", err)
		}
		statusFilter = &st
	}

	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Repository: st.repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	jobs, err := svc.Run(ctx, list.Request{
		OwnerID:      c.rootCmd.Owner,
		StatusFilter: statusFilter,
	})
	if err != nil {
		return fmt.Errorf("could not list jobs: %w", err)
	}

	if err := printer.New(c.format, c.rootCmd.Stdout).PrintList(jobs); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
