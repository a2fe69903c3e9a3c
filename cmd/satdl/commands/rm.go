package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/remove"
	"github.com/slok/satdl/internal/job"
	"github.com/slok/satdl/internal/model"
)

type RemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID string
	all   bool
}

// NewRemoveCommand returns the rm command.
func NewRemoveCommand(rootCmd *RootCommand, app *kingpin.Application) *RemoveCommand {
	c := &RemoveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rm", "Remove a job, or all of them, with their diagnostic artifacts.")
	c.Cmd.Arg("job-id", "Job ID.").StringVar(&c.jobID)
	c.Cmd.Flag("all", "Remove all the jobs.").BoolVar(&c.all)

	return c
}

func (c RemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c RemoveCommand) Run(ctx context.Context) error {
	if c.all == (c.jobID != "") {
		return fmt.Errorf("a job id or --all is required: %w", model.ErrNotValid)
	}

	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := remove.NewService(remove.ServiceConfig{
		Repository: st.repo,
		Launcher:   idleLauncher{},
		Artifacts:  st.artifacts,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx, remove.Request{OwnerID: c.rootCmd.Owner, JobID: c.jobID, All: c.all})
	if err != nil {
		return fmt.Errorf("could not remove jobs: %w", err)
	}

	for _, j := range removed {
		fmt.Fprintln(c.rootCmd.Stdout, j.ID)
	}

	return nil
}

// idleLauncher is the launcher of the commands that don't run jobs. Executions
// only live in the process running them, this one has none.
type idleLauncher struct{}

var _ job.Launcher = idleLauncher{}

func (idleLauncher) Start(_ context.Context, jobID string, _ model.Credentials) (*job.Handle, error) {
	return nil, fmt.Errorf("job %s can't be started by this command", jobID)
}

func (idleLauncher) Cancel(context.Context, string) error { return nil }

func (idleLauncher) IsRunning(string) bool { return false }
