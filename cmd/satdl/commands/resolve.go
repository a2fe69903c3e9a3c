package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/resolve"
	"github.com/slok/satdl/internal/printer"
)

type ResolveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID      string
	sessionID  string
	answer     string
	password   string
	captchaOut string
	format     string
}

// NewResolveCommand returns the resolve command.
func NewResolveCommand(rootCmd *RootCommand, app *kingpin.Application) *ResolveCommand {
	c := &ResolveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("resolve", "Answer the CAPTCHA of a suspended job and resume it until it ends or asks again.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)
	c.Cmd.Arg("captcha-session-id", "CAPTCHA session being answered.").Required().StringVar(&c.sessionID)
	c.Cmd.Flag("answer", "Text of the CAPTCHA image.").Required().StringVar(&c.answer)
	c.Cmd.Flag("password", "Portal password, it is never stored so the login is done again.").Required().StringVar(&c.password)
	c.Cmd.Flag("captcha-out", "File where a new CAPTCHA image is written when the portal asks again.").Default("captcha.png").StringVar(&c.captchaOut)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c ResolveCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResolveCommand) Run(ctx context.Context) error {
	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := st.newRunner(ctx)
	if err != nil {
		return err
	}
	defer st.stopRunner(runner)

	svc, err := resolve.NewService(resolve.ServiceConfig{
		Repository:  st.repo,
		Launcher:    runner,
		CaptchaWait: st.cfg.Jobs.CaptchaWait,
		Logger:      c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := st.repo.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("could not subscribe to job changes: %w", err)
	}

	resp, err := svc.Run(ctx, resolve.Request{
		OwnerID:          c.rootCmd.Owner,
		JobID:            c.jobID,
		CaptchaSessionID: c.sessionID,
		Answer:           c.answer,
		Password:         c.password,
	})
	if err != nil {
		return fmt.Errorf("could not resolve captcha: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stderr, "Job %s resumed\n", resp.Job.ID)

	j, err := follow(ctx, st.repo, events, resp.Job.ID, c.rootCmd.Stderr)
	if err != nil {
		return err
	}

	return printSettled(ctx, c.rootCmd, st, *j, c.captchaOut, c.format)
}
