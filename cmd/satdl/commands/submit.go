package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/submit"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/printer"
)

type SubmitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taxID      string
	password   string
	startDate  string
	endDate    string
	captchaOut string
	format     string
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("submit", "Submit a retrieval job and run it until it ends or asks for a CAPTCHA.")
	c.Cmd.Flag("tax-id", "Tax identifier (RFC) to log in with.").Required().StringVar(&c.taxID)
	c.Cmd.Flag("password", "Portal password, use the SATDL_SUBMIT_PASSWORD env var to keep it out of the shell history.").Required().StringVar(&c.password)
	c.Cmd.Flag("start", "First date of the range (YYYY-MM-DD).").Required().StringVar(&c.startDate)
	c.Cmd.Flag("end", "Last date of the range (YYYY-MM-DD).").Required().StringVar(&c.endDate)
	c.Cmd.Flag("captcha-out", "File where the CAPTCHA image is written when the portal asks for one.").Default("captcha.png").StringVar(&c.captchaOut)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c SubmitCommand) Name() string { return c.Cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

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

	svc, err := submit.NewService(submit.ServiceConfig{
		Repository:  st.repo,
		Launcher:    runner,
		CaptchaWait: st.cfg.Jobs.CaptchaWait,
		Logger:      logger,
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

	resp, err := svc.Run(ctx, submit.Request{
		OwnerID:   c.rootCmd.Owner,
		TaxID:     c.taxID,
		Password:  c.password,
		StartDate: c.startDate,
		EndDate:   c.endDate,
	})
	if err != nil {
		return fmt.Errorf("could not submit job: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stderr, "Job %s submitted\n", resp.Job.ID)

	j, err := follow(ctx, st.repo, events, resp.Job.ID, c.rootCmd.Stderr)
	if err != nil {
		return err
	}

	return printSettled(ctx, c.rootCmd, st, *j, c.captchaOut, c.format)
}

// printSettled prints the job and writes the CAPTCHA image when the job waits
// for one.
func printSettled(ctx context.Context, root *RootCommand, st *stack, j model.Job, captchaOut, format string) error {
	p := printer.New(format, root.Stdout)

	if j.Status != model.JobStatusCaptchaRequired {
		if err := p.PrintStatus(j, ""); err != nil {
			return fmt.Errorf("could not print job: %w", err)
		}
		if j.Status == model.JobStatusFailed {
			return fmt.Errorf("job %s failed: %s", j.ID, j.ErrorMessage)
		}
		return nil
	}

	cs, err := st.repo.GetActiveCaptchaSession(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("could not get captcha session: %w", err)
	}
	if err := os.WriteFile(captchaOut, cs.Image, 0o600); err != nil {
		return fmt.Errorf("could not write captcha image: %w", err)
	}

	if err := p.PrintStatus(j, cs.ID); err != nil {
		return fmt.Errorf("could not print job: %w", err)
	}
	fmt.Fprintf(root.Stderr, "CAPTCHA written to %s (%s), resume with: satdl resolve %s %s --answer <text>\n",
		captchaOut, printer.FormatBytes(int64(len(cs.Image))), j.ID, cs.ID)

	return nil
}
