package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/app/captcha"
	"github.com/slok/satdl/internal/printer"
)

type CaptchaCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID  string
	output string
}

// NewCaptchaCommand returns the captcha command.
func NewCaptchaCommand(rootCmd *RootCommand, app *kingpin.Application) *CaptchaCommand {
	c := &CaptchaCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("captcha", "Write the CAPTCHA image a suspended job is waiting for.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)
	c.Cmd.Flag("output", "Image file, - for stdout.").Short('o').Default("captcha.png").StringVar(&c.output)

	return c
}

func (c CaptchaCommand) Name() string { return c.Cmd.FullCommand() }

func (c CaptchaCommand) Run(ctx context.Context) error {
	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := captcha.NewService(captcha.ServiceConfig{
		Repository: st.repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	cs, err := svc.Run(ctx, captcha.Request{OwnerID: c.rootCmd.Owner, JobID: c.jobID})
	if err != nil {
		return fmt.Errorf("could not get captcha: %w", err)
	}

	if c.output == "-" {
		_, err := c.rootCmd.Stdout.Write(cs.Image)
		return err
	}

	if err := os.WriteFile(c.output, cs.Image, 0o600); err != nil {
		return fmt.Errorf("could not write captcha image: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stderr, "CAPTCHA session %s written to %s (%s)\n", cs.ID, c.output, printer.FormatBytes(int64(len(cs.Image))))

	return nil
}
