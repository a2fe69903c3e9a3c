package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"golang.org/x/time/rate"

	"github.com/slok/satdl/internal/api"
	"github.com/slok/satdl/internal/app/captcha"
	"github.com/slok/satdl/internal/app/list"
	"github.com/slok/satdl/internal/app/remove"
	"github.com/slok/satdl/internal/app/resolve"
	"github.com/slok/satdl/internal/app/status"
	"github.com/slok/satdl/internal/app/submit"
	"github.com/slok/satdl/internal/janitor"
	"github.com/slok/satdl/internal/job"
)

const serverDrainTimeout = 10 * time.Second

type ServerCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listen string
}

// NewServerCommand returns the server command.
func NewServerCommand(rootCmd *RootCommand, app *kingpin.Application) *ServerCommand {
	c := &ServerCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("server", "Serve the jobs HTTP API and run the submitted jobs.")
	c.Cmd.Flag("listen", "Address of the HTTP API, overrides the configuration.").StringVar(&c.listen)

	return c
}

func (c ServerCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServerCommand) Run(ctx context.Context) error {
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

	handler, err := c.newAPI(st, runner)
	if err != nil {
		return err
	}

	jan, err := janitor.New(janitor.Config{
		Repository: st.repo,
		Executions: runner,
		Schedule:   st.cfg.Janitor.Schedule,
		StaleAfter: st.cfg.Janitor.StaleAfter,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create janitor: %w", err)
	}

	listen := st.cfg.Listen
	if c.listen != "" {
		listen = c.listen
	}

	var g run.Group

	// Command context.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// HTTP API.
	{
		server := &http.Server{
			Addr:              listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(
			func() error {
				logger.Infof("HTTP API listening on %s", listen)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Warningf("Could not shut down HTTP API: %s", err)
				}
			},
		)
	}

	// Janitor.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return jan.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func (c ServerCommand) newAPI(st *stack, runner job.Launcher) (http.Handler, error) {
	logger := c.rootCmd.Logger

	submitSvc, err := submit.NewService(submit.ServiceConfig{Repository: st.repo, Launcher: runner, CaptchaWait: st.cfg.Jobs.CaptchaWait, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create submit service: %w", err)
	}
	listSvc, err := list.NewService(list.ServiceConfig{Repository: st.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create list service: %w", err)
	}
	statusSvc, err := status.NewService(status.ServiceConfig{Repository: st.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create status service: %w", err)
	}
	removeSvc, err := remove.NewService(remove.ServiceConfig{Repository: st.repo, Launcher: runner, Artifacts: st.artifacts, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create remove service: %w", err)
	}
	resolveSvc, err := resolve.NewService(resolve.ServiceConfig{Repository: st.repo, Launcher: runner, CaptchaWait: st.cfg.Jobs.CaptchaWait, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create resolve service: %w", err)
	}
	captchaSvc, err := captcha.NewService(captcha.ServiceConfig{Repository: st.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create captcha service: %w", err)
	}

	srv, err := api.New(api.Config{
		Submit:      submitSvc,
		List:        listSvc,
		Status:      statusSvc,
		Remove:      removeSvc,
		Resolve:     resolveSvc,
		Captcha:     captchaSvc,
		Feed:        st.repo,
		Tokens:      st.cfg.TokenOwners(),
		SubmitRate:  rate.Limit(st.cfg.API.SubmitRate),
		SubmitBurst: st.cfg.API.SubmitBurst,
		Mode:        st.cfg.API.Mode,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create API: %w", err)
	}

	return srv.Handler(), nil
}
