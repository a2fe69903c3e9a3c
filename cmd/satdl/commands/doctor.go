package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/config"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/printer"
)

const doctorBrowserTimeout = 30 * time.Second

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	skipBrowser bool
	format      string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks of the browser, database and artifact storage.")
	c.Cmd.Flag("skip-browser", "Don't launch the browser.").BoolVar(&c.skipBrowser)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	results := c.check(ctx)

	p := printer.New(c.format, c.rootCmd.Stdout)
	if err := p.PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	errors, warnings := results.Count(model.CheckStatusError), results.Count(model.CheckStatusWarning)
	if c.format == printer.FormatTable {
		fmt.Fprintln(c.rootCmd.Stdout)
		switch {
		case errors == 0 && warnings == 0:
			fmt.Fprintln(c.rootCmd.Stdout, "All checks passed!")
		default:
			var summary []string
			if errors > 0 {
				summary = append(summary, fmt.Sprintf("%d error(s)", errors))
			}
			if warnings > 0 {
				summary = append(summary, fmt.Sprintf("%d warning(s)", warnings))
			}
			fmt.Fprintln(c.rootCmd.Stdout, strings.Join(summary, ", "))
		}
	}

	if results.Failed() {
		return fmt.Errorf("preflight checks failed with %d error(s)", errors)
	}

	return nil
}

func (c DoctorCommand) check(ctx context.Context) model.Checks {
	st, err := newStack(ctx, *c.rootCmd)
	if err != nil {
		return model.Checks{errorCheck("setup", err)}
	}
	defer st.Close()

	results := model.Checks{
		okCheck("config", "configuration loaded"),
		checkDataDir(st.cfg.DataDir),
		c.checkDatabase(ctx, st),
		checkArtifacts(ctx, st),
		checkTokens(st.cfg),
	}

	if _, err := st.loadProfile(ctx); err != nil {
		results = append(results, errorCheck("portal_profile", err))
	} else {
		results = append(results, okCheck("portal_profile", "portal profile is valid"))
	}

	if !c.skipBrowser {
		results = append(results, checkBrowser(ctx, st))
	}

	return results
}

func checkDataDir(dir string) model.CheckResult {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return errorCheck("data_dir", fmt.Errorf("%s is not writable: %w", dir, err))
	}
	f.Close()
	_ = os.Remove(f.Name())
	return okCheck("data_dir", dir+" is writable")
}

func (c DoctorCommand) checkDatabase(ctx context.Context, st *stack) model.CheckResult {
	if st.ping == nil {
		return model.CheckResult{ID: "database", Status: model.CheckStatusWarning, Message: "memory storage, jobs are lost on exit"}
	}
	if err := st.ping(ctx); err != nil {
		return errorCheck("database", err)
	}
	if _, err := st.repo.ListJobs(ctx, c.rootCmd.Owner); err != nil {
		return errorCheck("database", err)
	}
	return okCheck("database", st.cfg.Storage.Backend+" database is reachable")
}

func checkArtifacts(ctx context.Context, st *stack) model.CheckResult {
	const prefix = "doctor/"
	if _, err := st.artifacts.Put(ctx, prefix+"check.txt", artifact.ContentTypeText, []byte("ok")); err != nil {
		return errorCheck("artifacts", fmt.Errorf("could not write: %w", err))
	}
	if err := st.artifacts.DeletePrefix(ctx, prefix); err != nil {
		return errorCheck("artifacts", fmt.Errorf("could not delete: %w", err))
	}
	return okCheck("artifacts", st.cfg.Artifacts.Backend+" artifact store is writable")
}

func checkTokens(cfg *config.Config) model.CheckResult {
	if len(cfg.Tokens) == 0 {
		return model.CheckResult{ID: "api_tokens", Status: model.CheckStatusWarning, Message: "no API tokens, the server won't start"}
	}
	return okCheck("api_tokens", fmt.Sprintf("%d API token(s)", len(cfg.Tokens)))
}

func checkBrowser(ctx context.Context, st *stack) model.CheckResult {
	d, err := st.newDriver()
	if err != nil {
		return errorCheck("browser", err)
	}

	ctx, cancel := context.WithTimeout(ctx, doctorBrowserTimeout)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		return errorCheck("browser", fmt.Errorf("could not launch: %w", err))
	}
	return okCheck("browser", "browser launches")
}

func okCheck(id, msg string) model.CheckResult {
	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: msg}
}

func errorCheck(id string, err error) model.CheckResult {
	return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: err.Error()}
}
