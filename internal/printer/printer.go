// Package printer prints jobs for the CLI.
package printer

import (
	"io"

	"github.com/slok/satdl/internal/model"
)

// Printer knows how to print job information in different formats.
type Printer interface {
	PrintList(jobs []model.Job) error
	// PrintStatus prints a job, with the active CAPTCHA session when it's waiting for one.
	PrintStatus(j model.Job, captchaSessionID string) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}

// New returns the printer of the format, table or json.
func New(format string, w io.Writer) Printer {
	if format == FormatJSON {
		return NewJSONPrinter(w)
	}
	return NewTablePrinter(w)
}

const (
	FormatTable = "table"
	FormatJSON  = "json"
)
