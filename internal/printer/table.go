package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/satdl/internal/model"
)

// TablePrinter prints job information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints jobs in a table format.
func (t *TablePrinter) PrintList(jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTAX ID\tRANGE\tSTATUS\tFILES\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.TaxID, j.Range, j.Status, FormatProgress(j), TimeAgo(j.CreatedAt))
	}

	return nil
}

// PrintStatus prints detailed job status.
func (t *TablePrinter) PrintStatus(j model.Job, captchaSessionID string) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", j.ID)
	fmt.Fprintf(t.writer, "Tax ID:     %s\n", j.TaxID)
	fmt.Fprintf(t.writer, "Range:      %s\n", j.Range)
	fmt.Fprintf(t.writer, "Status:     %s\n", j.Status)
	fmt.Fprintf(t.writer, "Files:      %s\n", FormatProgress(j))

	if captchaSessionID != "" {
		fmt.Fprintf(t.writer, "Captcha:    %s\n", captchaSessionID)
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", j.ErrorMessage)
	}
	if j.ArtifactPath != "" {
		fmt.Fprintf(t.writer, "Artifact:   %s\n", j.ArtifactPath)
	}

	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(j.CreatedAt))
	fmt.Fprintf(t.writer, "Updated:    %s\n", FormatTimestamp(j.UpdatedAt))

	return nil
}

// PrintChecks prints preflight check results, one per line.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	for _, r := range results {
		fmt.Fprintf(tw, "[%s]\t%s\t%s\n", r.Status, r.ID, r.Message)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
