package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/satdl/internal/model"
)

// JSONPrinter prints job information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type jobOutput struct {
	ID               string    `json:"id"`
	TaxID            string    `json:"tax_id"`
	StartDate        string    `json:"start_date"`
	EndDate          string    `json:"end_date"`
	Status           string    `json:"status"`
	TotalFiles       *int      `json:"total_files"`
	DownloadedFiles  int       `json:"downloaded_files"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ArtifactPath     string    `json:"artifact_path,omitempty"`
	CaptchaSessionID string    `json:"captcha_session_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func mapJob(j model.Job) jobOutput {
	return jobOutput{
		ID:              j.ID,
		TaxID:           j.TaxID,
		StartDate:       j.Range.Start.Format(model.DateLayout),
		EndDate:         j.Range.End.Format(model.DateLayout),
		Status:          string(j.Status),
		TotalFiles:      j.TotalFiles,
		DownloadedFiles: j.DownloadedFiles,
		ErrorMessage:    j.ErrorMessage,
		ArtifactPath:    j.ArtifactPath,
		CreatedAt:       j.CreatedAt.UTC(),
		UpdatedAt:       j.UpdatedAt.UTC(),
	}
}

// PrintList prints jobs in JSON format.
func (p *JSONPrinter) PrintList(jobs []model.Job) error {
	items := make([]jobOutput, len(jobs))
	for i, j := range jobs {
		items[i] = mapJob(j)
	}
	return p.encode(items)
}

// PrintStatus prints the job in JSON format.
func (p *JSONPrinter) PrintStatus(j model.Job, captchaSessionID string) error {
	out := mapJob(j)
	out.CaptchaSessionID = captchaSessionID
	return p.encode(out)
}

// PrintChecks prints preflight check results in JSON format.
func (p *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkOutput, len(results))
	for i, r := range results {
		items[i] = checkOutput{ID: r.ID, Status: string(r.Status), Message: r.Message}
	}
	return p.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (p *JSONPrinter) PrintMessage(msg string) error {
	return p.encode(messageOutput{Message: msg})
}

func (p *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
