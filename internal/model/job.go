package model

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the state of a retrieval job.
type JobStatus string

const (
	// JobStatusPending indicates the job was created and has not started yet.
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress indicates a pipeline is driving the portal for the job.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCaptchaRequired indicates the job is suspended waiting for a human to solve a challenge.
	JobStatusCaptchaRequired JobStatus = "captcha_required"
	// JobStatusResuming indicates a challenge was resolved and a new execution was requested.
	JobStatusResuming JobStatus = "resuming"
	// JobStatusCompleted indicates the job finished successfully (including zero results).
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job finished with an unrecoverable error.
	JobStatusFailed JobStatus = "failed"
)

// JobStatuses is the closed set of job statuses.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusCaptchaRequired,
	JobStatusResuming,
	JobStatusCompleted,
	JobStatusFailed,
}

// jobTransitions is the only set of valid status edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:         {JobStatusInProgress},
	JobStatusInProgress:      {JobStatusCaptchaRequired, JobStatusCompleted, JobStatusFailed},
	JobStatusCaptchaRequired: {JobStatusResuming},
	JobStatusResuming:        {JobStatusInProgress},
}

// Valid returns true if the status is a known one.
func (s JobStatus) Valid() bool {
	for _, st := range JobStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses that never transition elsewhere.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo returns true if moving from s to the next status is an allowed edge.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, st := range jobTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// ParseJobStatus parses a job status string.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown job status %q: %w", s, ErrNotValid)
	}
	return st, nil
}

// DateLayout is the ISO calendar date layout used by the date range bounds.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses two ISO calendar dates into a range.
func ParseDateRange(start, end string) (DateRange, error) {
	if start == "" || end == "" {
		return DateRange{}, fmt.Errorf("start and end dates are required: %w", ErrNotValid)
	}

	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("malformed start date %q: %w", start, ErrNotValid)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("malformed end date %q: %w", end, ErrNotValid)
	}

	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate validates the date range.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("start and end dates are required: %w", ErrNotValid)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("start date must not be after end date: %w", ErrNotValid)
	}
	return nil
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// Job represents one retrieval run for a tax identifier and date range.
type Job struct {
	ID      string
	OwnerID string
	TaxID   string
	Range   DateRange
	Status  JobStatus

	// TotalFiles is nil until the search stage finishes.
	TotalFiles      *int
	DownloadedFiles int

	// ErrorMessage is empty unless the job failed.
	ErrorMessage string
	// ArtifactPath is the reference of the captured failure artifact, if any.
	ArtifactPath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if j.OwnerID == "" {
		return fmt.Errorf("owner id is required: %w", ErrNotValid)
	}
	if strings.TrimSpace(j.TaxID) == "" {
		return fmt.Errorf("tax id is required: %w", ErrNotValid)
	}
	if err := j.Range.Validate(); err != nil {
		return err
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q: %w", j.Status, ErrNotValid)
	}
	if j.DownloadedFiles < 0 {
		return fmt.Errorf("downloaded files can't be negative: %w", ErrNotValid)
	}
	if j.TotalFiles != nil {
		if *j.TotalFiles < 0 {
			return fmt.Errorf("total files can't be negative: %w", ErrNotValid)
		}
		if j.DownloadedFiles > *j.TotalFiles {
			return fmt.Errorf("downloaded files (%d) exceed total files (%d): %w", j.DownloadedFiles, *j.TotalFiles, ErrNotValid)
		}
	}
	return nil
}

// Progress returns the downloaded and total counters, total is 0 while unknown.
func (j *Job) Progress() (done, total int) {
	if j.TotalFiles == nil {
		return j.DownloadedFiles, 0
	}
	return j.DownloadedFiles, *j.TotalFiles
}

// IntPtr is a helper to set optional int fields.
func IntPtr(i int) *int { return &i }
