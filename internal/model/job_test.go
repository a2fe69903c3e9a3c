package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/model"
)

func TestJobStatusCanTransitionTo(t *testing.T) {
	allowed := map[string]bool{
		"pending->in_progress":          true,
		"in_progress->captcha_required": true,
		"in_progress->completed":        true,
		"in_progress->failed":           true,
		"captcha_required->resuming":    true,
		"resuming->in_progress":         true,
	}

	for _, from := range model.JobStatuses {
		for _, to := range model.JobStatuses {
			edge := fmt.Sprintf("%s->%s", from, to)
			t.Run(edge, func(t *testing.T) {
				assert.Equal(t, allowed[edge], from.CanTransitionTo(to))
			})
		}
	}
}

func TestJobStatusTerminalNeverTransitions(t *testing.T) {
	for _, from := range []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed} {
		assert.True(t, from.IsTerminal())
		for _, to := range model.JobStatuses {
			assert.False(t, from.CanTransitionTo(to), "%s must not move to %s", from, to)
		}
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := map[string]struct {
		status    string
		expStatus model.JobStatus
		expErr    bool
	}{
		"Known status should parse.": {
			status:    "captcha_required",
			expStatus: model.JobStatusCaptchaRequired,
		},
		"Status is case insensitive.": {
			status:    " Completed ",
			expStatus: model.JobStatusCompleted,
		},
		"Unknown status should fail.": {
			status: "running",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			st, err := model.ParseJobStatus(test.status)
			if test.expErr {
				assert.True(t, errors.Is(err, model.ErrNotValid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, st)
		})
	}
}

func TestParseDateRange(t *testing.T) {
	tests := map[string]struct {
		start  string
		end    string
		expErr bool
	}{
		"Valid range should parse.": {
			start: "2024-01-01",
			end:   "2024-01-31",
		},
		"Same day range should parse.": {
			start: "2024-01-01",
			end:   "2024-01-01",
		},
		"Missing start date should fail.": {
			end:    "2024-01-31",
			expErr: true,
		},
		"Missing end date should fail.": {
			start:  "2024-01-01",
			expErr: true,
		},
		"Malformed date should fail.": {
			start:  "01/01/2024",
			end:    "2024-01-31",
			expErr: true,
		},
		"Start after end should fail.": {
			start:  "2024-02-01",
			end:    "2024-01-31",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := model.ParseDateRange(test.start, test.end)
			if test.expErr {
				assert.True(t, errors.Is(err, model.ErrNotValid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.start, r.Start.Format(model.DateLayout))
			assert.Equal(t, test.end, r.End.Format(model.DateLayout))
		})
	}
}

func TestJobValidate(t *testing.T) {
	validJob := func() model.Job {
		return model.Job{
			ID:      "01JB0000000000000000000000",
			OwnerID: "owner-1",
			TaxID:   "XAXX010101000",
			Range: model.DateRange{
				Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			},
			Status: model.JobStatusPending,
		}
	}

	tests := map[string]struct {
		job    func() model.Job
		expErr bool
	}{
		"A valid job should not fail.": {
			job: validJob,
		},
		"Missing tax id should fail.": {
			job: func() model.Job {
				j := validJob()
				j.TaxID = "  "
				return j
			},
			expErr: true,
		},
		"Missing owner should fail.": {
			job: func() model.Job {
				j := validJob()
				j.OwnerID = ""
				return j
			},
			expErr: true,
		},
		"Unknown status should fail.": {
			job: func() model.Job {
				j := validJob()
				j.Status = "running"
				return j
			},
			expErr: true,
		},
		"Downloaded files over total should fail.": {
			job: func() model.Job {
				j := validJob()
				j.TotalFiles = model.IntPtr(2)
				j.DownloadedFiles = 3
				return j
			},
			expErr: true,
		},
		"Downloaded files without total should not fail.": {
			job: func() model.Job {
				j := validJob()
				j.DownloadedFiles = 3
				return j
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			j := test.job()
			err := j.Validate()
			if test.expErr {
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentialsDoNotLeak(t *testing.T) {
	creds := model.Credentials{TaxID: "XAXX010101000", Password: "s3cr3t", CaptchaAnswer: "abc12"}

	for _, out := range []string{fmt.Sprintf("%v", creds), fmt.Sprintf("%+v", creds), fmt.Sprintf("%#v", creds), fmt.Sprintf("%s", creds)} {
		assert.NotContains(t, out, "s3cr3t")
		assert.NotContains(t, out, "abc12")
	}
}
