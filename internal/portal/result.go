package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is the cause of authentication failures.
	ErrAuthentication = errors.New("authentication failed")
	// ErrSearchTimeout is the cause of search failures.
	ErrSearchTimeout = errors.New("search timeout")
)

// Outcome is the three way result of a stage.
type Outcome int

const (
	// OutcomeContinue lets the pipeline run the next stage.
	OutcomeContinue Outcome = iota
	// OutcomeSuspend stops the pipeline waiting for a human (CAPTCHA).
	OutcomeSuspend
	// OutcomeFail stops the pipeline with an expected failure.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeSuspend:
		return "suspend"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FailureKind classifies failed stages.
type FailureKind string

const (
	FailureAuthentication FailureKind = "authentication"
	FailureSearchTimeout  FailureKind = "search_timeout"
	FailureUnhandled      FailureKind = "unhandled"
)

// Result is what a stage returns. Unexpected problems are returned as errors
// instead, next to a zero Result.
type Result struct {
	Outcome Outcome
	Kind    FailureKind
	// Message is the user facing failure message.
	Message string
	// CaptchaImage is the challenge snapshot of suspended results.
	CaptchaImage []byte
	// Total is the number of search results.
	Total int
	// Downloaded is the number of rows retrieved by the download stage.
	Downloaded int
	// Skipped are the 0-based indexes of the rows that could not be retrieved.
	Skipped []int
}

// Continue returns a continue result.
func Continue() Result { return Result{Outcome: OutcomeContinue} }

// Suspend returns a suspend result carrying the challenge image.
func Suspend(image []byte) Result { return Result{Outcome: OutcomeSuspend, CaptchaImage: image} }

// Fail returns a failed result.
func Fail(kind FailureKind, msg string) Result {
	return Result{Outcome: OutcomeFail, Kind: kind, Message: msg}
}

// Err returns the error of failed results, nil otherwise.
func (r Result) Err() error {
	if r.Outcome != OutcomeFail {
		return nil
	}

	switch r.Kind {
	case FailureAuthentication:
		return fmt.Errorf("%w: %s", ErrAuthentication, r.Message)
	case FailureSearchTimeout:
		return fmt.Errorf("%w: %s", ErrSearchTimeout, r.Message)
	default:
		return errors.New(r.Message)
	}
}
