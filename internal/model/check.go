package model

// CheckStatus is the outcome of a doctor check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusError   CheckStatus = "error"
)

// CheckResult is the result of a single doctor check, like "database" or
// "browser".
type CheckResult struct {
	ID      string
	Status  CheckStatus
	Message string
}

// Checks are the results of a doctor run.
type Checks []CheckResult

// Count returns the number of results with the status.
func (c Checks) Count(status CheckStatus) int {
	n := 0
	for _, r := range c {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Failed tells if any check failed. Warnings don't fail a run.
func (c Checks) Failed() bool { return c.Count(CheckStatusError) > 0 }
