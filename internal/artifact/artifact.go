// Package artifact stores the diagnostic artifacts of failed jobs.
package artifact

import (
	"context"
	"fmt"
	"time"
)

// Content types of the artifacts.
const (
	ContentTypePNG  = "image/png"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Store persists opaque artifacts.
type Store interface {
	// Put stores the artifact under the key and returns its reference.
	Put(ctx context.Context, key, contentType string, data []byte) (ref string, err error)
	// DeletePrefix removes every artifact under the key prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// JobPrefix is the key prefix of the artifacts of a job.
func JobPrefix(jobID string) string { return fmt.Sprintf("jobs/%s/", jobID) }

// FailureKey is the key of a failure artifact of a job.
func FailureKey(jobID string, at time.Time, ext string) string {
	return fmt.Sprintf("%sfailure-%d.%s", JobPrefix(jobID), at.Unix(), ext)
}
