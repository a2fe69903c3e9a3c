// Package browser abstracts the headless browser used to drive the portal.
// Every session is isolated and owned by a single job.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("browser wait timeout")
	// ErrElementNotFound is returned when an element is required but missing.
	ErrElementNotFound = errors.New("element not found")
	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("browser session closed")
)

// SessionOptions are the options of a new browser session.
type SessionOptions struct {
	// ID identifies the session owner (the job) in logs and paths.
	ID string
	// DownloadDir is where documents retrieved by the page are written.
	DownloadDir string
}

// Driver launches browser sessions.
type Driver interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Request is a network request made by the page.
type Request struct {
	URL    string
	Method string
	Type   string
}

// Session is an isolated browser instance.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// WaitVisible waits until the element is visible or the timeout expires (ErrTimeout).
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// WaitAny waits until any of the elements is visible and returns its index.
	WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (int, error)
	// Exists returns if the element is present and visible right now.
	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	// Count returns the number of elements matching the selector.
	Count(ctx context.Context, selector string) (int, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// ElementScreenshot captures only the element as PNG.
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
	// Listen registers a network request listener until stop is called.
	Listen(fn func(Request)) (stop func())
	// Close releases the browser. Calling it more than once is a no-op.
	Close() error
}
