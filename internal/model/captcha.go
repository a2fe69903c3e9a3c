package model

import (
	"fmt"
	"time"
)

// CaptchaSession is a pending human-resolution request for a suspended job.
type CaptchaSession struct {
	ID    string
	JobID string
	// Image is the encoded snapshot of the challenge element (PNG).
	Image     []byte
	Resolved  bool
	CreatedAt time.Time
}

// Validate validates the captcha session.
func (c *CaptchaSession) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if c.JobID == "" {
		return fmt.Errorf("job id is required: %w", ErrNotValid)
	}
	if len(c.Image) == 0 {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}
	return nil
}
