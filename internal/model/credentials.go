package model

import "fmt"

// Credentials are the portal login secrets. They only live in memory for the
// duration of an execution and are never persisted nor logged.
type Credentials struct {
	TaxID    string
	Password string
	// CaptchaAnswer is the human answer for a resolved challenge, empty on first attempts.
	CaptchaAnswer string
}

// Validate validates the credentials.
func (c Credentials) Validate() error {
	if c.TaxID == "" {
		return fmt.Errorf("tax id is required: %w", ErrNotValid)
	}
	if c.Password == "" {
		return fmt.Errorf("password is required: %w", ErrNotValid)
	}
	return nil
}

// String implements fmt.Stringer redacting the secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{TaxID: %s, Password: <redacted>}", c.TaxID)
}

// GoString implements fmt.GoStringer so %#v doesn't leak the secrets either.
func (c Credentials) GoString() string { return c.String() }
