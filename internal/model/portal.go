package model

import (
	"fmt"
	"time"
)

// PortalProfile describes how to drive the tax portal. Row selectors are
// templates receiving the 1-based row number.
type PortalProfile struct {
	Name      string
	LoginURL  string
	SearchURL string
	// DateFormat is the Go layout of the dates typed in the search form.
	DateFormat string
	Selectors  PortalSelectors
	Timeouts   PortalTimeouts
	Egress     EgressPolicy
}

// PortalSelectors are the CSS selectors of the portal elements used by the stages.
type PortalSelectors struct {
	TaxIDInput         string
	PasswordInput      string
	CaptchaAnswerInput string
	LoginSubmit        string
	LoginMarker        string
	LoginError         string
	CaptchaContainer   string
	CaptchaImage       string

	StartDateInput string
	EndDateInput   string
	SearchSubmit   string
	ResultsMarker  string
	NoResults      string
	ResultRows     string

	RowDownload   string
	RowIdentifier string
}

// PortalTimeouts are the bounded waits of the stages.
type PortalTimeouts struct {
	Login        time.Duration
	CaptchaCheck time.Duration
	Search       time.Duration
	Settle       time.Duration
}

// Validate checks the profile has everything the stages need.
func (p PortalProfile) Validate() error {
	if p.LoginURL == "" {
		return fmt.Errorf("login url is required: %w", ErrNotValid)
	}
	if p.DateFormat == "" {
		return fmt.Errorf("date format is required: %w", ErrNotValid)
	}

	s := p.Selectors
	required := map[string]string{
		"tax_id_input":      s.TaxIDInput,
		"password_input":    s.PasswordInput,
		"login_submit":      s.LoginSubmit,
		"login_marker":      s.LoginMarker,
		"captcha_container": s.CaptchaContainer,
		"start_date_input":  s.StartDateInput,
		"end_date_input":    s.EndDateInput,
		"search_submit":     s.SearchSubmit,
		"results_marker":    s.ResultsMarker,
		"no_results":        s.NoResults,
		"result_rows":       s.ResultRows,
		"row_download":      s.RowDownload,
		"row_identifier":    s.RowIdentifier,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("selector %s is required: %w", name, ErrNotValid)
		}
	}

	t := p.Timeouts
	if t.Login <= 0 || t.Search <= 0 {
		return fmt.Errorf("login and search timeouts must be positive: %w", ErrNotValid)
	}
	if t.CaptchaCheck < 0 || t.Settle < 0 {
		return fmt.Errorf("timeouts can't be negative: %w", ErrNotValid)
	}

	if len(p.Egress.Rules) > 0 || p.Egress.Default != "" {
		if err := p.Egress.Validate(); err != nil {
			return fmt.Errorf("invalid egress policy: %w", err)
		}
	}

	return nil
}
