// Package portal has the stages that drive the tax portal. Every stage is a
// function of a browser session and its parameters returning a Result, so
// stages keep no state between calls and run against any browser.Session.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
)

// Config is the configuration of the portal stages.
type Config struct {
	Profile model.PortalProfile
	Logger  log.Logger
}

func (c *Config) defaults() error {
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "portal.Portal"})
	return nil
}

// Portal runs the portal stages.
type Portal struct {
	profile model.PortalProfile
	logger  log.Logger
}

// New returns a new portal.
func New(cfg Config) (*Portal, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Portal{profile: cfg.Profile, logger: cfg.Logger}, nil
}

// Profile returns the portal profile.
func (p *Portal) Profile() model.PortalProfile { return p.profile }

// Login opens the login page, fills the credentials and submits them. A CAPTCHA
// answer is typed when the credentials carry one.
func (p *Portal) Login(ctx context.Context, s browser.Session, creds model.Credentials) (Result, error) {
	sel := p.profile.Selectors

	if err := s.Navigate(ctx, p.profile.LoginURL); err != nil {
		return Result{}, fmt.Errorf("could not open login page: %w", err)
	}

	err := s.WaitVisible(ctx, sel.TaxIDInput, p.profile.Timeouts.Login)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return Fail(FailureAuthentication, "login form did not load"), nil
		}
		return Result{}, fmt.Errorf("could not wait for login form: %w", err)
	}

	if err := s.Fill(ctx, sel.TaxIDInput, creds.TaxID); err != nil {
		return Result{}, fmt.Errorf("could not fill tax id: %w", err)
	}
	if err := s.Fill(ctx, sel.PasswordInput, creds.Password); err != nil {
		return Result{}, fmt.Errorf("could not fill password: %w", err)
	}
	if creds.CaptchaAnswer != "" {
		if sel.CaptchaAnswerInput == "" {
			return Result{}, fmt.Errorf("profile has no captcha answer input")
		}
		if err := s.Fill(ctx, sel.CaptchaAnswerInput, creds.CaptchaAnswer); err != nil {
			return Result{}, fmt.Errorf("could not fill captcha answer: %w", err)
		}
	}

	if err := s.Click(ctx, sel.LoginSubmit); err != nil {
		return Result{}, fmt.Errorf("could not submit login: %w", err)
	}

	return Continue(), nil
}

// CheckCaptcha looks for a challenge right after the login submission. The
// check ends early when the post login marker shows up.
func (p *Portal) CheckCaptcha(ctx context.Context, s browser.Session) (Result, error) {
	sel := p.profile.Selectors

	var shown bool
	if p.profile.Timeouts.CaptchaCheck <= 0 {
		ok, err := s.Exists(ctx, sel.CaptchaContainer)
		if err != nil {
			return Result{}, fmt.Errorf("could not check captcha: %w", err)
		}
		shown = ok
	} else {
		idx, err := s.WaitAny(ctx, []string{sel.CaptchaContainer, sel.LoginMarker}, p.profile.Timeouts.CaptchaCheck)
		if err != nil && !errors.Is(err, browser.ErrTimeout) {
			return Result{}, fmt.Errorf("could not check captcha: %w", err)
		}
		shown = err == nil && idx == 0
	}

	if !shown {
		return Continue(), nil
	}

	img, err := p.captchaImage(ctx, s)
	if err != nil {
		return Result{}, err
	}

	return Suspend(img), nil
}

// captchaImage captures just the challenge, falling back to its container.
func (p *Portal) captchaImage(ctx context.Context, s browser.Session) ([]byte, error) {
	sel := p.profile.Selectors

	selectors := []string{sel.CaptchaContainer}
	if sel.CaptchaImage != "" {
		selectors = []string{sel.CaptchaImage, sel.CaptchaContainer}
	}

	var lastErr error
	for _, selector := range selectors {
		img, err := s.ElementScreenshot(ctx, selector)
		if err == nil && len(img) > 0 {
			return img, nil
		}
		if err == nil {
			err = fmt.Errorf("empty screenshot")
		}
		lastErr = err
	}

	return nil, fmt.Errorf("could not capture captcha: %w", lastErr)
}

// ConfirmLogin waits for the post login marker. When it doesn't appear the
// portal error text is used as the failure message.
func (p *Portal) ConfirmLogin(ctx context.Context, s browser.Session) (Result, error) {
	sel := p.profile.Selectors
	timeout := p.profile.Timeouts.Login

	waitFor := []string{sel.LoginMarker}
	if sel.LoginError != "" {
		waitFor = append(waitFor, sel.LoginError)
	}

	idx, err := s.WaitAny(ctx, waitFor, timeout)
	switch {
	case err == nil && idx == 0:
		return Continue(), nil
	case err != nil && !errors.Is(err, browser.ErrTimeout):
		return Result{}, fmt.Errorf("could not wait for login: %w", err)
	}

	msg := p.text(ctx, s, sel.LoginError)
	if msg == "" {
		msg = fmt.Sprintf("login was not confirmed after %s", timeout)
	}

	return Fail(FailureAuthentication, msg), nil
}

// Search filters the issued documents by the date range and counts the results.
// An empty search is a successful result with zero total.
func (p *Portal) Search(ctx context.Context, s browser.Session, r model.DateRange) (Result, error) {
	sel := p.profile.Selectors
	timeout := p.profile.Timeouts.Search

	if p.profile.SearchURL != "" {
		if err := s.Navigate(ctx, p.profile.SearchURL); err != nil {
			return Result{}, fmt.Errorf("could not open search page: %w", err)
		}
	}

	err := s.WaitVisible(ctx, sel.StartDateInput, timeout)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return Fail(FailureSearchTimeout, fmt.Sprintf("search form did not load after %s", timeout)), nil
		}
		return Result{}, fmt.Errorf("could not wait for search form: %w", err)
	}

	if err := s.Fill(ctx, sel.StartDateInput, r.Start.Format(p.profile.DateFormat)); err != nil {
		return Result{}, fmt.Errorf("could not fill start date: %w", err)
	}
	if err := s.Fill(ctx, sel.EndDateInput, r.End.Format(p.profile.DateFormat)); err != nil {
		return Result{}, fmt.Errorf("could not fill end date: %w", err)
	}
	if err := s.Click(ctx, sel.SearchSubmit); err != nil {
		return Result{}, fmt.Errorf("could not submit search: %w", err)
	}

	idx, err := s.WaitAny(ctx, []string{sel.ResultsMarker, sel.NoResults}, timeout)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return Fail(FailureSearchTimeout, fmt.Sprintf("search results did not appear after %s", timeout)), nil
		}
		return Result{}, fmt.Errorf("could not wait for search results: %w", err)
	}
	if idx == 1 {
		p.logger.Debugf("Search %s returned no results", r)
		return Continue(), nil
	}

	total, err := s.Count(ctx, sel.ResultRows)
	if err != nil {
		return Result{}, fmt.Errorf("could not count results: %w", err)
	}

	res := Continue()
	res.Total = total
	return res, nil
}

// RowFunc is called after every retrieved row with its 0-based index and identifier.
// Returning an error aborts the download stage.
type RowFunc func(ctx context.Context, index int, id string) error

// Download triggers the retrieval of every result row in order. Rows that fail
// are logged and skipped, only retrieved rows reach onRow.
func (p *Portal) Download(ctx context.Context, s browser.Session, total int, onRow RowFunc) (Result, error) {
	res := Continue()
	res.Total = total

	for i := 0; i < total; i++ {
		id, err := p.downloadRow(ctx, s, i)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			p.logger.Warningf("Skipping result row %d: %s", i, err)
			res.Skipped = append(res.Skipped, i)
			continue
		}

		p.logger.Debugf("Retrieved result row %d: %s", i, id)
		if err := onRow(ctx, i, id); err != nil {
			return Result{}, fmt.Errorf("could not record row %d: %w", i, err)
		}
		res.Downloaded++
	}

	return res, nil
}

func (p *Portal) downloadRow(ctx context.Context, s browser.Session, index int) (string, error) {
	sel := p.profile.Selectors
	row := index + 1

	if err := s.Click(ctx, fmt.Sprintf(sel.RowDownload, row)); err != nil {
		return "", fmt.Errorf("could not trigger download: %w", err)
	}

	if settle := p.profile.Timeouts.Settle; settle > 0 {
		t := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	id, err := s.Text(ctx, fmt.Sprintf(sel.RowIdentifier, row))
	if err != nil {
		return "", fmt.Errorf("could not read identifier: %w", err)
	}

	return strings.TrimSpace(id), nil
}

func (p *Portal) text(ctx context.Context, s browser.Session, selector string) string {
	if selector == "" {
		return ""
	}
	ok, err := s.Exists(ctx, selector)
	if err != nil || !ok {
		return ""
	}
	txt, err := s.Text(ctx, selector)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(txt)
}
