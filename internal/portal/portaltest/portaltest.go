// Package portaltest scripts fake tax portals for tests.
package portaltest

import (
	"fmt"
	"time"

	"github.com/slok/satdl/internal/browser/fake"
	"github.com/slok/satdl/internal/model"
)

const (
	TaxID      = "XAXX010101000"
	Password   = "s3cr3t"
	Answer     = "K7PQ2"
	LoginError = "El RFC o la contraseña son incorrectos"
	LoginURL   = "https://portal.test/login"
	SearchURL  = "https://portal.test/search"
	CaptchaPNG = "\x89PNG-captcha"
	DateFormat = "02/01/2006"
)

// Profile returns a portal profile matching the scripted pages, with short timeouts.
func Profile() model.PortalProfile {
	return model.PortalProfile{
		Name:       "test",
		LoginURL:   LoginURL,
		SearchURL:  SearchURL,
		DateFormat: DateFormat,
		Selectors: model.PortalSelectors{
			TaxIDInput:         "#rfc",
			PasswordInput:      "#password",
			CaptchaAnswerInput: "#captcha-answer",
			LoginSubmit:        "#login",
			LoginMarker:        "#welcome",
			LoginError:         "#login-error",
			CaptchaContainer:   "#captcha",
			CaptchaImage:       "#captcha img",
			StartDateInput:     "#start",
			EndDateInput:       "#end",
			SearchSubmit:       "#search",
			ResultsMarker:      "#results",
			NoResults:          "#no-results",
			ResultRows:         "#results tr",
			RowDownload:        "#results tr:nth-of-type(%d) .download",
			RowIdentifier:      "#results tr:nth-of-type(%d) .uuid",
		},
		Timeouts: model.PortalTimeouts{
			Login:        150 * time.Millisecond,
			CaptchaCheck: 20 * time.Millisecond,
			Search:       150 * time.Millisecond,
		},
	}
}

// Row is a search result row.
type Row struct {
	ID string
	// FailTrigger removes the download control of the row.
	FailTrigger bool
	// FailExtraction removes the identifier of the row.
	FailExtraction bool
}

// Portal is a scripted portal scenario.
type Portal struct {
	// Captcha shows a challenge on login until the right answer is typed.
	Captcha bool
	// CaptchaAlways shows a challenge on every login, even answered ones.
	CaptchaAlways bool
	// SearchHangs never shows a search outcome.
	SearchHangs bool
	// Rows are the search results.
	Rows []Row
	// OnLogin runs when the login is submitted, after the outcome is on the page.
	OnLogin func(p *fake.Page)
}

// Rows returns n rows with generated identifiers.
func Rows(n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, Row{ID: fmt.Sprintf("6F3A1C2B-0000-4000-8000-%012d", i)})
	}
	return rows
}

// Page returns the scripted page of the portal.
func (p Portal) Page() *fake.Page {
	prof := Profile()
	sel := prof.Selectors

	page := fake.NewPage().
		Set(sel.TaxIDInput, fake.Element{}).
		Set(sel.PasswordInput, fake.Element{}).
		Set(sel.CaptchaAnswerInput, fake.Element{}).
		Set(sel.LoginSubmit, fake.Element{})

	page.OnClick(sel.LoginSubmit, func(pg *fake.Page) error {
		defer func() {
			if p.OnLogin != nil {
				p.OnLogin(pg)
			}
		}()

		answered := pg.Filled(sel.CaptchaAnswerInput) == Answer
		if p.CaptchaAlways || (p.Captcha && !answered) {
			pg.Set(sel.CaptchaContainer, fake.Element{})
			pg.Set(sel.CaptchaImage, fake.Element{Image: []byte(CaptchaPNG)})
			return nil
		}

		if pg.Filled(sel.TaxIDInput) != TaxID || pg.Filled(sel.PasswordInput) != Password {
			pg.Set(sel.LoginError, fake.Element{Text: " " + LoginError + " "})
			return nil
		}

		pg.Set(sel.LoginMarker, fake.Element{Text: TaxID})
		pg.Set(sel.StartDateInput, fake.Element{})
		pg.Set(sel.EndDateInput, fake.Element{})
		pg.Set(sel.SearchSubmit, fake.Element{})
		return nil
	})

	page.OnClick(sel.SearchSubmit, func(pg *fake.Page) error {
		switch {
		case p.SearchHangs:
			return nil
		case len(p.Rows) == 0:
			pg.Set(sel.NoResults, fake.Element{Text: "No existen registros"})
			return nil
		}

		pg.Set(sel.ResultsMarker, fake.Element{})
		pg.Set(sel.ResultRows, fake.Element{Count: len(p.Rows)})
		for i, r := range p.Rows {
			if !r.FailTrigger {
				pg.Set(fmt.Sprintf(sel.RowDownload, i+1), fake.Element{})
			}
			if !r.FailExtraction {
				pg.Set(fmt.Sprintf(sel.RowIdentifier, i+1), fake.Element{Text: r.ID})
			}
		}
		return nil
	})

	return page
}

// Driver returns a fake driver serving a fresh portal page on every session.
func (p Portal) Driver() *fake.Driver {
	d, err := fake.NewDriver(fake.DriverConfig{NewPage: func(int) *fake.Page { return p.Page() }})
	if err != nil {
		panic(err)
	}
	return d
}

// Credentials returns the valid credentials of the portal.
func Credentials() model.Credentials {
	return model.Credentials{TaxID: TaxID, Password: Password}
}
