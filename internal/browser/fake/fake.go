// Package fake has a scripted in-memory browser driver. Pages are modelled as a
// set of elements keyed by selector, clicks can run handlers that mutate the page.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
)

const pollInterval = 2 * time.Millisecond

// Element is a fake page element.
type Element struct {
	Text   string
	Hidden bool
	// Count is the number of elements matching the selector, 1 when zero.
	Count int
	// Image is returned on element screenshots.
	Image []byte
}

// ClickHandler runs when an element is clicked.
type ClickHandler func(p *Page) error

// Page is the scripted state of a fake browser page.
type Page struct {
	mu          sync.Mutex
	elements    map[string]Element
	onClick     map[string]ClickHandler
	onNavigate  map[string]func(p *Page)
	fills       map[string]string
	navigations []string
	clicks      []string

	// ScreenshotErr makes full page screenshots fail.
	ScreenshotErr error
	// ExtraRequests are reported to listeners on every navigation.
	ExtraRequests []string
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{
		elements:   map[string]Element{},
		onClick:    map[string]ClickHandler{},
		onNavigate: map[string]func(p *Page){},
		fills:      map[string]string{},
	}
}

// Set adds or replaces an element.
func (p *Page) Set(selector string, e Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = e
	return p
}

// Remove removes an element.
func (p *Page) Remove(selector string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
	return p
}

// OnClick registers a handler for clicks on the selector. Clicking a selector
// without handler only requires the element to exist.
func (p *Page) OnClick(selector string, h ClickHandler) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[selector] = h
	return p
}

// OnNavigate registers a handler for navigations to the URL.
func (p *Page) OnNavigate(url string, h func(p *Page)) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNavigate[url] = h
	return p
}

// Filled returns the value typed in the selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

// Navigations returns the navigated URLs in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.navigations...)
}

// Clicks returns the clicked selectors in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.clicks...)
}

func (p *Page) get(selector string) (Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[selector]
	return e, ok
}

func (p *Page) visible(selector string) bool {
	e, ok := p.get(selector)
	return ok && !e.Hidden
}

// DriverConfig is the configuration of the fake driver.
type DriverConfig struct {
	// NewPage returns the page of each new session, n is the 0-based session number.
	NewPage func(n int) *Page
	// NewSessionErr makes session creation fail.
	NewSessionErr error
	Logger        log.Logger
}

func (c *DriverConfig) defaults() error {
	if c.NewPage == nil {
		c.NewPage = func(int) *Page { return NewPage() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "browser.Fake"})
	return nil
}

// Driver is a fake browser.Driver.
type Driver struct {
	cfg      DriverConfig
	mu       sync.Mutex
	sessions []*Session
	logger   log.Logger
}

var _ browser.Driver = &Driver{}

// NewDriver returns a new fake driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Driver{cfg: cfg, logger: cfg.Logger}, nil
}

// NewSession implements browser.Driver.
func (d *Driver) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if d.cfg.NewSessionErr != nil {
		return nil, d.cfg.NewSessionErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := &Session{
		Options:   opts,
		Page:      d.cfg.NewPage(len(d.sessions)),
		listeners: map[int]func(browser.Request){},
	}
	d.sessions = append(d.sessions, s)
	d.logger.Debugf("Fake session %d created for %s", len(d.sessions)-1, opts.ID)

	return s, nil
}

// Sessions returns the created sessions in order.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session{}, d.sessions...)
}

// Session is a fake browser.Session.
type Session struct {
	Options browser.SessionOptions
	Page    *Page

	mu         sync.Mutex
	closeCalls int
	listeners  map[int]func(browser.Request)
	nextID     int
}

var _ browser.Session = &Session{}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCalls > 0 {
		return browser.ErrSessionClosed
	}
	return nil
}

func (s *Session) emit(r browser.Request) {
	s.mu.Lock()
	ls := make([]func(browser.Request), 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l(r)
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.Page.mu.Lock()
	s.Page.navigations = append(s.Page.navigations, url)
	h := s.Page.onNavigate[url]
	extra := append([]string{}, s.Page.ExtraRequests...)
	s.Page.mu.Unlock()

	s.emit(browser.Request{URL: url, Method: "GET", Type: "Document"})
	for _, u := range extra {
		s.emit(browser.Request{URL: u, Method: "GET", Type: "Other"})
	}
	if h != nil {
		h(s.Page)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.Page.visible(selector) {
		return fmt.Errorf("fill %q: %w", selector, browser.ErrElementNotFound)
	}

	s.Page.mu.Lock()
	s.Page.fills[selector] = value
	s.Page.mu.Unlock()
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.Page.visible(selector) {
		return fmt.Errorf("click %q: %w", selector, browser.ErrElementNotFound)
	}

	s.Page.mu.Lock()
	s.Page.clicks = append(s.Page.clicks, selector)
	h := s.Page.onClick[selector]
	s.Page.mu.Unlock()

	if h != nil {
		return h(s.Page)
	}
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := s.WaitAny(ctx, []string{selector}, timeout)
	return err
}

func (s *Session) WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (int, error) {
	if err := s.check(ctx); err != nil {
		return -1, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for i, sel := range selectors {
			if s.Page.visible(sel) {
				return i, nil
			}
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-deadline.C:
			return -1, fmt.Errorf("waiting for %v: %w", selectors, browser.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.Page.visible(selector), nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	e, ok := s.Page.get(selector)
	if !ok {
		return "", fmt.Errorf("text %q: %w", selector, browser.ErrElementNotFound)
	}
	return e.Text, nil
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	e, ok := s.Page.get(selector)
	if !ok {
		return 0, nil
	}
	if e.Count == 0 {
		return 1, nil
	}
	return e.Count, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.Page.ScreenshotErr != nil {
		return nil, s.Page.ScreenshotErr
	}
	return []byte("\x89PNG-fake-page"), nil
}

func (s *Session) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, ok := s.Page.get(selector)
	if !ok || e.Hidden {
		return nil, fmt.Errorf("screenshot %q: %w", selector, browser.ErrElementNotFound)
	}
	if len(e.Image) == 0 {
		return []byte("\x89PNG-fake-element"), nil
	}
	return append([]byte{}, e.Image...), nil
}

func (s *Session) Listen(fn func(browser.Request)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}
