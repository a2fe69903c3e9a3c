// Package chromedp is a browser.Driver backed by Chrome through the DevTools protocol.
package chromedp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
)

const (
	defaultUserAgent     = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
	defaultActionTimeout = 30 * time.Second
	defaultStartTimeout  = 30 * time.Second
	pollInterval         = 100 * time.Millisecond
)

// DriverConfig is the configuration of the chromedp driver.
type DriverConfig struct {
	// ExecPath is the Chrome binary, autodetected when empty.
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// ActionTimeout bounds actions that wait for elements (fill, click, screenshots).
	ActionTimeout time.Duration
	StartTimeout  time.Duration
	Logger        log.Logger
}

func (c *DriverConfig) defaults() error {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "browser.Chromedp"})
	return nil
}

// Driver launches one Chrome process per session.
type Driver struct {
	cfg    DriverConfig
	logger log.Logger
}

var _ browser.Driver = &Driver{}

// NewDriver returns a new chromedp driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Driver{cfg: cfg, logger: cfg.Logger}, nil
}

// NewSession starts an isolated Chrome with its own profile directory.
func (d *Driver) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	logger := d.logger.WithValues(log.Kv{"session": opts.ID})

	userDataDir, err := os.MkdirTemp("", "satdl-browser-*")
	if err != nil {
		return nil, fmt.Errorf("could not create browser profile dir: %w", err)
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("no-sandbox", d.cfg.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(userDataDir),
		chromedp.UserAgent(d.cfg.UserAgent),
	)
	if d.cfg.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(d.cfg.ExecPath))
	}

	// The browser lives until Close, not until the creation context ends.
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s := &Session{
		ctx:           browserCtx,
		actionTimeout: d.cfg.ActionTimeout,
		listeners:     map[int]func(browser.Request){},
		logger:        logger,
	}
	s.close = func() {
		browserCancel()
		allocatorCancel()
		if err := os.RemoveAll(userDataDir); err != nil {
			logger.Warningf("Could not remove browser profile dir: %s", err)
		}
	}

	chromedp.ListenTarget(browserCtx, s.onEvent)

	// The first run allocates the browser, it is bound to the context it
	// receives for its whole life.
	allocate := func(ctx context.Context) error { return chromedp.Run(ctx) }
	if err := launch(ctx, browserCtx, d.cfg.StartTimeout, allocate); err != nil {
		s.close()
		return nil, fmt.Errorf("could not start browser: %w", err)
	}

	actions := []chromedp.Action{network.Enable()}
	if opts.DownloadDir != "" {
		if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
			s.close()
			return nil, fmt.Errorf("could not create download dir: %w", err)
		}
		actions = append(actions, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true))
	}
	if err := s.run(ctx, d.cfg.StartTimeout, actions...); err != nil {
		s.close()
		return nil, fmt.Errorf("could not set up browser: %w", err)
	}

	logger.Debugf("Browser session started")
	return s, nil
}

// launch allocates the browser with browserCtx, waiting at most timeout or
// until ctx ends. An abandoned allocation ends when browserCtx is cancelled.
func launch(ctx, browserCtx context.Context, timeout time.Duration, allocate func(context.Context) error) error {
	errC := make(chan error, 1)
	go func() { errC <- allocate(browserCtx) }()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-errC:
		return err
	case <-t.C:
		return fmt.Errorf("%w: browser didn't start in %s", browser.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping starts and closes a session to check the browser can be launched.
func (d *Driver) Ping(ctx context.Context) error {
	s, err := d.NewSession(ctx, browser.SessionOptions{ID: "ping"})
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Navigate(ctx, "about:blank")
}

// Session is a chromedp browser.Session.
type Session struct {
	ctx           context.Context
	actionTimeout time.Duration
	close         func()
	closeOnce     sync.Once

	mu        sync.Mutex
	listeners map[int]func(browser.Request)
	nextID    int

	logger log.Logger
}

var _ browser.Session = &Session{}

func (s *Session) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r := browser.Request{URL: e.Request.URL, Method: e.Request.Method, Type: string(e.Type)}
		s.mu.Lock()
		ls := make([]func(browser.Request), 0, len(s.listeners))
		for _, l := range s.listeners {
			ls = append(ls, l)
		}
		s.mu.Unlock()
		for _, l := range ls {
			l(r)
		}
	case *cdpbrowser.EventDownloadProgress:
		if e.State == cdpbrowser.DownloadProgressStateCompleted {
			s.logger.Debugf("Download %s completed (%d bytes)", e.GUID, int64(e.ReceivedBytes))
		}
	}
}

// opContext derives a context of the browser bounded by the caller context and timeout.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return browser.ErrSessionClosed
	}

	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", browser.ErrTimeout, err)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.actionTimeout, chromedp.Navigate(url))
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx, s.actionTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.actionTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		return fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return nil
}

func (s *Session) WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		for i, sel := range selectors {
			ok, err := s.Exists(ctx, sel)
			if err != nil {
				return -1, err
			}
			if ok {
				return i, nil
			}
		}

		if time.Now().After(deadline) {
			return -1, fmt.Errorf("waiting for %v: %w", selectors, browser.ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var visible bool
	js := fmt.Sprintf(`(() => {
		const e = document.querySelector(%s);
		return !!e && !!(e.offsetWidth || e.offsetHeight || e.getClientRects().length);
	})()`, jsString(selector))
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(js, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text *string
	js := fmt.Sprintf(`(() => {
		const e = document.querySelector(%s);
		return e ? e.innerText : null;
	})()`, jsString(selector))
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(js, &text)); err != nil {
		return "", err
	}
	if text == nil {
		return "", fmt.Errorf("text %q: %w", selector, browser.ErrElementNotFound)
	}
	return *text, nil
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	js := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(js, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 keeps PNG encoding.
	if err := s.run(ctx, s.actionTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.actionTimeout, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, err
	}
	return buf, nil
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
	s.closeOnce.Do(func() {
		s.close()
		s.logger.Debugf("Browser session closed")
	})
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
