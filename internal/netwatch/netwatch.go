// Package netwatch observes the network traffic of browser sessions. Watching
// is explicit: an Interceptor is installed on a session and uninstalled when
// the session is done, there is no process wide instrumentation.
package netwatch

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
)

// Interceptor watches the traffic of browser sessions.
type Interceptor interface {
	// Install starts watching a session until the returned watch is uninstalled.
	Install(jobID string, s browser.Session) Watch
}

// Watch is an installed interceptor on a session.
type Watch interface {
	// Uninstall stops watching and returns what was observed. It is idempotent.
	Uninstall() Report
}

// Report summarizes the traffic of a session.
type Report struct {
	Requests int
	// Hosts is the number of requests per host.
	Hosts map[string]int
	// Violations are the hosts reached outside the egress policy, sorted.
	Violations []string
}

// Noop is an interceptor that doesn't watch anything.
const Noop = noop(0)

type noop int

func (noop) Install(string, browser.Session) Watch { return noopWatch{} }

type noopWatch struct{}

func (noopWatch) Uninstall() Report { return Report{Hosts: map[string]int{}} }

// RecorderConfig is the configuration of the recorder.
type RecorderConfig struct {
	// Policy is the expected egress of the portal, empty policies allow everything.
	Policy model.EgressPolicy
	Logger log.Logger
}

func (c *RecorderConfig) defaults() error {
	if c.Policy.Default == "" {
		c.Policy.Default = model.EgressActionAllow
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid egress policy: %w", err)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "netwatch.Recorder"})
	return nil
}

// Recorder counts requests per host and warns on hosts outside the egress policy.
type Recorder struct {
	policy hostPolicy
	logger log.Logger
}

var _ Interceptor = &Recorder{}

// NewRecorder returns a new recorder interceptor.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Recorder{
		policy: newHostPolicy(cfg.Policy),
		logger: cfg.Logger,
	}, nil
}

// Install implements Interceptor.
func (r *Recorder) Install(jobID string, s browser.Session) Watch {
	w := &recorderWatch{
		policy:    r.policy,
		logger:    r.logger.WithValues(log.Kv{"job-id": jobID}),
		hosts:     map[string]int{},
		violating: map[string]bool{},
	}
	w.stop = s.Listen(w.record)
	return w
}

type recorderWatch struct {
	policy hostPolicy
	logger log.Logger
	stop   func()

	mu          sync.Mutex
	uninstalled bool
	requests    int
	hosts       map[string]int
	violating   map[string]bool
}

func (w *recorderWatch) record(req browser.Request) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Hostname() == "" {
		// data:, about: and friends.
		return
	}
	host := u.Hostname()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.uninstalled {
		return
	}

	w.requests++
	w.hosts[host]++
	if !w.violating[host] && !w.policy.allows(host) {
		w.violating[host] = true
		w.logger.Warningf("Browser reached host outside the egress policy: %s", host)
	}
}

func (w *recorderWatch) Uninstall() Report {
	w.mu.Lock()
	first := !w.uninstalled
	w.uninstalled = true
	w.mu.Unlock()

	if first {
		w.stop()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rep := Report{Requests: w.requests, Hosts: make(map[string]int, len(w.hosts))}
	for h, n := range w.hosts {
		rep.Hosts[h] = n
	}
	for h := range w.violating {
		rep.Violations = append(rep.Violations, h)
	}
	sort.Strings(rep.Violations)

	if first {
		w.logger.Debugf("Browser made %d requests to %d hosts (%d outside policy)", rep.Requests, len(rep.Hosts), len(rep.Violations))
	}

	return rep
}
