// Package api serves the jobs over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/slok/satdl/internal/app/captcha"
	"github.com/slok/satdl/internal/app/list"
	"github.com/slok/satdl/internal/app/remove"
	"github.com/slok/satdl/internal/app/resolve"
	"github.com/slok/satdl/internal/app/status"
	"github.com/slok/satdl/internal/app/submit"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage"
)

// SubmitService creates jobs.
type SubmitService interface {
	Run(ctx context.Context, req submit.Request) (*submit.Response, error)
}

// ListService lists jobs.
type ListService interface {
	Run(ctx context.Context, req list.Request) ([]model.Job, error)
}

// StatusService gets the status of a job.
type StatusService interface {
	Run(ctx context.Context, req status.Request) (*status.Response, error)
}

// RemoveService removes jobs.
type RemoveService interface {
	Run(ctx context.Context, req remove.Request) ([]model.Job, error)
}

// ResolveService resolves the CAPTCHA of a job.
type ResolveService interface {
	Run(ctx context.Context, req resolve.Request) (*resolve.Response, error)
}

// CaptchaService gets the CAPTCHA of a job.
type CaptchaService interface {
	Run(ctx context.Context, req captcha.Request) (*model.CaptchaSession, error)
}

// Config is the configuration of the API.
type Config struct {
	Submit  SubmitService
	List    ListService
	Status  StatusService
	Remove  RemoveService
	Resolve ResolveService
	Captcha CaptchaService
	Feed    storage.ChangeFeed
	// Tokens maps bearer tokens to owner ids.
	Tokens map[string]string
	// SubmitRate is the rate of submissions and resolutions allowed per owner.
	SubmitRate  rate.Limit
	SubmitBurst int
	// Mode is the gin mode: debug, release or test.
	Mode   string
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Submit == nil || c.List == nil || c.Status == nil || c.Remove == nil || c.Resolve == nil || c.Captcha == nil {
		return fmt.Errorf("all the services are required")
	}
	if c.Feed == nil {
		return fmt.Errorf("change feed is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one token is required")
	}
	for token, owner := range c.Tokens {
		if token == "" || owner == "" {
			return fmt.Errorf("tokens and owners can't be empty")
		}
	}
	if c.SubmitRate <= 0 {
		c.SubmitRate = rate.Limit(0.2)
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 3
	}
	if c.Mode == "" {
		c.Mode = gin.ReleaseMode
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})
	return nil
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	limiter *ownerLimiter
	engine  *gin.Engine
	logger  log.Logger
}

// New returns a new API server.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	gin.SetMode(cfg.Mode)

	s := &Server{
		cfg:     cfg,
		limiter: newOwnerLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		logger:  cfg.Logger,
	}
	s.engine = s.router()

	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) router() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1", s.authenticate())
	{
		v1.POST("/jobs", s.rateLimit(), s.submitJob)
		v1.GET("/jobs", s.listJobs)
		v1.DELETE("/jobs", s.removeAllJobs)
		v1.GET("/jobs/watch", s.watchJobs)
		v1.GET("/jobs/:id", s.getJob)
		v1.DELETE("/jobs/:id", s.removeJob)
		v1.GET("/jobs/:id/captcha", s.getCaptcha)
		v1.POST("/jobs/:id/captcha/:session/resolve", s.rateLimit(), s.resolveCaptcha)
	}

	return r
}
