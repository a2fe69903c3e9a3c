package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/slok/satdl/internal/log"
)

const (
	ownerKey        = "owner"
	requestIDHeader = "X-Request-ID"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)

		ctx := log.CtxWithValues(c.Request.Context(), log.Kv{"request-id": requestID})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		s.logger.WithCtxValues(ctx).WithValues(log.Kv{
			"status":      c.Writer.Status(),
			"duration-ms": time.Since(start).Milliseconds(),
		}).Debugf("%s %s", c.Request.Method, c.FullPath())
	}
}

// authenticate resolves the owner of the request from its bearer token. The
// watch endpoint also accepts the token as the access_token query parameter
// because browsers can't set headers on websockets.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" && strings.HasSuffix(c.Request.URL.Path, "/watch") {
			token = c.Query("access_token")
		}

		owner, ok := s.cfg.Tokens[token]
		if token == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing or invalid token"})
			return
		}

		c.Set(ownerKey, owner)
		c.Request = c.Request.WithContext(log.CtxWithValues(c.Request.Context(), log.Kv{"owner": owner}))
		c.Next()
	}
}

func ownerOf(c *gin.Context) string { return c.GetString(ownerKey) }

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(ownerOf(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "too many submissions, try again later"})
			return
		}
		c.Next()
	}
}

// ownerLimiter keeps a token bucket per owner.
type ownerLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newOwnerLimiter(limit rate.Limit, burst int) *ownerLimiter {
	return &ownerLimiter{limit: limit, burst: burst, limiters: map[string]*rate.Limiter{}}
}

func (o *ownerLimiter) allow(owner string) bool {
	o.mu.Lock()
	l, ok := o.limiters[owner]
	if !ok {
		l = rate.NewLimiter(o.limit, o.burst)
		o.limiters[owner] = l
	}
	o.mu.Unlock()

	return l.Allow()
}
