package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/slok/satdl/internal/model"
)

const (
	watchWriteTimeout = 10 * time.Second
	watchPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type eventResponse struct {
	Type string      `json:"type"`
	Job  jobResponse `json:"job"`
}

// watchJobs streams the changes of the jobs of the owner over a websocket
// until the client goes away.
func (s *Server) watchJobs(c *gin.Context) {
	owner := ownerOf(c)
	logger := s.logger.WithCtxValues(c.Request.Context())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := s.cfg.Feed.Subscribe(ctx)
	if err != nil {
		s.abort(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warningf("Could not upgrade websocket: %s", err)
		return
	}
	defer conn.Close()
	logger.Debugf("Watch client connected")

	// Reading detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warningf("Watch client error: %s", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(watchWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Job.OwnerID != owner {
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(mapEvent(ev)); err != nil {
				logger.Warningf("Could not send job event: %s", err)
				return
			}
		}
	}
}

func mapEvent(ev model.JobEvent) eventResponse {
	return eventResponse{Type: string(ev.Type), Job: mapJob(ev.Job)}
}
