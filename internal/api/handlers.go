package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slok/satdl/internal/app/captcha"
	"github.com/slok/satdl/internal/app/list"
	"github.com/slok/satdl/internal/app/remove"
	"github.com/slok/satdl/internal/app/resolve"
	"github.com/slok/satdl/internal/app/status"
	"github.com/slok/satdl/internal/app/submit"
	"github.com/slok/satdl/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

type jobResponse struct {
	ID               string    `json:"id"`
	TaxID            string    `json:"tax_id"`
	StartDate        string    `json:"start_date"`
	EndDate          string    `json:"end_date"`
	Status           string    `json:"status"`
	TotalFiles       *int      `json:"total_files"`
	DownloadedFiles  int       `json:"downloaded_files"`
	ErrorMessage     *string   `json:"error_message"`
	ArtifactPath     *string   `json:"artifact_path"`
	CaptchaSessionID string    `json:"captcha_session_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func mapJob(j model.Job) jobResponse {
	resp := jobResponse{
		ID:              j.ID,
		TaxID:           j.TaxID,
		StartDate:       j.Range.Start.Format(model.DateLayout),
		EndDate:         j.Range.End.Format(model.DateLayout),
		Status:          string(j.Status),
		TotalFiles:      j.TotalFiles,
		DownloadedFiles: j.DownloadedFiles,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.ErrorMessage != "" {
		resp.ErrorMessage = &j.ErrorMessage
	}
	if j.ArtifactPath != "" {
		resp.ArtifactPath = &j.ArtifactPath
	}
	return resp
}

type captchaResponse struct {
	CaptchaSessionID string `json:"captcha_session_id"`
	// Image is the PNG of the challenge, base64 encoded.
	Image []byte `json:"image"`
}

type executionResponse struct {
	Job     jobResponse      `json:"job"`
	Captcha *captchaResponse `json:"captcha,omitempty"`
}

func mapExecution(j model.Job, cs *model.CaptchaSession) executionResponse {
	resp := executionResponse{Job: mapJob(j)}
	if cs != nil {
		resp.Captcha = &captchaResponse{CaptchaSessionID: cs.ID, Image: cs.Image}
		resp.Job.CaptchaSessionID = cs.ID
	}
	return resp
}

type removeResponse struct {
	Removed []string `json:"removed"`
}

// statusCode maps domain errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrNotValid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	code := statusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.WithCtxValues(c.Request.Context()).Errorf("Request failed: %s", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, errorResponse{Error: msg})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitRequest struct {
	TaxID     string `json:"tax_id" binding:"required"`
	Password  string `json:"password" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

func (s *Server) submitJob(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	resp, err := s.cfg.Submit.Run(c.Request.Context(), submit.Request{
		OwnerID:   ownerOf(c),
		TaxID:     req.TaxID,
		Password:  req.Password,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusAccepted, mapExecution(resp.Job, resp.Captcha))
}

func (s *Server) listJobs(c *gin.Context) {
	req := list.Request{OwnerID: ownerOf(c)}
	if st := c.Query("status"); st != "" {
		js, err := model.ParseJobStatus(st)
		if err != nil {
			s.abort(c, err)
			return
		}
		req.StatusFilter = &js
	}

	jobs, err := s.cfg.List.Run(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, mapJob(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp})
}

func (s *Server) getJob(c *gin.Context) {
	st, err := s.cfg.Status.Run(c.Request.Context(), status.Request{OwnerID: ownerOf(c), JobID: c.Param("id")})
	if err != nil {
		s.abort(c, err)
		return
	}

	resp := mapJob(st.Job)
	resp.CaptchaSessionID = st.CaptchaSessionID
	c.JSON(http.StatusOK, resp)
}

func (s *Server) removeJob(c *gin.Context) {
	s.remove(c, remove.Request{OwnerID: ownerOf(c), JobID: c.Param("id")})
}

func (s *Server) removeAllJobs(c *gin.Context) {
	s.remove(c, remove.Request{OwnerID: ownerOf(c), All: true})
}

func (s *Server) remove(c *gin.Context, req remove.Request) {
	removed, err := s.cfg.Remove.Run(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}

	resp := removeResponse{Removed: make([]string, 0, len(removed))}
	for _, j := range removed {
		resp.Removed = append(resp.Removed, j.ID)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getCaptcha(c *gin.Context) {
	cs, err := s.cfg.Captcha.Run(c.Request.Context(), captcha.Request{OwnerID: ownerOf(c), JobID: c.Param("id")})
	if err != nil {
		s.abort(c, err)
		return
	}

	c.Header("X-Captcha-Session-ID", cs.ID)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", cs.Image)
}

type resolveRequest struct {
	Answer   string `json:"answer" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) resolveCaptcha(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	resp, err := s.cfg.Resolve.Run(c.Request.Context(), resolve.Request{
		OwnerID:          ownerOf(c),
		JobID:            c.Param("id"),
		CaptchaSessionID: c.Param("session"),
		Answer:           req.Answer,
		Password:         req.Password,
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusAccepted, mapExecution(resp.Job, resp.Captcha))
}
