// internal/api/handlers.go
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"diligence-engine/internal/common/errors"
	"diligence-engine/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type decisionRequest struct {
	Decision string   `json:"decision"`
	Reasons  []string `json:"reasons"`
}

type errorResponse struct {
	Error     *errors.StandardError `json:"error"`
	RequestID string                `json:"requestId,omitempty"`
	// Set only for COOLDOWN_ACTIVE.
	RetryAfterSeconds *int64 `json:"retryAfterSeconds,omitempty"`
}

func (s *Server) analyze(c *gin.Context) {
	var sub models.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		s.fail(c, errors.NewParseError(err))
		return
	}

	ctx, cancel := s.withTimeout(c)
	defer cancel()

	res, err := s.svc.Analyze(ctx, c.Param("id"), &sub)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) latest(c *gin.Context) {
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	res, err := s.svc.LatestResult(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if res == nil {
		s.fail(c, errors.NewSubjectNotFoundError(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(c, errors.NewInvalidSubmissionError(fmt.Sprintf("limit must be a positive integer, got %q", raw)))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := s.withTimeout(c)
	defer cancel()

	results, err := s.svc.History(ctx, c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if results == nil {
		results = []*models.AnalysisResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) onboardingState(c *gin.Context) {
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	st, err := s.svc.OnboardingState(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) startStage(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	st, err := s.svc.StartStage(ctx, c.Param("id"), stage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) submitStage(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	st, err := s.svc.SubmitStage(ctx, c.Param("id"), stage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) decide(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewParseError(err))
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		s.fail(c, errors.NewInvalidDecisionError(err.Error()))
		return
	}

	ctx, cancel := s.withTimeout(c)
	defer cancel()

	st, err := s.svc.AdvanceOnboarding(ctx, c.Param("id"), stage, decision, req.Reasons)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) vendorWebhook(c *gin.Context) {
	var d models.VendorDecision
	if err := c.ShouldBindJSON(&d); err != nil {
		s.fail(c, errors.NewParseError(err))
		return
	}

	ctx, cancel := s.withTimeout(c)
	defer cancel()

	out, err := s.svc.HandleVendorDecision(ctx, d)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (s *Server) stageParam(c *gin.Context) (models.Stage, bool) {
	stage, err := models.ParseStage(c.Param("stage"))
	if err != nil {
		s.fail(c, errors.NewInvalidDecisionError(err.Error()))
		return "", false
	}
	return stage, true
}

// fail maps err onto its StandardError and HTTP status.
func (s *Server) fail(c *gin.Context, err error) {
	stdErr := errors.FromDomainError(err)
	status := errors.HTTPStatus(stdErr.Code)
	requestID := GetRequestID(c)

	body := errorBody(stdErr, requestID)
	if secs, ok := stdErr.Metadata["retryAfterSeconds"].(int64); ok && stdErr.Code == errors.ErrCodeCooldownActive {
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", map[string]interface{}{
			"requestId": requestID,
			"code":      stdErr.Code,
			"error":     err.Error(),
		})
	}
	c.AbortWithStatusJSON(status, body)
}

func errorBody(stdErr *errors.StandardError, requestID string) errorResponse {
	body := errorResponse{Error: stdErr, RequestID: requestID}
	if secs, ok := stdErr.Metadata["retryAfterSeconds"].(int64); ok {
		body.RetryAfterSeconds = &secs
	}
	return body
}
