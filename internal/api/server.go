// internal/api/server.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/engine"
	"diligence-engine/internal/models"
)

// Service is the engine surface the HTTP API drives.
type Service interface {
	Analyze(ctx context.Context, subjectID string, sub *models.Submission) (*models.AnalysisResult, error)
	LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error)
	History(ctx context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error)
	OnboardingState(ctx context.Context, subjectID string) (*models.OnboardingState, error)
	StartStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error)
	SubmitStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error)
	AdvanceOnboarding(ctx context.Context, subjectID string, stage models.Stage, decision models.Decision, reasons []string) (*models.OnboardingState, error)
	HandleVendorDecision(ctx context.Context, d models.VendorDecision) (*engine.VendorOutcome, error)
}

// Check is a readiness probe for one dependency.
type Check func(ctx context.Context) error

type Option func(*Server)

func WithReadinessCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithRequestTimeout bounds every engine call made by a handler.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

type Server struct {
	svc            Service
	log            logger.Logger
	checks         map[string]Check
	requestTimeout time.Duration
	version        string
	router         *gin.Engine
}

func New(svc Service, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		log:            logger.ForComponent(log, "http"),
		checks:         map[string]Check{},
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(s.log), RequestLogger(s.log))

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		subjects := v1.Group("/subjects/:id")
		subjects.POST("/analysis", s.analyze)
		subjects.GET("/analysis", s.history)
		subjects.GET("/analysis/latest", s.latest)
		subjects.GET("/onboarding", s.onboardingState)
		subjects.POST("/onboarding/:stage/start", s.startStage)
		subjects.POST("/onboarding/:stage/submit", s.submitStage)
		subjects.POST("/onboarding/:stage/decision", s.decide)

		v1.POST("/webhooks/vendor", s.vendorWebhook)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.requestTimeout)
}
