// internal/workers/analysis/analyze-pitch/handler.go
package analyzepitch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"diligence-engine/internal/common/errors"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/models"
)

const TaskType = "analyze-pitch"

// Analyzer is the engine entry point this worker drives.
type Analyzer interface {
	Analyze(ctx context.Context, subjectID string, sub *models.Submission) (*models.AnalysisResult, error)
}

type Handler struct {
	config     *Config
	analyzer   Analyzer
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, analyzer Analyzer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		analyzer:   analyzer,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, errors.NewParseError(err))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.SubjectID == "" {
		return nil, fmt.Errorf("%w: subjectId is required", models.ErrInvalidSubmission)
	}

	start := time.Now()
	res, err := h.analyzer.Analyze(ctx, input.SubjectID, input.Submission)
	if err != nil {
		return nil, err
	}

	h.logger.Info("pitch analyzed", map[string]interface{}{
		"subjectId":    input.SubjectID,
		"resultId":     res.ID,
		"score":        res.Score,
		"providerUsed": res.ProviderUsed,
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	return &Output{
		ResultID:         res.ID,
		RequestID:        res.RequestID,
		Score:            res.Score,
		RiskScore:        res.RiskScore,
		Confidence:       res.Confidence,
		Rating:           res.Rating,
		ProviderUsed:     res.ProviderUsed,
		ExecutiveSummary: res.ExecutiveSummary,
		RiskCount:        len(res.RiskDrivers),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := h.errHandler.HandleJobError(ctx, client, job, err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
