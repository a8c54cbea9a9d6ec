// internal/workers/onboarding/vendor-decision/handler.go
package vendordecision

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"diligence-engine/internal/common/errors"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/engine"
	"diligence-engine/internal/models"
)

const TaskType = "vendor-decision"

type VendorHandler interface {
	HandleVendorDecision(ctx context.Context, d models.VendorDecision) (*engine.VendorOutcome, error)
}

type Handler struct {
	config     *Config
	vendor     VendorHandler
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, vendor VendorHandler, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		vendor:     vendor,
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
	outcome, err := h.vendor.HandleVendorDecision(ctx, models.VendorDecision{
		SubjectID: input.SubjectID,
		Stage:     models.Stage(input.Stage),
		Decision:  models.VendorVerdict(input.Decision),
		RiskScore: input.RiskScore,
		Reasons:   input.Reasons,
	})
	if err != nil {
		return nil, err
	}

	out := &Output{
		ResultID:  outcome.Result.ID,
		Score:     outcome.Result.Score,
		RiskScore: outcome.Result.RiskScore,
		Rating:    string(outcome.Result.Rating),
	}
	if outcome.State != nil {
		out.Stage = string(outcome.State.Stage)
		out.SubStage = string(outcome.State.SubStage)
		out.Version = outcome.State.Version
	}

	h.logger.Info("vendor decision recorded", map[string]interface{}{
		"subjectId": input.SubjectID,
		"decision":  input.Decision,
		"resultId":  out.ResultID,
		"subStage":  out.SubStage,
	})
	return out, nil
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
