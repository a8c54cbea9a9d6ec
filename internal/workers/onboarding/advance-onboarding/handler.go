// internal/workers/onboarding/advance-onboarding/handler.go
package advanceonboarding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"diligence-engine/internal/common/errors"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/models"
)

const TaskType = "advance-onboarding"

type Onboarding interface {
	StartStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error)
	SubmitStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error)
	AdvanceOnboarding(ctx context.Context, subjectID string, stage models.Stage, decision models.Decision, reasons []string) (*models.OnboardingState, error)
}

type Handler struct {
	config     *Config
	onboarding Onboarding
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, onboarding Onboarding, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		onboarding: onboarding,
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
	stage, err := models.ParseStage(input.Stage)
	if err != nil {
		return nil, errors.NewInvalidDecisionError(err.Error())
	}

	var st *models.OnboardingState
	switch input.Action {
	case ActionStart:
		st, err = h.onboarding.StartStage(ctx, input.SubjectID, stage)
	case ActionSubmit:
		st, err = h.onboarding.SubmitStage(ctx, input.SubjectID, stage)
	case ActionDecide, "":
		decision, perr := models.ParseDecision(input.Decision)
		if perr != nil {
			return nil, errors.NewInvalidDecisionError(perr.Error())
		}
		st, err = h.onboarding.AdvanceOnboarding(ctx, input.SubjectID, stage, decision, input.Reasons)
	default:
		return nil, errors.NewInvalidDecisionError(fmt.Sprintf("unknown onboarding action %q", input.Action))
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("onboarding advanced", map[string]interface{}{
		"subjectId": input.SubjectID,
		"action":    input.Action,
		"stage":     st.Stage,
		"subStage":  st.SubStage,
		"version":   st.Version,
	})

	reasons := st.RejectionReasons
	if reasons == nil {
		reasons = []string{}
	}
	return &Output{
		Stage:            string(st.Stage),
		SubStage:         string(st.SubStage),
		Version:          st.Version,
		RejectionReasons: reasons,
		Completed:        st.Stage == models.StageDone,
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
