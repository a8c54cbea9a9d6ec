// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"diligence-engine/internal/common/config"
	"diligence-engine/internal/common/metrics"
)

// JobHandler is the signature every engine task handler exposes.
type JobHandler func(client worker.JobClient, job entities.Job)

// Job outcomes reported to a JobRecorder.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobThrown    = "bpmn_error"
	JobUnacked   = "unacknowledged"
)

// JobRecorder receives the outcome and duration of every handled job.
type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, d time.Duration, status string)
}

type JobWorker struct {
	taskType string
	worker   worker.JobWorker
}

func (w *JobWorker) TaskType() string { return w.taskType }

// Close stops polling and waits for in-flight jobs to finish.
func (w *JobWorker) Close() {
	w.worker.Close()
	w.worker.AwaitClose()
}

// StartWorker opens a job worker for taskType. Disabled workers are skipped
// and return nil.
func (c *Client) StartWorker(taskType string, wcfg config.WorkerConfig, handler JobHandler) *JobWorker {
	if !wcfg.Enabled {
		c.log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	jw := c.client.NewJobWorker().
		JobType(taskType).
		Handler(instrument(taskType, handler, c.recorder)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	w := &JobWorker{taskType: taskType, worker: jw}
	c.workers = append(c.workers, w)

	c.log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return w
}

// instrument tracks in-flight jobs and handler duration per task type, and
// reports each job's outcome to rec when one is set.
func instrument(taskType string, handler JobHandler, rec JobRecorder) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		start := time.Now()
		oc := &outcomeClient{JobClient: client, status: JobUnacked}
		defer func() {
			elapsed := time.Since(start)
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
			if rec != nil {
				ctx := context.Background()
				rec.RecordJobProcessed(ctx, taskType, oc.status)
				rec.RecordJobDuration(ctx, taskType, elapsed, oc.status)
			}
		}()
		handler(oc, job)
	}
}

// outcomeClient notes which command the handler answered the job with.
type outcomeClient struct {
	worker.JobClient
	status string
}

func (c *outcomeClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	c.status = JobCompleted
	return c.JobClient.NewCompleteJobCommand()
}

func (c *outcomeClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	c.status = JobFailed
	return c.JobClient.NewFailJobCommand()
}

func (c *outcomeClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	c.status = JobThrown
	return c.JobClient.NewThrowErrorCommand()
}
