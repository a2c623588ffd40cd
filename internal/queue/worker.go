package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/pipeline"
	"github.com/callsight/callsight/internal/types"
)

// WorkerPool runs pipeline invocations from a buffered queue.
type WorkerPool struct {
	jobQueue    chan string
	workerCount int
	registry    *Registry
	orch        *pipeline.Orchestrator
	log         *logrus.Entry

	// JobTimeout bounds one invocation. Zero means no bound.
	JobTimeout time.Duration
}

// NewWorkerPool creates a pool feeding the orchestrator.
func NewWorkerPool(workerCount int, registry *Registry, orch *pipeline.Orchestrator, log *logrus.Entry) *WorkerPool {
	return &WorkerPool{
		jobQueue:    make(chan string, 100),
		workerCount: workerCount,
		registry:    registry,
		orch:        orch,
		log:         log,
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.log.WithField("workers", wp.workerCount).Info("Starting worker pool")
	for i := 0; i < wp.workerCount; i++ {
		go wp.worker(ctx, i)
	}
}

// Enqueue registers the request and queues it. Returns an error when the
// queue is full rather than blocking the handler.
func (wp *WorkerPool) Enqueue(id string, req pipeline.Request) (*Job, error) {
	job := wp.registry.Add(id, req)
	select {
	case wp.jobQueue <- id:
		wp.log.WithFields(logrus.Fields{
			"job_id":       id,
			"storage_path": req.StoragePath,
		}).Info("Job enqueued")
		return job, nil
	default:
		wp.registry.update(id, func(j *Job) {
			j.Status = types.StatusFailed
			j.Error = "queue full"
		})
		return nil, fmt.Errorf("job queue is full")
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.WithField("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-wp.jobQueue:
			wp.runJob(ctx, log, jobID)
		}
	}
}

// runJob executes one invocation with panic recovery so a crashing job
// never takes down its worker.
func (wp *WorkerPool) runJob(ctx context.Context, log *logrus.Entry, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"job_id": jobID,
				"panic":  r,
			}).Errorf("Worker panic\n%s", debug.Stack())
			wp.registry.update(jobID, func(j *Job) {
				j.Status = types.StatusFailed
				j.Error = fmt.Sprintf("internal error: %v", r)
			})
		}
	}()

	job, err := wp.registry.Get(jobID)
	if err != nil {
		log.WithError(err).Warn("Dequeued unknown job")
		return
	}

	wp.registry.update(jobID, func(j *Job) { j.Status = types.StatusProcessing })

	runCtx := ctx
	if wp.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, wp.JobTimeout)
		defer cancel()
	}

	// Each run gets its own orchestrator value so the progress callback can
	// close over this job id.
	orch := *wp.orch
	orch.Progress = func(stage string) {
		wp.registry.update(jobID, func(j *Job) { j.Stage = stage })
	}

	result, err := orch.Run(runCtx, job.Request)
	if err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("Pipeline run failed")
		wp.registry.update(jobID, func(j *Job) {
			j.Status = types.StatusFailed
			j.Error = err.Error()
		})
		return
	}

	wp.registry.update(jobID, func(j *Job) {
		j.Status = types.StatusCompleted
		j.Result = result
	})
	log.WithFields(logrus.Fields{
		"job_id":        jobID,
		"transcript_id": result.TranscriptID,
	}).Info("Job completed")
}
