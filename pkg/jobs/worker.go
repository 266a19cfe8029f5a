package jobs

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/rag"
	"github.com/docsage/docsage/pkg/types"
)

const dequeueTimeout = 5 * time.Second

// Worker executes queued ingest tasks against the RAG engine.
type Worker struct {
	queue    *Queue
	service  *Service
	fetcher  *extract.Fetcher
	engine   *rag.Engine
	logger   *zap.Logger
	metrics  *metrics.Metrics
	parallel int
}

// NewWorker creates a worker pool with the given parallelism.
func NewWorker(queue *Queue, service *Service, fetcher *extract.Fetcher, engine *rag.Engine, logger *zap.Logger, m *metrics.Metrics, parallel int) *Worker {
	if parallel <= 0 {
		parallel = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		service:  service,
		fetcher:  fetcher,
		engine:   engine,
		logger:   logger,
		metrics:  m,
		parallel: parallel,
	}
}

// Run blocks, consuming tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.parallel; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, slot int) {
	logger := w.logger.With(zap.Int("worker", slot))
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue_failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.runTask(ctx, task, logger)
	}
}

// runTask drives one job through its lifecycle.
func (w *Worker) runTask(ctx context.Context, task *Task, logger *zap.Logger) {
	start := time.Now()
	logger.Info("job_started",
		zap.String("job_id", task.JobID),
		zap.String("task", task.Kind))

	err := w.execute(ctx, task)

	status := "success"
	if err != nil {
		status = "error"
		if failErr := w.service.Fail(ctx, task.JobID, err.Error()); failErr != nil {
			logger.Error("job_fail_update_failed",
				zap.String("job_id", task.JobID), zap.Error(failErr))
		}
		logger.Error("job_failed",
			zap.String("job_id", task.JobID),
			zap.String("task", task.Kind),
			zap.Error(err))
	} else {
		if doneErr := w.service.Complete(ctx, task.JobID); doneErr != nil {
			logger.Error("job_complete_update_failed",
				zap.String("job_id", task.JobID), zap.Error(doneErr))
		}
		logger.Info("job_completed",
			zap.String("job_id", task.JobID),
			zap.String("task", task.Kind),
			zap.Duration("elapsed", time.Since(start)))
	}

	if w.metrics != nil {
		w.metrics.RecordJobTask(task.Kind, status, time.Since(start))
	}
}

func (w *Worker) execute(ctx context.Context, task *Task) error {
	if err := w.service.UpdateStatus(ctx, task.JobID, types.JobRunning, "extracting"); err != nil {
		return err
	}
	if err := w.service.UpdateProgress(ctx, task.JobID, 10, "extracting"); err != nil {
		return err
	}

	var (
		chunks []string
		source string
		err    error
	)
	switch task.Kind {
	case TaskIngestFile:
		// The upload lives on shared storage under the job ID and is
		// removed whatever the outcome.
		defer os.Remove(task.Path)
		chunks, err = extract.FromPDF(task.Path)
		source = task.Source
	default:
		chunks, err = w.fetcher.FromURL(ctx, task.URL)
		source = task.URL
	}
	if err != nil {
		return err
	}

	if err := w.service.UpdateProgress(ctx, task.JobID, 30, "cleaning"); err != nil {
		return err
	}

	progress := func(p int, step string) {
		if updateErr := w.service.UpdateProgress(ctx, task.JobID, p, step); updateErr != nil {
			w.logger.Warn("job_progress_update_failed",
				zap.String("job_id", task.JobID), zap.Error(updateErr))
		}
	}

	_, err = w.engine.Ingest(ctx, chunks, source, task.Domain, task.Topic, progress)
	return err
}
