package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"instasave/pkg/logger"
	"instasave/pkg/models"
)

// DownloadJob is one media file of a saved item
type DownloadJob struct {
	ItemID  string
	Index   int
	Source  models.MediaSource
	RelPath string
}

// DownloadResult is the outcome of a download job
type DownloadResult struct {
	Job      DownloadJob
	Existed  bool
	Size     int64
	Error    error
	Duration time.Duration
}

// JobHandler performs one download job
type JobHandler func(ctx context.Context, job DownloadJob) DownloadResult

// WorkerPool runs download jobs on a fixed number of workers. A pool is
// meant to serve one carousel: submit every part, Stop, and drain Results.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	handle      JobHandler
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx
func NewWorkerPool(ctx context.Context, numWorkers int, handle JobHandler, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		handle:      handle,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers to drain it and closes the
// result channel. It must be called exactly once, after the last Submit.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit queues a job. It blocks while the queue is full.
func (wp *WorkerPool) Submit(job DownloadJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel; it is closed by Stop
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
			"worker_id": id,
			"item_id":   job.ItemID,
			"index":     job.Index,
		})
		result := wp.handle(wp.ctx, job)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}
