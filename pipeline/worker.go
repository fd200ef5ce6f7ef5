package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/pipeline/budget"
	"github.com/teranos/shopreel/sym"
)

const (
	// MaxOrphanedJobsToFail bounds how many orphaned jobs startup
	// recovery will mark failed after a crash
	MaxOrphanedJobsToFail = 1000

	// DefaultTickInterval is how often an idle worker checks for work
	DefaultTickInterval = 1 * time.Second

	// DefaultDrainTimeout is how long Stop waits for in-flight jobs
	// before cancelling them. A job can legitimately spend minutes in
	// the synthesis poll loop.
	DefaultDrainTimeout = 5 * time.Minute

	// janitorInterval is how often the retention sweep runs
	janitorInterval = 1 * time.Hour
)

// JobRunner executes one claimed job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, jobID string) (string, error)
}

// BudgetGate decides whether the estimated spend of one more job fits
// the configured windows.
type BudgetGate interface {
	CheckBudget(estimatedCostUSD float64) error
	EstimateTaskCost(numTasks int) float64
}

var _ BudgetGate = (*budget.Tracker)(nil)

// poolLogger wraps the sugared logger with open/close markers so the
// daemon lifecycle stands out in the log stream.
type poolLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event
func (l poolLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a shutdown event
func (l poolLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers        int           `json:"workers"`
	TickInterval   time.Duration `json:"tick_interval"`
	DrainTimeout   time.Duration `json:"drain_timeout"`
	RetentionDays  int           `json:"retention_days"`    // 0 disables the janitor
	MaxTasksPerJob int           `json:"max_tasks_per_job"` // worst-case synthesis tasks per job, for the budget estimate
}

// DefaultWorkerPoolConfig returns sensible defaults: a single worker,
// so a fresh install cannot stampede the paid vendors.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:        1,
		TickInterval:   DefaultTickInterval,
		DrainTimeout:   DefaultDrainTimeout,
		MaxTasksPerJob: 1 + DefaultMaxRemediationRounds,
	}
}

// WorkerPool claims pending reel jobs and runs each to a terminal
// status. Distinct jobs run independently; the atomic claim keeps two
// workers off the same record.
type WorkerPool struct {
	queue      *Queue
	runner     JobRunner
	budgetGate BudgetGate // optional; nil skips the spend check
	config     WorkerPoolConfig
	workers    int

	parentCtx   context.Context
	claimCtx    context.Context // cancelled first on Stop: no new claims
	claimCancel context.CancelFunc
	jobCtx      context.Context // cancelled after the drain timeout
	jobCancel   context.CancelFunc

	wg                sync.WaitGroup
	activeWorkers     int
	jobsProcessed     int
	startTime         time.Time
	lastBudgetWarning time.Time
	logger            poolLogger
	mu                sync.Mutex
}

// NewWorkerPool creates a pool that hands claimed jobs to the runner.
// budgetGate may be nil to disable the spend check (tests, one-shot
// runs).
func NewWorkerPool(ctx context.Context, queue *Queue, runner JobRunner, budgetGate BudgetGate, config WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.MaxTasksPerJob <= 0 {
		config.MaxTasksPerJob = 1 + DefaultMaxRemediationRounds
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	claimCtx, claimCancel := context.WithCancel(ctx)
	jobCtx, jobCancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:       queue,
		runner:      runner,
		budgetGate:  budgetGate,
		config:      config,
		workers:     config.Workers,
		parentCtx:   ctx,
		claimCtx:    claimCtx,
		claimCancel: claimCancel,
		jobCtx:      jobCtx,
		jobCancel:   jobCancel,
		logger:      poolLogger{logger.Named("pool")},
	}
}

// Start fails orphaned jobs from a previous process, then launches the
// workers and, when retention is configured, the janitor.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.claimCtx.Done():
		// Restarted after Stop: recreate both contexts from the parent.
		wp.claimCtx, wp.claimCancel = context.WithCancel(wp.parentCtx)
		wp.jobCtx, wp.jobCancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker contexts after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.failOrphanedJobs(); err != nil {
		wp.logger.Warnw("Orphaned job recovery failed", "error", err)
		// Workers still start; orphans stay visible in the job list
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	if wp.config.RetentionDays > 0 {
		wp.wg.Add(1)
		go wp.janitor()
	}

	wp.logger.Starting("Worker pool started",
		"workers", wp.workers,
		"tick_interval", wp.config.TickInterval,
		"retention_days", wp.config.RetentionDays)
}

// Stop drains the pool. Claiming stops immediately; in-flight jobs get
// DrainTimeout to finish on their own, then their context is cancelled
// and each fails at its next suspension point.
func (wp *WorkerPool) Stop() {
	wp.claimCancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Closing("Worker pool stopped, all workers exited cleanly")
		wp.jobCancel()
		return
	case <-time.After(wp.config.DrainTimeout):
		wp.logger.Closing("Drain timeout reached, cancelling in-flight jobs", "timeout", wp.config.DrainTimeout)
		wp.jobCancel()
	}

	select {
	case <-done:
		wp.logger.Closing("Worker pool stopped after cancellation")
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Workers still running after cancellation, abandoning wait")
	}
}

// failOrphanedJobs marks mid-stage jobs from a previous process as
// failed. Their stages called external services whose state is unknown
// now, so resuming is unsafe; the listing can simply be re-triggered.
// Pending jobs are left alone and will be claimed normally.
func (wp *WorkerPool) failOrphanedJobs() error {
	orphans, err := wp.queue.store.ListOrphanedJobs(MaxOrphanedJobsToFail)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	wp.logger.Starting("Failing jobs orphaned by a previous shutdown", "count", len(orphans))
	for _, job := range orphans {
		failErr := errors.Newf("interrupted in %s by a daemon restart", job.Status)
		if err := wp.queue.FailJob(job.ID, failErr); err != nil {
			wp.logger.Warnw("Failed to mark orphaned job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// worker claims and runs jobs until the claim context is cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.config.TickInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.claimCtx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(id); err != nil {
				select {
				case <-wp.claimCtx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)
				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoff)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// processNextJob claims the oldest pending job and runs it to a
// terminal status. A nil return covers "no work", a lost claim race,
// and a job that failed: job failures live in the job record, not the
// worker loop.
func (wp *WorkerPool) processNextJob(workerID int) error {
	select {
	case <-wp.claimCtx.Done():
		return nil
	default:
	}

	job, err := wp.queue.NextPending()
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	// Budget gate: defer the claim rather than fail the job, so work
	// resumes by itself once a spending window rolls over.
	if wp.budgetGate != nil {
		estimated := wp.budgetGate.EstimateTaskCost(wp.config.MaxTasksPerJob)
		if err := wp.budgetGate.CheckBudget(estimated); err != nil {
			wp.throttledBudgetWarning(job.ID, err)
			return nil
		}
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if _, err := wp.runner.Run(wp.jobCtx, job.ID); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			// Another worker claimed it between NextPending and Run
			return nil
		}
		// Run persisted the failure already; log it for the daemon
		// stream and keep the worker healthy.
		wp.logger.Warnw("Reel job ended in failure",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err)
	}
	return nil
}

// throttledBudgetWarning logs the deferral at most once a minute; the
// gate fires on every tick while the budget stays exhausted.
func (wp *WorkerPool) throttledBudgetWarning(jobID string, err error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if time.Since(wp.lastBudgetWarning) < time.Minute {
		return
	}
	wp.lastBudgetWarning = time.Now()
	wp.logger.Warnw(sym.Pulse+" Budget exhausted, deferring pending jobs",
		"next_job_id", jobID,
		"error", err)
}

// janitor deletes terminal jobs older than the retention window.
func (wp *WorkerPool) janitor() {
	defer wp.wg.Done()

	retention := time.Duration(wp.config.RetentionDays) * 24 * time.Hour

	// Sweep once at startup, then hourly.
	wp.sweepOldJobs(retention)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.claimCtx.Done():
			return
		case <-ticker.C:
			wp.sweepOldJobs(retention)
		}
	}
}

func (wp *WorkerPool) sweepOldJobs(retention time.Duration) {
	deleted, err := wp.queue.CleanupOldJobs(retention)
	if err != nil {
		wp.logger.Warnw("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		wp.logger.Infow(sym.DB+" Retention sweep removed finished jobs",
			"deleted", deleted,
			"retention_days", wp.config.RetentionDays)
	}
}

// GetQueue returns the job queue (useful for enqueuing jobs).
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Uptime reports how long the pool has been running.
func (wp *WorkerPool) Uptime() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.startTime.IsZero() {
		return 0
	}
	return time.Since(wp.startTime)
}
