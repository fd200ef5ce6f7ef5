package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/errors"
	shopreeltest "github.com/teranos/shopreel/internal/testing"
)

// ============================================================================
// Maple's Boutique Worker Pool Test Universe
// ============================================================================
//
// Characters:
//   - Maple: Boutique owner whose requests pile up while she sleeps
//   - Sable: The studio worker pool that claims and runs the pile
//   - Ledger: The accountant who can freeze spending for the day
//
// Theme: Sable works Maple's pile unattended; Ledger occasionally
// declares the budget spent and the pile has to wait.
// ============================================================================

// recordingRunner claims each job it is handed and completes it, the
// way the real orchestrator would, so the pile actually drains.
type recordingRunner struct {
	queue *Queue
	mu    sync.Mutex
	ran   []string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, jobID string) (string, error) {
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}

	job, err := r.queue.Claim(jobID)
	if err != nil {
		return "", err
	}
	job.Complete("https://videos.example.com/done.mp4", "")
	if err := r.queue.UpdateJob(job); err != nil {
		return "", err
	}
	return job.VideoURL, nil
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

// frozenLedger is a budget gate that refuses everything.
type frozenLedger struct{}

func (frozenLedger) CheckBudget(estimatedCostUSD float64) error {
	return errors.New("daily budget spent")
}
func (frozenLedger) EstimateTaskCost(numTasks int) float64 { return 1.0 }

func fastPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		TickInterval: 5 * time.Millisecond,
		DrainTimeout: time.Second,
	}
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, check func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return check()
}

func TestSableWorksThePile(t *testing.T) {
	t.Log("🖤 Sable starts the shift and works Maple's overnight pile...")

	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)
	runner := &recordingRunner{queue: queue}

	first, err := queue.Enqueue(mapleRequest("listing-pile-1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	second, err := queue.Enqueue(mapleRequest("listing-pile-2"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pool := NewWorkerPool(context.Background(), queue, runner, nil, fastPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return runner.runCount() >= 2 }) {
		t.Fatalf("the pile never drained: %d jobs ran", runner.runCount())
	}

	for _, id := range []string{first.ID, second.ID} {
		job, err := queue.GetJob(id)
		if err != nil {
			t.Fatalf("failed to reload job: %v", err)
		}
		if job.Status != JobStatusCompleted {
			t.Errorf("job %s should be completed, got %s", id, job.Status)
		}
	}

	t.Log("✓ Sable drained the pile and every reel finished")
}

func TestSableStartsAndStopsCleanly(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)

	pool := NewWorkerPool(context.Background(), queue, &recordingRunner{queue: queue}, nil, fastPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return on an idle pool")
	}
}

func TestSableFailsOrphansFromLastShift(t *testing.T) {
	t.Log("🖤 The studio lost power mid-shift; Sable inventories the damage...")

	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)
	store := NewStore(db)

	// A job the dead process had claimed, and one still waiting.
	stuck := mapleJob(t, "REEL_ORPHAN", "l-orphan")
	store.CreateJob(stuck)
	store.ClaimPending(stuck.ID)
	waiting, err := queue.Enqueue(mapleRequest("listing-untouched"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	runner := &recordingRunner{queue: queue}
	pool := NewWorkerPool(context.Background(), queue, runner, nil, fastPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	if !waitFor(t, 2*time.Second, func() bool {
		job, err := queue.GetJob("REEL_ORPHAN")
		return err == nil && job.Status == JobStatusFailed
	}) {
		t.Fatal("the orphaned job was never marked failed")
	}

	orphan, _ := queue.GetJob("REEL_ORPHAN")
	if orphan.ErrorMessage == "" {
		t.Error("the orphan's error_message should explain the restart")
	}

	// The pending job runs normally.
	if !waitFor(t, 2*time.Second, func() bool {
		job, err := queue.GetJob(waiting.ID)
		return err == nil && job.Status == JobStatusCompleted
	}) {
		t.Fatal("the pending job should have been claimed and run")
	}

	t.Log("✓ orphans failed with an explanation; pending work resumed")
}

func TestLedgerFreezesThePile(t *testing.T) {
	t.Log("📒 Ledger declares the budget spent; the pile must wait...")

	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)
	runner := &recordingRunner{queue: queue}

	job, err := queue.Enqueue(mapleRequest("listing-frozen-budget"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pool := NewWorkerPool(context.Background(), queue, runner, frozenLedger{}, fastPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	time.Sleep(100 * time.Millisecond)

	if count := runner.runCount(); count != 0 {
		t.Errorf("no job may run while the budget is frozen, %d ran", count)
	}
	loaded, _ := queue.GetJob(job.ID)
	if loaded.Status != JobStatusPending {
		t.Errorf("a deferred job stays pending, got %s", loaded.Status)
	}

	t.Log("✓ the job was deferred, not failed; it runs when a window rolls over")
}

func TestLostClaimRaceIsNotAnError(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)

	// The runner always reports a lost claim race.
	runner := &recordingRunner{queue: queue, err: errors.Mark(errors.New("claimed elsewhere"), errors.ErrConflict)}

	if _, err := queue.Enqueue(mapleRequest("listing-race")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pool := NewWorkerPool(context.Background(), queue, runner, nil, fastPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	if runner.runCount() == 0 {
		t.Fatal("the runner should have been invoked")
	}
	// The pool logged nothing fatal and kept ticking; reaching here
	// without a panic or a stall is the assertion.
}

func TestWorkerPoolConfigDefaults(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)

	pool := NewWorkerPool(context.Background(), queue, &recordingRunner{queue: queue}, nil, WorkerPoolConfig{}, nil)
	if pool.Workers() != 1 {
		t.Errorf("zero workers must clamp to 1, got %d", pool.Workers())
	}
	if pool.config.TickInterval != DefaultTickInterval {
		t.Errorf("zero tick interval must default, got %v", pool.config.TickInterval)
	}
	if pool.config.MaxTasksPerJob != 1+DefaultMaxRemediationRounds {
		t.Errorf("budget estimate must cover the initial task plus remediations, got %d", pool.config.MaxTasksPerJob)
	}
}

func TestGetSystemMetrics(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	queue := NewQueue(db)

	queue.Enqueue(mapleRequest("listing-metrics"))

	pool := NewWorkerPool(context.Background(), queue, &recordingRunner{queue: queue}, nil, WorkerPoolConfig{Workers: 2}, zap.NewNop().Sugar())
	metrics := pool.GetSystemMetrics()
	if metrics.WorkersTotal != 2 {
		t.Errorf("expected 2 total workers, got %d", metrics.WorkersTotal)
	}
	if metrics.JobsPending != 1 {
		t.Errorf("expected 1 pending job, got %d", metrics.JobsPending)
	}
}
