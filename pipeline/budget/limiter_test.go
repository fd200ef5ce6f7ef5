package budget

import (
	"sync"
	"testing"
	"time"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Given: Limiter configured for 10 calls/minute
// When: Making 5 calls within 1 minute
// Then: All calls should be allowed
func TestLimiter_UnderLimit(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 5; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Call %d: expected no error, got %v", i+1, err)
		}
		clock.Advance(1 * time.Second)
	}
}

// Given: Limiter configured for 10 calls/minute
// When: Making exactly 10 calls within 1 minute
// Then: All 10 allowed, the 11th rejected
func TestLimiter_AtLimit(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Call %d: expected no error, got %v", i+1, err)
		}
		clock.Advance(100 * time.Millisecond)
	}

	if err := limiter.Allow(); err == nil {
		t.Error("Call 11: expected rate limit error, got nil")
	}
}

// Given: Limiter configured for 10 calls/minute
// When: Making 15 calls within 1 minute
// Then: First 10 allowed, last 5 rejected
func TestLimiter_OverLimit(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	successCount := 0
	failureCount := 0

	for i := 0; i < 15; i++ {
		if err := limiter.Allow(); err == nil {
			successCount++
		} else {
			failureCount++
		}
		clock.Advance(10 * time.Millisecond)
	}

	if successCount != 10 {
		t.Errorf("Expected 10 successful calls, got %d", successCount)
	}
	if failureCount != 5 {
		t.Errorf("Expected 5 failed calls, got %d", failureCount)
	}
}

// Given: Limiter at capacity
// When: Waiting for the window to expire (>60 seconds)
// Then: Next call should be allowed
func TestLimiter_WindowReset(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Fatalf("Setup call %d failed: %v", i+1, err)
		}
		clock.Advance(100 * time.Millisecond)
	}

	if err := limiter.Allow(); err == nil {
		t.Error("Expected rate limit error before window reset")
	}

	clock.Advance(61 * time.Second)

	if err := limiter.Allow(); err != nil {
		t.Errorf("Expected call to succeed after window reset, got error: %v", err)
	}
}

// Given: Limiter configured for 100 calls/minute
// When: 10 goroutines each making 20 calls (200 total)
// Then: Exactly 100 succeed, 100 fail, no races under -race
func TestLimiter_Concurrent(t *testing.T) {
	// Real time for the concurrency test
	limiter := NewLimiter(100)

	var wg sync.WaitGroup
	results := make(chan bool, 200)

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				err := limiter.Allow()
				results <- (err == nil)
			}
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	failureCount := 0
	for success := range results {
		if success {
			successCount++
		} else {
			failureCount++
		}
	}

	if successCount != 100 {
		t.Errorf("Expected exactly 100 successful calls, got %d", successCount)
	}
	if failureCount != 100 {
		t.Errorf("Expected exactly 100 failed calls, got %d", failureCount)
	}
}

// Given: Sliding window limiter with 10 calls/minute limit
// When: 10 calls instantly, then a wait past the window, then 10 more
// Then: Both bursts allowed, calls in between rejected
func TestLimiter_BurstHandling(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Burst call %d failed: %v", i+1, err)
		}
	}

	if err := limiter.Allow(); err == nil {
		t.Error("Expected rate limit error when at capacity")
	}

	// Still within the 60s window at 30s, so still at limit
	clock.Advance(30 * time.Second)
	if err := limiter.Allow(); err == nil {
		t.Error("Expected rate limit error at 30s (still within window)")
	}

	// 61s total, the calls from T=0 have expired
	clock.Advance(31 * time.Second)

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Post-window call %d failed: %v", i+1, err)
		}
	}
}

// Given: Limiter configured for 60 calls/minute
// When: Making 1 call per second for 60 seconds
// Then: All calls succeed (evenly distributed across the window)
func TestLimiter_PerMinuteCalculation(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(60, clock.Now)

	for i := 0; i < 60; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Call %d at second %d failed: %v", i+1, i, err)
		}
		clock.Advance(1 * time.Second)
	}
}

// Given: Limiter with its window full
// When: Reset() is called
// Then: Call history cleared, full limit available again
func TestLimiter_Reset(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Fatalf("Setup call %d failed: %v", i+1, err)
		}
	}

	if err := limiter.Allow(); err == nil {
		t.Error("Expected rate limit error before reset")
	}

	limiter.Reset()

	for i := 0; i < 10; i++ {
		if err := limiter.Allow(); err != nil {
			t.Errorf("Post-reset call %d failed: %v", i+1, err)
		}
	}
}

// Stats should report window occupancy and remaining capacity
func TestLimiter_Stats(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 4; i++ {
		if err := limiter.Allow(); err != nil {
			t.Fatalf("Setup call %d failed: %v", i+1, err)
		}
	}

	calls, remaining := limiter.Stats()
	if calls != 4 {
		t.Errorf("Stats calls = %d, want 4", calls)
	}
	if remaining != 6 {
		t.Errorf("Stats remaining = %d, want 6", remaining)
	}

	// Expired calls drop out of the stats too
	clock.Advance(61 * time.Second)
	calls, remaining = limiter.Stats()
	if calls != 0 {
		t.Errorf("Stats calls after window = %d, want 0", calls)
	}
	if remaining != 10 {
		t.Errorf("Stats remaining after window = %d, want 10", remaining)
	}
}

// A rate limit rejection should carry a useful message
func TestLimiter_ErrorMessage(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(10, clock.Now)

	for i := 0; i < 10; i++ {
		limiter.Allow()
	}

	err := limiter.Allow()
	if err == nil {
		t.Fatal("Expected rate limit error")
	}

	errMsg := err.Error()
	if errMsg == "" {
		t.Error("Rate limit error has empty message")
	}
	t.Logf("Rate limit error message: %s", errMsg)
}
