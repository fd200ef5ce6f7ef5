package budget

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	shopreeltest "github.com/teranos/shopreel/internal/testing"
)

// TestTracker_ReadsFromActualUsage verifies that Tracker reads actual spend from ai_model_usage
func TestTracker_ReadsFromActualUsage(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: 3 API calls totaling $3.50 recorded in ai_model_usage
	today := time.Now()
	insertUsage(t, db, today, 1.50) // Call 1
	insertUsage(t, db, today, 1.00) // Call 2
	insertUsage(t, db, today, 1.00) // Call 3

	// Create budget tracker with $5 daily limit
	config := BudgetConfig{
		DailyBudgetUSD:   5.00,
		MonthlyBudgetUSD: 30.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: GetStatus() called
	status, err := tracker.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	// Then: Returns DailySpend=$3.50, DailyRemaining=$1.50
	expectedSpend := 3.50
	expectedRemaining := 1.50
	tolerance := 0.01

	if abs(status.DailySpend-expectedSpend) > tolerance {
		t.Errorf("DailySpend = $%.2f, want $%.2f", status.DailySpend, expectedSpend)
	}
	if abs(status.DailyRemaining-expectedRemaining) > tolerance {
		t.Errorf("DailyRemaining = $%.2f, want $%.2f", status.DailyRemaining, expectedRemaining)
	}
}

// TestTracker_EnforcesDailyLimit verifies that budget enforcement blocks jobs when daily limit exceeded
func TestTracker_EnforcesDailyLimit(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: $4.50 spent today in ai_model_usage
	today := time.Now()
	insertUsage(t, db, today, 4.50)

	// Create budget tracker with $5 daily limit
	config := BudgetConfig{
		DailyBudgetUSD:   5.00,
		MonthlyBudgetUSD: 30.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: CheckBudget($1.00) called (would exceed $5.00 limit)
	err := tracker.CheckBudget(1.00)

	// Then: Error "daily budget would be exceeded"
	if err == nil {
		t.Fatal("CheckBudget() should return error when daily limit exceeded")
	}
	if !strings.Contains(err.Error(), "daily budget would be exceeded") {
		t.Errorf("Expected 'daily budget would be exceeded' error, got: %v", err)
	}
}

// TestTracker_AllowsWithinLimits verifies that jobs are allowed when within budget
func TestTracker_AllowsWithinLimits(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: $2.00 spent today
	today := time.Now()
	insertUsage(t, db, today, 2.00)

	// Create budget tracker with $5 daily limit
	config := BudgetConfig{
		DailyBudgetUSD:   5.00,
		MonthlyBudgetUSD: 30.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: CheckBudget($1.00) called (within limits)
	err := tracker.CheckBudget(1.00)

	// Then: Succeeds (no error)
	if err != nil {
		t.Errorf("CheckBudget() should succeed when within limits, got error: %v", err)
	}
}

// TestTracker_EnforcesWeeklyLimit verifies the weekly sliding window blocks spend
// that the daily window alone would allow
func TestTracker_EnforcesWeeklyLimit(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: $6.00 spent across the last week, nothing in the last 24 hours
	now := time.Now()
	insertUsage(t, db, now.Add(-2*24*time.Hour), 3.00)
	insertUsage(t, db, now.Add(-3*24*time.Hour), 3.00)

	config := BudgetConfig{
		DailyBudgetUSD:   5.00,
		WeeklyBudgetUSD:  7.00,
		MonthlyBudgetUSD: 30.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: CheckBudget($1.50) called
	// - Daily: $0.00 + $1.50 < $5.00 (passes)
	// - Weekly: $6.00 + $1.50 > $7.00 (fails)
	err := tracker.CheckBudget(1.50)

	// Then: Error "weekly budget would be exceeded"
	if err == nil {
		t.Fatal("CheckBudget() should return error when weekly limit exceeded")
	}
	if !strings.Contains(err.Error(), "weekly budget would be exceeded") {
		t.Errorf("Expected 'weekly budget would be exceeded' error, got: %v", err)
	}
}

// TestTracker_ZeroWeeklyBudgetSkipsCheck verifies that a zero weekly budget
// disables the weekly window instead of blocking everything
func TestTracker_ZeroWeeklyBudgetSkipsCheck(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: $8.00 spent three days ago, weekly budget unset
	now := time.Now()
	insertUsage(t, db, now.Add(-3*24*time.Hour), 8.00)

	config := BudgetConfig{
		DailyBudgetUSD:   10.00,
		WeeklyBudgetUSD:  0,
		MonthlyBudgetUSD: 100.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: CheckBudget($1.00) called
	err := tracker.CheckBudget(1.00)

	// Then: Succeeds, only daily and monthly windows apply
	if err != nil {
		t.Errorf("CheckBudget() should skip weekly check when weekly budget is 0, got error: %v", err)
	}
}

// TestTracker_EnforcesMonthlyLimit verifies that monthly budget limit is enforced
func TestTracker_EnforcesMonthlyLimit(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: Realistic usage pattern across 30-day sliding window
	// - $0.90/day for 28 days spread across last 30 days = $25.20
	// - $1.00 spend within last 24 hours = $1.00 daily
	// - Total monthly: $26.20 (under $30 limit)
	now := time.Now()

	// Historical usage: $0.90/day for days 2-29, outside the 24-hour daily window
	for i := 2; i <= 29; i++ {
		timestamp := now.Add(time.Duration(-i) * 24 * time.Hour)
		insertUsage(t, db, timestamp, 0.90)
	}

	// Recent usage: $1.00 within the 24-hour window
	insertUsage(t, db, now.Add(-1*time.Hour), 1.00)

	// Create budget tracker with $30 monthly limit, weekly disabled
	config := BudgetConfig{
		DailyBudgetUSD:   10.00, // Daily check passes ($1.00 < $10.00)
		MonthlyBudgetUSD: 30.00, // Monthly check fails ($26.20 + $5.00 > $30.00)
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: CheckBudget($5.00) called
	// - Daily: $1.00 + $5.00 = $6.00 < $10.00 (passes)
	// - Monthly: $26.20 + $5.00 = $31.20 > $30.00 (fails)
	err := tracker.CheckBudget(5.00)

	// Then: Error "monthly budget would be exceeded"
	if err == nil {
		t.Fatal("CheckBudget() should return error when monthly limit exceeded")
	}
	if !strings.Contains(err.Error(), "monthly budget would be exceeded") {
		t.Errorf("Expected 'monthly budget would be exceeded' error, got: %v", err)
	}
}

// TestTracker_MultipleJobsCounted verifies that all jobs' usage is correctly summed
func TestTracker_MultipleJobsCounted(t *testing.T) {
	db := shopreeltest.CreateTestDB(t)
	defer db.Close()

	// Given: Job A cost $2.50, Job B cost $1.50 (both today)
	today := time.Now()
	insertUsage(t, db, today, 2.50) // Job A
	insertUsage(t, db, today, 1.50) // Job B

	// Create budget tracker with $5 daily limit
	config := BudgetConfig{
		DailyBudgetUSD:   5.00,
		MonthlyBudgetUSD: 30.00,
		TaskCostUSD:      0.40,
	}
	tracker := NewTracker(db, config)

	// When: Job C calls CheckBudget($2.00)
	// Total would be: $2.50 + $1.50 + $2.00 = $6.00 > $5.00
	err := tracker.CheckBudget(2.00)

	// Then: Blocked (daily budget exceeded)
	if err == nil {
		t.Fatal("CheckBudget() should block Job C when combined spend exceeds limit")
	}
	if !strings.Contains(err.Error(), "daily budget would be exceeded") {
		t.Errorf("Expected daily budget error, got: %v", err)
	}
}

// Helper functions

func insertUsage(t *testing.T, db *sql.DB, timestamp time.Time, costUSD float64) {
	t.Helper()

	query := `
		INSERT INTO ai_model_usage (
			model_provider, model_name, operation_type, tokens_used, cost,
			success, request_timestamp, entity_type, entity_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Format in UTC so string comparison against datetime('now') works
	_, err := db.Exec(query,
		"openrouter",
		"openai/gpt-4o-mini",
		"script.write",
		1000,    // tokens
		costUSD, // cost
		1,       // success
		timestamp.UTC().Format("2006-01-02 15:04:05"), // request_timestamp
		"reel_job",
		"job-test",
		time.Now().UTC().Format("2006-01-02 15:04:05"), // created_at
	)

	if err != nil {
		t.Fatalf("Failed to insert usage record: %v", err)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
