package budget

import (
	"database/sql"
	"fmt"
	"sync"
)

// BudgetConfig sets the spending limits the tracker enforces.
// TaskCostUSD is the flat price charged per submitted synthesis task,
// used to estimate cost before a job is allowed to run.
type BudgetConfig struct {
	DailyBudgetUSD   float64
	WeeklyBudgetUSD  float64
	MonthlyBudgetUSD float64
	TaskCostUSD      float64
}

// Status represents current budget state
type Status struct {
	DailySpend       float64
	WeeklySpend      float64
	MonthlySpend     float64
	DailyRemaining   float64
	WeeklyRemaining  float64
	MonthlyRemaining float64
	DailyOps         int
	WeeklyOps        int
	MonthlyOps       int
}

// Tracker tracks and enforces budget limits
type Tracker struct {
	store  *Store
	config BudgetConfig
	mu     sync.RWMutex // Protects config from concurrent read/write
}

// NewTracker creates a new budget tracker
func NewTracker(db *sql.DB, config BudgetConfig) *Tracker {
	return &Tracker{
		store:  NewStore(db),
		config: config,
	}
}

// GetStatus returns current budget status from actual recorded usage
func (bt *Tracker) GetStatus() (*Status, error) {
	dailySpend, dailyOps, err := bt.store.GetActualDailySpend()
	if err != nil {
		return nil, fmt.Errorf("failed to get daily spend from usage: %w", err)
	}

	weeklySpend, weeklyOps, err := bt.store.GetActualWeeklySpend()
	if err != nil {
		return nil, fmt.Errorf("failed to get weekly spend from usage: %w", err)
	}

	monthlySpend, monthlyOps, err := bt.store.GetActualMonthlySpend()
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly spend from usage: %w", err)
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	weeklyBudget := bt.config.WeeklyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	return &Status{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   dailyBudget - dailySpend,
		WeeklyRemaining:  weeklyBudget - weeklySpend,
		MonthlyRemaining: monthlyBudget - monthlySpend,
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// CheckBudget checks if we have budget available for an operation.
// Returns error if any window's limit would be exceeded. The weekly
// check is skipped when the weekly budget is zero.
func (bt *Tracker) CheckBudget(estimatedCostUSD float64) error {
	status, err := bt.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get budget status: %w", err)
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	weeklyBudget := bt.config.WeeklyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	if status.DailySpend+estimatedCostUSD > dailyBudget {
		return fmt.Errorf("daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.DailySpend, estimatedCostUSD, dailyBudget)
	}

	if weeklyBudget > 0 && status.WeeklySpend+estimatedCostUSD > weeklyBudget {
		return fmt.Errorf("weekly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.WeeklySpend, estimatedCostUSD, weeklyBudget)
	}

	if status.MonthlySpend+estimatedCostUSD > monthlyBudget {
		return fmt.Errorf("monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.MonthlySpend, estimatedCostUSD, monthlyBudget)
	}

	return nil
}

// EstimateTaskCost estimates the cost of submitting N synthesis tasks.
// Remediation resubmissions count as new tasks, so a job that remediates
// twice costs three tasks.
func (bt *Tracker) EstimateTaskCost(numTasks int) float64 {
	bt.mu.RLock()
	costPerTask := bt.config.TaskCostUSD
	bt.mu.RUnlock()
	return float64(numTasks) * costPerTask
}

// UpdateDailyBudget updates the in-memory daily budget limit.
// Persisting the new limit across restarts is the caller's responsibility.
func (bt *Tracker) UpdateDailyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return fmt.Errorf("daily budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.DailyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	return nil
}

// UpdateMonthlyBudget updates the in-memory monthly budget limit.
// Persisting the new limit across restarts is the caller's responsibility.
func (bt *Tracker) UpdateMonthlyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return fmt.Errorf("monthly budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.MonthlyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	return nil
}

// GetBudgetLimits returns the current budget configuration limits
func (bt *Tracker) GetBudgetLimits() BudgetConfig {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}
