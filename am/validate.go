package am

import "github.com/teranos/shopreel/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "shopreel.db" per defaults.go
	// No validation needed here

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8787)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Pipeline workers: 0 = no background workers, negative = invalid
	if c.Pipeline.Workers < 0 {
		return errors.Newf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}

	// Pipeline ticker interval: 0 = no periodic ticking, negative = invalid
	if c.Pipeline.TickerIntervalSeconds < 0 {
		return errors.Newf("pipeline.ticker_interval_seconds must be >= 0, got %d", c.Pipeline.TickerIntervalSeconds)
	}

	// Poll interval: 0 = poll back-to-back (valid for tests), negative = invalid
	if c.Pipeline.PollIntervalSeconds < 0 {
		return errors.Newf("pipeline.poll_interval_seconds must be >= 0, got %d", c.Pipeline.PollIntervalSeconds)
	}

	// Poll attempts: 0 = use the built-in ceiling, negative = invalid
	if c.Pipeline.MaxPollAttempts < 0 {
		return errors.Newf("pipeline.max_poll_attempts must be >= 0, got %d", c.Pipeline.MaxPollAttempts)
	}

	// Remediation rounds: 0 = fail on first policy rejection, negative = invalid
	if c.Pipeline.MaxRemediationRounds < 0 {
		return errors.Newf("pipeline.max_remediation_rounds must be >= 0, got %d", c.Pipeline.MaxRemediationRounds)
	}

	// Retention: 0 = keep terminal jobs forever, negative = invalid
	if c.Pipeline.RetentionDays < 0 {
		return errors.Newf("pipeline.retention_days must be >= 0, got %d", c.Pipeline.RetentionDays)
	}

	// Fetch rate limit: 0 = unlimited, negative = invalid
	if c.Pipeline.FetchMaxRequestsPerMinute < 0 {
		return errors.Newf("pipeline.fetch_max_requests_per_minute must be >= 0, got %d", c.Pipeline.FetchMaxRequestsPerMinute)
	}

	// Budget values: 0 = no budget (valid per "zero means zero"), negative = invalid
	if c.Pipeline.DailyBudgetUSD < 0 {
		return errors.Newf("pipeline.daily_budget_usd must be >= 0, got %f", c.Pipeline.DailyBudgetUSD)
	}
	if c.Pipeline.WeeklyBudgetUSD < 0 {
		return errors.Newf("pipeline.weekly_budget_usd must be >= 0, got %f", c.Pipeline.WeeklyBudgetUSD)
	}
	if c.Pipeline.MonthlyBudgetUSD < 0 {
		return errors.Newf("pipeline.monthly_budget_usd must be >= 0, got %f", c.Pipeline.MonthlyBudgetUSD)
	}

	// Synth tuning: cost and rate may be 0 (free tier, unlimited), negative = invalid
	if c.Synth.TaskCostUSD < 0 {
		return errors.Newf("synth.task_cost_usd must be >= 0, got %f", c.Synth.TaskCostUSD)
	}
	if c.Synth.RequestsPerSecond < 0 {
		return errors.Newf("synth.requests_per_second must be >= 0, got %f", c.Synth.RequestsPerSecond)
	}
	if c.Synth.DurationSeconds < 0 {
		return errors.Newf("synth.duration_seconds must be >= 0, got %d", c.Synth.DurationSeconds)
	}
	if c.Synth.TimeoutSeconds < 0 {
		return errors.Newf("synth.timeout_seconds must be >= 0, got %d", c.Synth.TimeoutSeconds)
	}

	// Retouch timeout: 0 = library default, negative = invalid
	if c.Retouch.TimeoutSeconds < 0 {
		return errors.Newf("retouch.timeout_seconds must be >= 0, got %d", c.Retouch.TimeoutSeconds)
	}

	// Script token cap: nil = inherit openrouter.max_tokens, 0 or negative = invalid
	if c.Script.MaxTokens != nil && *c.Script.MaxTokens <= 0 {
		return errors.Newf("script.max_tokens must be > 0, got %d (omit to inherit openrouter.max_tokens)", *c.Script.MaxTokens)
	}

	return nil
}
