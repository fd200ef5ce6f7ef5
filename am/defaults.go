package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "shopreel.db")

	// Server configuration defaults.
	// server.port deliberately has no default: nil means "use DefaultServerPort",
	// which lets introspection distinguish a configured port from the built-in one.
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")

	// Pipeline (reel job infrastructure) defaults
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.ticker_interval_seconds", 1)
	v.SetDefault("pipeline.poll_interval_seconds", 10)  // Synthesis tasks take minutes, polling faster wastes quota
	v.SetDefault("pipeline.max_poll_attempts", 30)      // 30 polls x 10s = 5 minute ceiling per round
	v.SetDefault("pipeline.max_remediation_rounds", 2)  // Two script rewrites before giving up on policy rejections
	v.SetDefault("pipeline.retention_days", 0)          // Keep terminal jobs forever unless told otherwise
	v.SetDefault("pipeline.fetch_max_requests_per_minute", 30)
	v.SetDefault("pipeline.daily_budget_usd", 3.0)      // Default $3/day limit
	v.SetDefault("pipeline.weekly_budget_usd", 7.0)     // Default $7/week limit
	v.SetDefault("pipeline.monthly_budget_usd", 15.0)   // Default $15/month limit

	// Vision defaults
	v.SetDefault("vision.model", "openai/gpt-4o-mini") // Cheapest multimodal model that detects people reliably

	// Script defaults
	v.SetDefault("script.model", "openai/gpt-4o-mini")

	// Retouch defaults
	v.SetDefault("retouch.timeout_seconds", 120) // Image edits routinely take over a minute

	// Synth defaults
	v.SetDefault("synth.aspect_ratio", "9:16") // Vertical, the format product reels are consumed in
	v.SetDefault("synth.duration_seconds", 8)
	v.SetDefault("synth.watermark", false)
	v.SetDefault("synth.task_cost_usd", 0.40) // Charged per submitted task, resubmissions included
	v.SetDefault("synth.requests_per_second", 2.0)
	v.SetDefault("synth.timeout_seconds", 60)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000") // Local MinIO for development
	v.SetDefault("storage.bucket", "shopreel-media")
	v.SetDefault("storage.use_ssl", false)

	// OpenRouter defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("openrouter.temperature", 0.2)            // Deterministic
	v.SetDefault("openrouter.max_tokens", 1000)            // Token limit
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// API keys never belong in config files
	v.BindEnv("openrouter.api_key", "SHOPREEL_OPENROUTER_API_KEY")
	v.BindEnv("retouch.api_key", "SHOPREEL_RETOUCH_API_KEY")
	v.BindEnv("synth.api_key", "SHOPREEL_SYNTH_API_KEY")

	// Storage credentials
	v.BindEnv("storage.access_key_id", "SHOPREEL_STORAGE_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_access_key", "SHOPREEL_STORAGE_SECRET_ACCESS_KEY")

	// Database path
	v.BindEnv("database.path", "SHOPREEL_DATABASE_PATH")
}

// GetServerPort returns the configured ShopReel server port
// Returns server.port from config, or DefaultServerPort (8787) if not configured
func GetServerPort() int {
	cfg, err := Load()
	if err != nil {
		return DefaultServerPort
	}
	return cfg.GetServerPort()
}

// GetServerPort resolves the server port, falling back to DefaultServerPort
// when the config omits it
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil || *c.Server.Port <= 0 {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "shopreel.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetServerLogTheme returns the log theme (default: everforest)
func (c *Config) GetServerLogTheme() string {
	if c.Server.LogTheme == "" {
		return "everforest"
	}
	return c.Server.LogTheme
}

// GetVisionModel returns the subject detection model, falling back to the
// OpenRouter default model
func (c *Config) GetVisionModel() string {
	if c.Vision.Model != "" {
		return c.Vision.Model
	}
	return c.OpenRouter.Model
}

// GetScriptModel returns the script generation model, falling back to the
// OpenRouter default model
func (c *Config) GetScriptModel() string {
	if c.Script.Model != "" {
		return c.Script.Model
	}
	return c.OpenRouter.Model
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {LogTheme: %s}, Pipeline: {Workers: %d}}",
		c.Database.Path, c.Server.LogTheme, c.Pipeline.Workers)
}
