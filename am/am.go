package am

// Config represents the core ShopReel configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Script     ScriptConfig     `mapstructure:"script"`
	Retouch    RetouchConfig    `mapstructure:"retouch"`
	Synth      SynthConfig      `mapstructure:"synth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the ShopReel web server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // Server port: nil = default 8787, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest
}

// Server port constants
const (
	DefaultServerPort = 8787 // Above the privileged range, easy to type
)

// PipelineConfig configures the reel job pipeline (core infrastructure)
type PipelineConfig struct {
	// Worker concurrency configuration
	Workers int `mapstructure:"workers"` // Number of concurrent job workers (default: 1)

	// Ticker configuration for claiming pending jobs
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // How often workers look for pending jobs (default: 1)

	// Video synthesis polling
	PollIntervalSeconds  int `mapstructure:"poll_interval_seconds"`  // Delay between status polls on a submitted task (default: 10)
	MaxPollAttempts      int `mapstructure:"max_poll_attempts"`      // Polls per synthesis round before the round times out (default: 30)
	MaxRemediationRounds int `mapstructure:"max_remediation_rounds"` // Script rewrites allowed after policy rejections (default: 2, 0 = fail immediately)

	// Retention for terminal jobs, 0 = keep forever
	RetentionDays int `mapstructure:"retention_days"`

	// Source image fetching
	FetchMaxRequestsPerMinute int `mapstructure:"fetch_max_requests_per_minute"` // Rate limit for outbound image downloads (default: 30, 0 = unlimited)

	// Budget tracking for paid generation calls
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd"`   // Daily spending limit in USD
	WeeklyBudgetUSD  float64 `mapstructure:"weekly_budget_usd"`  // Weekly spending limit in USD
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd"` // Monthly spending limit in USD
}

// VisionConfig configures product image subject detection
type VisionConfig struct {
	Model string `mapstructure:"model"` // Vision-capable model for subject detection (empty = openrouter.model)
}

// ScriptConfig configures marketing script generation
type ScriptConfig struct {
	Model     string `mapstructure:"model"`      // Model for script writing and sanitization (empty = openrouter.model)
	MaxTokens *int   `mapstructure:"max_tokens"` // Token cap per script request (nil = openrouter.max_tokens)
}

// RetouchConfig configures the image editing service
type RetouchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`           // Image edit model identifier
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Request timeout in seconds (default: 120, edits are slow)
}

// SynthConfig configures the video synthesis service
type SynthConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`            // Generation model (empty = provider default)
	AspectRatio       string  `mapstructure:"aspect_ratio"`     // e.g. "9:16" for vertical product reels
	DurationSeconds   int     `mapstructure:"duration_seconds"` // Requested clip length
	Watermark         bool    `mapstructure:"watermark"`
	TaskCostUSD       float64 `mapstructure:"task_cost_usd"`       // Charged against the pipeline budget per submitted task
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // Client-side rate limit toward the provider
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`     // Request timeout in seconds
}

// StorageConfig configures the S3-compatible asset store
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicBaseURL   string `mapstructure:"public_base_url"` // Overrides endpoint-derived URLs when assets are served through a CDN
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key"`     // OpenRouter API key
	Model       string   `mapstructure:"model"`       // Default model (e.g., "openai/gpt-4o-mini")
	Temperature *float64 `mapstructure:"temperature"` // Sampling temperature (nil = default 0.2)
	MaxTokens   *int     `mapstructure:"max_tokens"`  // Maximum tokens per request (nil = default 1000)
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
