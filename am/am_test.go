package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	// Load config from isolated viper
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	// Check default values are applied
	if cfg.Database.Path != "shopreel.db" {
		t.Errorf("expected default database path 'shopreel.db', got %q", cfg.Database.Path)
	}

	// server.port has no default, nil means "use DefaultServerPort"
	if cfg.Server.Port != nil {
		t.Errorf("expected nil port (unset), got %d", *cfg.Server.Port)
	}
	if got := cfg.GetServerPort(); got != DefaultServerPort {
		t.Errorf("expected resolved port %d, got %d", DefaultServerPort, got)
	}

	if cfg.Pipeline.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Pipeline.Workers)
	}

	if cfg.Pipeline.MaxPollAttempts != 30 {
		t.Errorf("expected default max poll attempts 30, got %d", cfg.Pipeline.MaxPollAttempts)
	}

	if cfg.Synth.AspectRatio != "9:16" {
		t.Errorf("expected default aspect ratio '9:16', got %q", cfg.Synth.AspectRatio)
	}
}

func TestValidate_ZeroValues(t *testing.T) {
	zeroPort := 0
	negativePort := -1

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "zero workers is valid (disabled)",
			config: Config{
				Pipeline: PipelineConfig{Workers: 0},
			},
			wantErr: false,
		},
		{
			name: "negative workers is invalid",
			config: Config{
				Pipeline: PipelineConfig{Workers: -1},
			},
			wantErr: true,
		},
		{
			name: "zero ticker interval is valid (disabled)",
			config: Config{
				Pipeline: PipelineConfig{TickerIntervalSeconds: 0},
			},
			wantErr: false,
		},
		{
			name: "negative ticker interval is invalid",
			config: Config{
				Pipeline: PipelineConfig{TickerIntervalSeconds: -1},
			},
			wantErr: true,
		},
		{
			name: "zero remediation rounds is valid (fail on first rejection)",
			config: Config{
				Pipeline: PipelineConfig{MaxRemediationRounds: 0},
			},
			wantErr: false,
		},
		{
			name: "negative remediation rounds is invalid",
			config: Config{
				Pipeline: PipelineConfig{MaxRemediationRounds: -1},
			},
			wantErr: true,
		},
		{
			name: "negative poll interval is invalid",
			config: Config{
				Pipeline: PipelineConfig{PollIntervalSeconds: -1},
			},
			wantErr: true,
		},
		{
			name: "negative daily budget is invalid",
			config: Config{
				Pipeline: PipelineConfig{DailyBudgetUSD: -0.01},
			},
			wantErr: true,
		},
		{
			name: "zero budgets are valid (no budget)",
			config: Config{
				Pipeline: PipelineConfig{DailyBudgetUSD: 0, WeeklyBudgetUSD: 0, MonthlyBudgetUSD: 0},
			},
			wantErr: false,
		},
		{
			name: "explicit zero port is invalid (omit for default)",
			config: Config{
				Server: ServerConfig{Port: &zeroPort},
			},
			wantErr: true,
		},
		{
			name: "negative port is invalid",
			config: Config{
				Server: ServerConfig{Port: &negativePort},
			},
			wantErr: true,
		},
		{
			name: "negative synth task cost is invalid",
			config: Config{
				Synth: SynthConfig{TaskCostUSD: -0.4},
			},
			wantErr: true,
		},
		{
			name: "zero synth rate limit is valid (unlimited)",
			config: Config{
				Synth: SynthConfig{RequestsPerSecond: 0},
			},
			wantErr: false,
		},
		{
			name: "zero fetch rate limit is valid (unlimited)",
			config: Config{
				Pipeline: PipelineConfig{FetchMaxRequestsPerMinute: 0},
			},
			wantErr: false,
		},
		{
			name: "negative fetch rate limit is invalid",
			config: Config{
				Pipeline: PipelineConfig{FetchMaxRequestsPerMinute: -5},
			},
			wantErr: true,
		},
		{
			name: "empty database path is valid",
			config: Config{
				Database: DatabaseConfig{Path: ""},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	// Verify critical defaults are set
	tests := []struct {
		key      string
		expected interface{}
	}{
		{"database.path", "shopreel.db"},
		{"server.log_theme", "everforest"},
		{"pipeline.workers", 1},
		{"pipeline.ticker_interval_seconds", 1},
		{"pipeline.poll_interval_seconds", 10},
		{"pipeline.max_poll_attempts", 30},
		{"pipeline.max_remediation_rounds", 2},
		{"pipeline.fetch_max_requests_per_minute", 30},
		{"pipeline.daily_budget_usd", 3.0},
		{"vision.model", "openai/gpt-4o-mini"},
		{"synth.aspect_ratio", "9:16"},
		{"synth.task_cost_usd", 0.40},
		{"storage.bucket", "shopreel-media"},
		{"openrouter.model", "openai/gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := v.Get(tt.key)
			if got != tt.expected {
				t.Errorf("default %s = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	// server.port must stay unset so nil can signal "use the built-in default"
	if v.Get("server.port") != nil {
		t.Errorf("server.port should have no default, got %v", v.Get("server.port"))
	}
}

func TestFindProjectConfig(t *testing.T) {
	// Create temporary directory structure
	tmpDir := t.TempDir()

	// Test 1: am.toml preferred over config.toml
	t.Run("prefers am.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		// Create both config files
		os.WriteFile(filepath.Join(tmpDir, "test1", "am.toml"), []byte(""), DefaultFilePermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", "config.toml"), []byte(""), DefaultFilePermissions)

		// Change to subdirectory
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Error("expected to find config file")
		}
		if !filepath.IsAbs(result) {
			t.Error("expected absolute path")
		}
		if filepath.Base(result) != "am.toml" {
			t.Errorf("expected am.toml, got %s", filepath.Base(result))
		}
	})

	// Test 2: Falls back to config.toml if am.toml not present
	t.Run("fallback to config.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		// Create only config.toml
		os.WriteFile(filepath.Join(tmpDir, "test2", "config.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Error("expected to find config file")
		}
		if filepath.Base(result) != "config.toml" {
			t.Errorf("expected config.toml, got %s", filepath.Base(result))
		}
	})

	// Test 3: Returns empty string when no config found
	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test3", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestGetServerPort(t *testing.T) {
	t.Run("nil port resolves to default", func(t *testing.T) {
		cfg := Config{}
		if got := cfg.GetServerPort(); got != DefaultServerPort {
			t.Errorf("expected default port %d, got %d", DefaultServerPort, got)
		}
	})

	t.Run("configured port wins", func(t *testing.T) {
		port := 9999
		cfg := Config{Server: ServerConfig{Port: &port}}
		if got := cfg.GetServerPort(); got != 9999 {
			t.Errorf("expected configured port 9999, got %d", got)
		}
	})
}

func TestGetDatabasePath(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	path := cfg.GetDatabasePath()
	if path != "shopreel.db" {
		t.Errorf("expected default path 'shopreel.db', got %q", path)
	}
}

func TestModelFallbacks(t *testing.T) {
	cfg := Config{
		OpenRouter: OpenRouterConfig{Model: "openai/gpt-4o-mini"},
	}

	// Unset section models inherit the OpenRouter default
	if got := cfg.GetVisionModel(); got != "openai/gpt-4o-mini" {
		t.Errorf("expected vision model fallback to openrouter default, got %q", got)
	}
	if got := cfg.GetScriptModel(); got != "openai/gpt-4o-mini" {
		t.Errorf("expected script model fallback to openrouter default, got %q", got)
	}

	// Section-specific models win
	cfg.Vision.Model = "qwen/qwen2.5-vl-72b-instruct"
	cfg.Script.Model = "anthropic/claude-3.5-haiku"

	if got := cfg.GetVisionModel(); got != "qwen/qwen2.5-vl-72b-instruct" {
		t.Errorf("expected configured vision model, got %q", got)
	}
	if got := cfg.GetScriptModel(); got != "anthropic/claude-3.5-haiku" {
		t.Errorf("expected configured script model, got %q", got)
	}
}
