package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// ConfigSources records, for every dotted setting key, which layer supplied
// its value during the last Load. Populated by initViper and consumed by
// GetConfigIntrospection.
var ConfigSources = make(map[string]SourceInfo)

// Load reads the ShopReel core configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	ConfigSources = make(map[string]SourceInfo)
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("SHOPREEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific sensitive configuration values to environment variables
	BindSensitiveEnvVars(v)

	// Set defaults first
	SetDefaults(v)

	// Every key known at this point carries its built-in value. File layers
	// overwrite these entries as they merge.
	for _, key := range v.AllKeys() {
		ConfigSources[key] = SourceInfo{Source: SourceDefault, Path: ""}
	}

	// Manually merge configs in precedence order: system -> user -> overrides -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for config.toml or am.toml by walking up the directory tree
// Returns the path to the first config file found, or empty string if none found
// Preference order: am.toml > config.toml (for backward compatibility)
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Walk up the directory tree looking for config files
	for {
		// Check for am.toml first (new format)
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		// Fall back to config.toml (backward compatibility)
		configPath := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// configLayer pairs a config file path with the source label introspection
// reports for keys it supplies
type configLayer struct {
	path   string
	source ConfigSource
}

// mergeConfigFiles manually merges configuration files in the correct precedence order
// Precedence (lowest to highest): system < user < overrides < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Ensure ~/.shopreel directory exists
	shopreelDir := filepath.Join(homeDir, ".shopreel")
	os.MkdirAll(shopreelDir, DefaultDirPermissions)

	// Build config layers in ascending precedence. Within the user level
	// am.toml (new format) beats config.toml (backward compat). The overrides
	// file written by `shopreel am set` sits between user and project config
	// so a checked-in project file still wins over machine-local tweaks.
	layers := []configLayer{
		{"/etc/shopreel/config.toml", SourceSystem},
		{filepath.Join(shopreelDir, "config.toml"), SourceUser},
		{filepath.Join(shopreelDir, "am.toml"), SourceUser},
		{filepath.Join(shopreelDir, OverridesFileName), SourceOverride},
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		layers = append(layers, configLayer{projectConfig, SourceProject})
	}

	for _, layer := range layers {
		if _, err := os.Stat(layer.path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(layer.path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		// Merge at the config level rather than v.Set so environment
		// variables keep precedence over every file layer.
		settings := tempViper.AllSettings()
		v.MergeConfigMap(settings)

		// Record which file supplied each leaf key. Later layers overwrite
		// earlier ones, mirroring the merge itself.
		markSettingsFromSource(settings, "", layer.source, layer.path, ConfigSources)
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v := initViper()
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	v := initViper()
	return v.GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}

// GetFloat64 returns a configuration value as float64 using dot notation
func GetFloat64(key string) float64 {
	v := initViper()
	return v.GetFloat64(key)
}

// GetDatabasePath returns the configured database path
func GetDatabasePath() (string, error) {
	// Check for SHOPREEL_DB_PATH environment variable first (for dev mode override)
	if dbPath := os.Getenv("SHOPREEL_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}
