package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/shopreel/errors"
)

// OverridesFileName is the machine-local overrides file under ~/.shopreel,
// written by `shopreel am set` and merged between user and project config.
const OverridesFileName = "am_overrides.toml"

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("⚠️  Failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetOverridesPath returns the path to the overrides file in ~/.shopreel/am_overrides.toml
func GetOverridesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shopreel", OverridesFileName)
}

// loadOrInitializeOverrides loads the overrides file, or starts an empty one if it doesn't exist
func loadOrInitializeOverrides() (map[string]interface{}, string, error) {
	configPath := GetOverridesPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	// Ensure ~/.shopreel directory exists
	shopreelDir := filepath.Dir(configPath)
	if err := os.MkdirAll(shopreelDir, 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .shopreel directory")
	}

	// Try to read existing config
	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		// File exists, parse it
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse overrides file")
		}
	} else {
		// File doesn't exist, create empty config
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveOverrides writes the config to the overrides file with backup
func saveOverrides(config map[string]interface{}, configPath string) error {
	// Create backup
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	// Write to file
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write overrides file")
	}

	return nil
}

// UpdateOverride sets a single setting by dotted key ("pipeline.daily_budget_usd")
// in the overrides file, creating intermediate sections as needed. The running
// process picks the change up through the config watcher.
func UpdateOverride(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return errors.Newf("invalid setting key %q", key)
		}
	}

	config, configPath, err := loadOrInitializeOverrides()
	if err != nil {
		return errors.Wrap(err, "failed to load overrides")
	}

	// Walk to the leaf's parent section, creating sections along the way
	section := config
	for _, part := range parts[:len(parts)-1] {
		child, ok := section[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			section[part] = child
		}
		section = child
	}
	section[parts[len(parts)-1]] = value

	return saveOverrides(config, configPath)
}

// RemoveOverride deletes a setting from the overrides file, pruning sections
// it leaves empty. Removing a key that is not overridden is not an error.
func RemoveOverride(key string) error {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return errors.Newf("invalid setting key %q", key)
		}
	}

	config, configPath, err := loadOrInitializeOverrides()
	if err != nil {
		return errors.Wrap(err, "failed to load overrides")
	}

	// Walk to the leaf's parent, remembering the path so empty sections can
	// be pruned bottom-up afterwards
	sections := []map[string]interface{}{config}
	section := config
	for _, part := range parts[:len(parts)-1] {
		child, ok := section[part].(map[string]interface{})
		if !ok {
			return nil // Section absent, nothing to remove
		}
		sections = append(sections, child)
		section = child
	}
	delete(section, parts[len(parts)-1])

	for i := len(sections) - 1; i > 0; i-- {
		if len(sections[i]) == 0 {
			delete(sections[i-1], parts[i-1])
		}
	}

	return saveOverrides(config, configPath)
}

// UpdatePipelineDailyBudget updates the daily budget in the overrides file
func UpdatePipelineDailyBudget(dailyBudget float64) error {
	return UpdateOverride("pipeline.daily_budget_usd", dailyBudget)
}

// UpdatePipelineMonthlyBudget updates the monthly budget in the overrides file
func UpdatePipelineMonthlyBudget(monthlyBudget float64) error {
	return UpdateOverride("pipeline.monthly_budget_usd", monthlyBudget)
}
