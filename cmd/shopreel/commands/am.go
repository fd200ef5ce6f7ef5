package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/internal/util"
	"github.com/teranos/shopreel/sym"
	"gopkg.in/yaml.v3"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage ShopReel configuration",
	Long: sym.AM + ` am — Manage ShopReel configuration ("I am")

Display and manage ShopReel configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (SHOPREEL_* prefix)
2. Project config (./am.toml or ./config.toml)
3. Local overrides (~/.shopreel/am_overrides.toml, written by 'am set')
4. User config (~/.shopreel/am.toml or ~/.shopreel/config.toml)
5. System config (/etc/shopreel/config.toml)
6. Default values

Examples:
  shopreel am show                          # Show current configuration
  shopreel am show --format json            # Show configuration in JSON format
  shopreel am get pipeline.workers          # Get specific config value
  shopreel am set pipeline.daily_budget_usd 5.0
  shopreel am validate                      # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current ShopReel configuration merged from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pipeline.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration override",
	Long: `Write a configuration override to ~/.shopreel/am_overrides.toml.

Overrides sit between user config and project config in the cascade.
Numbers and booleans are stored typed; everything else as a string.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a persisted configuration override",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmUnset,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current ShopReel configuration is valid",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked.

Lists all configuration sources in order of precedence, showing
which settings each active source contributes.`,
	RunE: runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amUnsetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# ShopReel configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# ShopReel configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	value := am.Get(key)
	fmt.Println(value)
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	// Keep the stored type faithful so budget floats do not round-trip
	// through strings.
	var value interface{} = raw
	if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	} else if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		value = i
	} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
		value = f
	}

	if err := am.UpdateOverride(key, value); err != nil {
		return fmt.Errorf("failed to persist override: %w", err)
	}

	fmt.Printf("%s %s = %v (written to %s)\n", sym.AM, key, value, am.GetOverridesPath())
	return nil
}

func runAmUnset(cmd *cobra.Command, args []string) error {
	if err := am.RemoveOverride(args[0]); err != nil {
		return fmt.Errorf("failed to remove override: %w", err)
	}
	fmt.Printf("%s removed override %s\n", sym.AM, args[0])
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]   Built-in defaults")
	fmt.Println("  2. [SYSTEM]    /etc/shopreel/config.toml")
	fmt.Println("  3. [USER]      ~/.shopreel/config.toml or ~/.shopreel/am.toml")
	fmt.Println("  4. [OVERRIDE]  ~/.shopreel/am_overrides.toml (written by 'am set')")
	fmt.Println("  5. [PROJECT]   ./am.toml or ./config.toml (searches up directories)")
	fmt.Println("  6. [ENV]       SHOPREEL_* environment variables")
	fmt.Println()

	// Group settings by their winning source.
	settingsBySource := make(map[am.ConfigSource][]am.SettingInfo)
	pathBySource := make(map[am.ConfigSource]string)
	for _, setting := range intro.Settings {
		settingsBySource[setting.Source] = append(settingsBySource[setting.Source], setting)
		if setting.SourcePath != "" {
			pathBySource[setting.Source] = setting.SourcePath
		}
	}

	sourceOrder := []am.ConfigSource{
		am.SourceDefault,
		am.SourceSystem,
		am.SourceUser,
		am.SourceOverride,
		am.SourceProject,
		am.SourceEnvironment,
	}

	fmt.Println("Active configuration:")
	for _, source := range sourceOrder {
		settings := settingsBySource[source]
		if len(settings) == 0 {
			continue
		}
		sort.Slice(settings, func(i, j int) bool {
			return settings[i].Key < settings[j].Key
		})

		if path := pathBySource[source]; path != "" {
			fmt.Printf("\n%s: %d settings from %s\n", source, len(settings), path)
		} else if source == am.SourceEnvironment {
			fmt.Printf("\n%s: %d settings from environment variables\n", source, len(settings))
		} else {
			fmt.Printf("\n%s: %d settings\n", source, len(settings))
		}

		for _, setting := range settings {
			fmt.Printf("  %s = %s\n", setting.Key, util.Truncate(fmt.Sprintf("%v", setting.Value), 50))
		}
	}

	return nil
}
