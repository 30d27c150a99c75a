package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/veridict/veridict/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage Veridict configuration",
	Long: `am — Manage Veridict configuration ("I am")

Display and manage Veridict configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (VERIDICT_* prefix)
2. Project config (./veridict.toml)
3. User config (~/.veridict/veridict.toml)
4. Default values

Examples:
  veridict am show                # Show current configuration
  veridict am show --format json  # Show configuration in JSON format
  veridict am get database.path   # Get specific config value
  veridict am validate            # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current Veridict configuration from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pipeline.tick_interval_seconds)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current Veridict configuration is valid, including stage threshold ordering",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var out []byte
	switch configFormat {
	case "json":
		out, err = json.MarshalIndent(cfg, "", "  ")
	case "yaml":
		out, err = yaml.Marshal(cfg)
	case "toml":
		out, err = toml.Marshal(cfg)
	default:
		return fmt.Errorf("unknown format %q (want toml, json, or yaml)", configFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return fmt.Errorf("configuration key %q is not set", args[0])
	}

	fmt.Println(v.Get(args[0]))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid (%d stages)\n", len(cfg.Stages))
	return nil
}
