// Package configcmder provides the config command for managing persistent
// keel configuration stored in the .keel/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent keel configuration.

Configuration is stored as config.toml in the .keel/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.snapshot_dir,
  storage.retention_days,
  extractor.provider, extractor.base_url, extractor.model,
  graph.edge_half_life_hours,
  classifier.recency_window_minutes, classifier.score_floor,
  classifier.quiet_attempts, classifier.max_candidates,
  retry.similarity_threshold, composer.token_budget, watch.debounce_ms

Use subcommands to get, set, or list configuration values:
  keel config set <key> <value>    Set a configuration value
  keel config get <key>            Get a configuration value
  keel config list                 List all configuration values

Examples:
  keel config set extractor.provider anthropic
  keel config set storage.driver sqlite
  keel config get retry.similarity_threshold
  keel config list`

const configShortDesc string = "Manage persistent keel configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
