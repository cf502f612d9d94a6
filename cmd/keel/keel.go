// Package keelcmder
package keelcmder

import (
	"github.com/spf13/cobra"

	compactcmder "github.com/papercomputeco/keel/cmd/keel/compact"
	configcmder "github.com/papercomputeco/keel/cmd/keel/config"
	initcmder "github.com/papercomputeco/keel/cmd/keel/init"
	mergecmder "github.com/papercomputeco/keel/cmd/keel/merge"
	reportcmder "github.com/papercomputeco/keel/cmd/keel/report"
	statuscmder "github.com/papercomputeco/keel/cmd/keel/status"
	watchcmder "github.com/papercomputeco/keel/cmd/keel/watch"
	versioncmder "github.com/papercomputeco/keel/cmd/version"
)

const keelLongDesc string = `Keel is a local knowledge core for AI coding agents.

It watches a project, builds a concept graph of what the code does and
why, tracks the assumptions behind changes, classifies failures against
that knowledge, and blocks fix attempts that already failed.

Run it using:
  keel init       Initialize a local .keel/ directory
  keel watch      Watch the project and ingest changes
  keel status     Show project knowledge at a glance
  keel report     Show open failures and suspected assumptions`

const keelShortDesc string = "Keel - Agent Knowledge Core"

func NewKeelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keel",
		Short: keelShortDesc,
		Long:  keelLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .keel/ directory location")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(reportcmder.NewReportCmd())
	cmd.AddCommand(compactcmder.NewCompactCmd())
	cmd.AddCommand(mergecmder.NewMergeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
