// Package compactcmder provides the compact command for pruning aged-out
// knowledge from the project store.
package compactcmder

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/logger"
	"github.com/papercomputeco/keel/pkg/run"
)

const compactLongDesc string = `Compact the project knowledge store.

Removes resolved failures and archived assumptions older than the
configured retention window (storage.retention_days). Entities still
referenced by anything live are always kept, whatever their age.

Examples:
  keel compact`

const compactShortDesc string = "Prune aged-out knowledge from the store"

func NewCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: compactShortDesc,
		Long:  compactLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runCompact(cmd, configDir)
		},
	}

	return cmd
}

func runCompact(cmd *cobra.Command, configDir string) error {
	ctx := cmd.Context()

	manager, err := run.NewManager(configDir)
	if err != nil {
		return err
	}
	project, err := run.ResolveProject(configDir)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(logger.WithWriter(cmd.ErrOrStderr()), logger.WithLevel(slog.LevelWarn))
	st, err := run.OpenStore(ctx, project.ProjectID, cfg, manager.Dir, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	removed := 0
	err = cliui.Step(cmd.OutOrStdout(), "Compacting knowledge store", func() error {
		var stepErr error
		removed, stepErr = st.Compact(ctx)
		return stepErr
	})
	if err != nil {
		return err
	}

	if removed == 0 {
		fmt.Printf("  %s Nothing to prune.\n", cliui.SuccessMark)
		return nil
	}

	fmt.Printf("  %s Pruned %s entities.\n",
		cliui.SuccessMark,
		cliui.ValueStyle.Render(strconv.Itoa(removed)),
	)
	return nil
}
