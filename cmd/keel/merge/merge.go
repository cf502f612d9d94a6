// Package mergecmder provides the merge command for reconciling a
// teammate's knowledge snapshot into the local store.
package mergecmder

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/logger"
	"github.com/papercomputeco/keel/pkg/run"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/snapshotfile"
)

const mergeLongDesc string = `Merge a teammate's knowledge snapshot into the local store.

Takes the path to a snapshot file (as written by the file storage
driver) and reconciles it with the local knowledge: concepts merge by
identity, other entities union by id. Entities that diverged on both
sides are kept twice, the incoming copy under a "~theirs" suffix, and
listed as conflicts for explicit resolution. Assumption status is never
resolved by picking the newer side.

Examples:
  keel merge /tmp/teammate-keel/snapshots/4f1c9a7e.json`

const mergeShortDesc string = "Merge a teammate's snapshot into the local store"

func NewMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <snapshot-file>",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runMerge(cmd, configDir, args[0])
		},
	}

	return cmd
}

func runMerge(cmd *cobra.Command, configDir, snapshotPath string) error {
	ctx := cmd.Context()

	manager, err := run.NewManager(configDir)
	if err != nil {
		return err
	}
	project, err := run.ResolveProject(configDir)
	if err != nil {
		return err
	}

	theirs, err := snapshotfile.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("loading incoming snapshot: %w", err)
	}
	if theirs.ProjectID != "" && theirs.ProjectID != project.ProjectID {
		return fmt.Errorf("snapshot belongs to project %s, local project is %s",
			theirs.ProjectID, project.ProjectID)
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

	var conflicts []store.Conflict
	_, err = st.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		merged, cs := store.Merge(snap, theirs)
		conflicts = cs
		fillTransaction(tx, merged)
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}

	fmt.Printf("\n  %s Merged %s\n", cliui.SuccessMark, cliui.DimStyle.Render(snapshotPath))

	if len(conflicts) == 0 {
		fmt.Printf("  %s\n\n", cliui.ValueStyle.Render("No conflicts."))
		return nil
	}

	fmt.Printf("  %s\n\n", cliui.WarnStyle.Render(strconv.Itoa(len(conflicts))+" conflicts kept for resolution:"))
	for _, c := range conflicts {
		fmt.Printf("  %s %s %s %s\n",
			cliui.FailMark,
			cliui.KeyStyle.Render(string(c.Kind)),
			cliui.ValueStyle.Render(c.ID),
			cliui.DimStyle.Render("(incoming copy: "+c.TheirsID+")"),
		)
	}
	fmt.Println()
	return nil
}

// fillTransaction upserts every entity of the merged snapshot. Merge only
// adds or updates, so no deletes are needed.
func fillTransaction(tx *store.Transaction, merged *knowledge.ProjectKnowledge) {
	for _, c := range merged.Concepts {
		tx.Concepts = append(tx.Concepts, c)
	}
	for _, e := range merged.Edges {
		tx.Edges = append(tx.Edges, e)
	}
	for _, in := range merged.Intents {
		tx.Intents = append(tx.Intents, in)
	}
	for _, a := range merged.Assumptions {
		tx.Assumptions = append(tx.Assumptions, a)
	}
	for _, t := range merged.Tradeoffs {
		tx.Tradeoffs = append(tx.Tradeoffs, t)
	}
	for _, f := range merged.Failures {
		tx.Failures = append(tx.Failures, f)
	}
	for _, at := range merged.Attempts {
		tx.Attempts = append(tx.Attempts, at)
	}
}
