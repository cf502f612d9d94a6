// Package reportcmder provides the report command for inspecting open
// failures and the knowledge attached to them.
package reportcmder

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/engine"
	"github.com/papercomputeco/keel/pkg/events/nop"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/logger"
	"github.com/papercomputeco/keel/pkg/run"
	"github.com/papercomputeco/keel/pkg/utils"
)

const reportLongDesc string = `Show open failures and suspected assumptions.

Without arguments, lists every open failure with its class, state, and
recurrence count. With a failure id, shows the full picture for that
failure: the explanation, the violated assumptions ranked by score, and
every recorded fix attempt with its outcome.

Examples:
  keel report
  keel report 4f1c9a7e-...`

const reportShortDesc string = "Show open failures and suspected assumptions"

func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [failure-id]",
		Short: reportShortDesc,
		Long:  reportLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			failureID := ""
			if len(args) == 1 {
				failureID = args[0]
			}
			return runReport(cmd, configDir, failureID)
		},
	}

	return cmd
}

func runReport(cmd *cobra.Command, configDir, failureID string) error {
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
	eng, err := run.BuildEngine(ctx, project.ProjectID, cfg, manager.Dir, log, nop.NewPublisher())
	if err != nil {
		return err
	}
	defer eng.Close()

	if failureID != "" {
		return reportOne(eng, failureID)
	}
	return reportAll(eng)
}

func reportAll(eng *engine.Engine) error {
	failures := eng.GetFailureReport()
	if len(failures) == 0 {
		fmt.Printf("\n  %s No open failures.\n\n", cliui.SuccessMark)
		return nil
	}

	fmt.Printf("\n  %s\n\n", cliui.TitleStyle.Render(fmt.Sprintf("%d open failures", len(failures))))
	for _, f := range failures {
		fmt.Printf("  %s %s  %s %s\n",
			cliui.FailMark,
			cliui.ValueStyle.Render(f.ID),
			cliui.KeyStyle.Render("["+string(f.Class)+"/"+string(f.State)+"]"),
			cliui.DimStyle.Render(utils.Truncate(f.Message, 60)),
		)
		if f.RecurrenceCount > 1 {
			fmt.Printf("      %s\n", cliui.WarnStyle.Render("recurred "+strconv.Itoa(f.RecurrenceCount)+" times"))
		}
	}
	fmt.Println()
	return nil
}

func reportOne(eng *engine.Engine, failureID string) error {
	snap := eng.Store().Snapshot()

	f, ok := snap.Failures[failureID]
	if !ok {
		return knowledge.NotFoundError{Kind: knowledge.KindFailureRecord, ID: failureID}
	}

	fmt.Printf("\n  %s %s\n", cliui.TitleStyle.Render("Failure"), cliui.ValueStyle.Render(f.ID))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Class:  "), cliui.ValueStyle.Render(string(f.Class)))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("State:  "), cliui.ValueStyle.Render(string(f.State)))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Message:"), cliui.ValueStyle.Render(f.Message))
	for _, loc := range f.Locations {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("At:     "), cliui.DimStyle.Render(loc.Key()))
	}
	if f.RecurrenceCount > 1 {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Seen:   "), cliui.WarnStyle.Render(strconv.Itoa(f.RecurrenceCount)+" times"))
	}

	if f.Explanation != nil {
		fmt.Printf("\n  %s\n", cliui.TitleStyle.Render("Explanation"))
		fmt.Printf("  %s\n", cliui.ValueStyle.Render(f.Explanation.Summary))
		if f.Explanation.ViolatedBecause != "" {
			fmt.Printf("  %s\n", cliui.DimStyle.Render(f.Explanation.ViolatedBecause))
		}
		for _, c := range f.Explanation.Constraints {
			fmt.Printf("    %s %s\n", cliui.DimStyle.Render("-"), cliui.ValueStyle.Render(c))
		}
		if f.PartialExplanation {
			fmt.Printf("  %s\n", cliui.WarnStyle.Render("explanation is partial: built while provider extraction was unavailable"))
		}
	}

	if len(f.ViolatedAssumptions) > 0 {
		fmt.Printf("\n  %s\n", cliui.TitleStyle.Render("Violated assumptions"))
		for _, ra := range f.ViolatedAssumptions {
			desc := ""
			if a, ok := snap.Assumptions[ra.AssumptionID]; ok {
				desc = a.Description
			}
			fmt.Printf("  %s %s  %s\n",
				cliui.KeyStyle.Render(fmt.Sprintf("%.2f", ra.Score)),
				cliui.ValueStyle.Render(utils.Truncate(desc, 56)),
				cliui.DimStyle.Render(ra.Why),
			)
		}
	}

	attempts := attemptsFor(snap, f.ID)
	if len(attempts) > 0 {
		fmt.Printf("\n  %s\n", cliui.TitleStyle.Render("Attempts"))
		for _, at := range attempts {
			mark := cliui.FailMark
			if at.Outcome == knowledge.OutcomeSucceeded {
				mark = cliui.SuccessMark
			}
			fmt.Printf("  %s %s  %s\n",
				mark,
				cliui.ValueStyle.Render(at.ID),
				cliui.DimStyle.Render(string(at.Outcome)),
			)
		}
	}

	fmt.Println()
	return nil
}

func attemptsFor(snap *knowledge.ProjectKnowledge, failureID string) []*knowledge.RetryAttempt {
	var out []*knowledge.RetryAttempt
	for _, at := range snap.Attempts {
		if at.FailureID == failureID {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
