// Package statuscmder provides the status command for displaying the current
// knowledge state of the local .keel directory.
package statuscmder

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/logger"
	"github.com/papercomputeco/keel/pkg/run"
)

const statusLongDesc string = `Show the current keel project state.

Reads the local .keel/ directory (or ~/.keel/) to display the project
identity, whether a watcher is running, and a summary of the stored
knowledge: concepts, assumptions, open failures, and recorded attempts.

Examples:
  keel status`

const statusShortDesc string = "Show project knowledge at a glance"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runStatus(cmd, configDir)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command, configDir string) error {
	manager, err := run.NewManager(configDir)
	if err != nil {
		return err
	}

	project, err := run.ResolveProject(configDir)
	if err != nil {
		return fmt.Errorf("loading project state: %w", err)
	}

	fmt.Printf("\n  %s  %s\n", cliui.KeyStyle.Render("Project:"), cliui.ValueStyle.Render(project.ProjectID))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Root:   "), cliui.DimStyle.Render(project.Root))

	watchState, err := manager.LoadState()
	if err != nil {
		return err
	}
	if watchState != nil && processAlive(watchState.PID) {
		fmt.Printf("  %s  %s %s\n",
			cliui.KeyStyle.Render("Watcher:"),
			cliui.SuccessMark,
			cliui.ValueStyle.Render("running (pid "+strconv.Itoa(watchState.PID)+")"),
		)
	} else {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Watcher:"), cliui.DimStyle.Render("not running"))
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
	st, err := run.OpenStore(cmd.Context(), project.ProjectID, cfg, manager.Dir, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	snap := st.Snapshot()

	openFailures := 0
	for _, f := range snap.Failures {
		if !f.Resolved {
			openFailures++
		}
	}
	suspected := 0
	for _, a := range snap.Assumptions {
		if a.Active() && a.Suspected {
			suspected++
		}
	}

	fmt.Printf("\n  %s  %s\n", cliui.KeyStyle.Render("Snapshot version: "), cliui.ValueStyle.Render(strconv.FormatUint(st.Version(), 10)))
	if st.Degraded() {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Storage:          "), cliui.WarnStyle.Render("degraded (memory only)"))
	} else {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Storage:          "), cliui.ValueStyle.Render(cfg.Storage.Driver))
	}
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Concepts:         "), cliui.ValueStyle.Render(strconv.Itoa(len(snap.Concepts))))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Assumptions:      "), cliui.ValueStyle.Render(strconv.Itoa(len(snap.Assumptions))))
	fmt.Printf("  %s  %s", cliui.KeyStyle.Render("Open failures:    "), cliui.ValueStyle.Render(strconv.Itoa(openFailures)))
	if suspected > 0 {
		fmt.Printf(" %s", cliui.WarnStyle.Render(fmt.Sprintf("(%d suspected assumptions)", suspected)))
	}
	fmt.Println()
	fmt.Printf("  %s  %s\n\n", cliui.KeyStyle.Render("Attempts:         "), cliui.ValueStyle.Render(strconv.Itoa(len(snap.Attempts))))

	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
