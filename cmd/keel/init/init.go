// Package initcmder provides the init command for initializing a local .keel
// directory in the current working directory.
package initcmder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/dotdir"
	"github.com/papercomputeco/keel/pkg/git"
)

const (
	dirName = ".keel"
)

const initLongDesc string = `Initialize a new .keel/ directory in the current working directory.

Creates a local .keel/ directory that takes precedence over the default
~/.keel/ directory for project state, knowledge storage, configuration,
and other keel operations. Assigns the project a stable identifier and
writes a default config.toml.

Presets pick an extractor out of the box:
  anthropic   Use the Anthropic API for knowledge extraction
  openai      Use the OpenAI API for knowledge extraction
  offline     Structural extraction only, no network calls (default)

Examples:
  keel init
  keel init --preset anthropic`

const initShortDesc string = "Initialize a local .keel/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			preset, _ := cmd.Flags().GetString("preset")
			return runInit(preset)
		},
	}

	cmd.Flags().String("preset", "offline", "Extractor preset: "+strings.Join(config.ValidPresetNames(), ", "))

	return cmd
}

func runInit(preset string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	alreadyExists := err == nil && info.IsDir()

	if !alreadyExists {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .keel directory: %w", err)
		}
	}

	ddm := dotdir.NewManager()

	state, err := ddm.LoadProjectState(dir)
	if err != nil {
		return err
	}
	if state == nil {
		root := git.RepoRoot(cwd)
		state = &dotdir.ProjectState{
			ProjectID: uuid.NewString(),
			Name:      filepath.Base(root),
			Root:      root,
			CreatedAt: time.Now().UTC(),
		}
		if err := ddm.SaveProjectState(state, dir); err != nil {
			return err
		}
	}

	configPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("\n  %s Already initialized: %s\n", cliui.SuccessMark, cliui.DimStyle.Render(dir))
		fmt.Printf("  %s %s\n\n", cliui.KeyStyle.Render("Project:"), cliui.ValueStyle.Render(state.ProjectID))
		return nil
	}

	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("preparing config: %w", err)
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("\n  %s Initialized %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(dir))
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Name:   "), cliui.ValueStyle.Render(state.Name))
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Project:"), cliui.ValueStyle.Render(state.ProjectID))
	fmt.Printf("  %s %s\n\n", cliui.KeyStyle.Render("Preset: "), cliui.ValueStyle.Render(strings.ToLower(preset)))
	return nil
}
