package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TorbenWetter/agent-gate/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset agent-gate to a clean state",
	Long: `Reset agent-gate by removing the durable store (pending requests and the
audit log) and any leftover PID file.

On next start, agent-gate boots with an empty store — no pending approvals
survive, and the audit log starts over. The policy and runtime config
files are never touched.

Optional flags:
  --force   Skip confirmation prompt

Examples:
  # Reset store and PID file (interactive confirmation)
  agent-gate reset

  # Reset without prompting
  agent-gate reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	type target struct {
		path string
		desc string
	}
	var targets []target

	cfg, err := loadConfigForReset()
	storePath := "./agent-gate.db"
	if err == nil && cfg.Store.Path != "" {
		storePath = cfg.Store.Path
	}
	targets = append(targets, target{storePath, "durable store"})
	targets = append(targets, target{pidFilePath(), "PID file"})

	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var errors int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errors++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errors > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errors)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. agent-gate will start fresh on next launch.")
	return nil
}

// loadConfigForReset attempts to load config to discover the store path.
// Returns a zero config on error (non-fatal for reset).
func loadConfigForReset() (*config.RuntimeConfig, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return &config.RuntimeConfig{}, err
	}
	cfg.SetDefaults()
	return cfg, nil
}
