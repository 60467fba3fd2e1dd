package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/sqlite"
	"github.com/TorbenWetter/agent-gate/internal/domain/audit"
)

var statsToolName string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit log by decision",
	Long: `Print a count of allow/deny/ask decisions recorded in the durable audit
log, optionally narrowed to a single tool name.

Examples:
  agent-gate stats
  agent-gate stats --tool ha_call_service`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsToolName, "tool", "", "Limit to a single tool name")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForReset()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer db.Close()

	auditStore := sqlite.NewAuditStore(db)
	stats, err := auditStore.QueryStats(context.Background(), audit.Filter{ToolName: statsToolName})
	if err != nil {
		return fmt.Errorf("query audit stats: %w", err)
	}

	fmt.Fprintf(os.Stdout, "total:  %d\nallow:  %d\ndeny:   %d\nask:    %d\n", stats.Total, stats.Allow, stats.Deny, stats.Ask)
	return nil
}
