// Package cmd provides the CLI commands for Agent Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TorbenWetter/agent-gate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agent-gate",
	Short: "Agent Gate - execution gateway for AI agents",
	Long: `Agent Gate mediates between untrusted AI agents and privileged downstream
services. Every tool call an agent issues is checked against a declarative
allow/deny/ask policy; "ask" verdicts suspend the call behind a human
approval sent over an out-of-band messenger before anything executes.

Quick start:
  1. Create a config file: agent-gate.yaml
  2. Create a policy file referenced by policy_file in that config
  3. Run: agent-gate serve

Configuration:
  Config is loaded from agent-gate.yaml in the current directory,
  $HOME/.agent-gate/, or /etc/agent-gate/.

  ${VAR} references in the config file are replaced with the value of
  the environment variable VAR before parsing. Environment variables do
  not override config keys directly.

Commands:
  serve       Run the execution gateway
  stop        Stop the running server
  reset       Remove the durable store and PID file
  stats       Summarize the audit log by decision
  hash-key    Generate an argon2id hash for the agent bearer token
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agent-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
