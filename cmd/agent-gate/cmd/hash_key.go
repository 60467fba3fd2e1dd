package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TorbenWetter/agent-gate/internal/config"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [bearer-token]",
	Short: "Generate an argon2id hash for the agent bearer token",
	Long: `Generate an argon2id hash of the agent bearer token, for operators who
want to keep a verifiable hash in auth.bearer_token_hash without storing the
plaintext anywhere but the secret store the wire-level config reads from.

The wire-level auth check always compares the plaintext bearer token with a
constant-time comparison; the hash produced here is only a verification aid.

Example:
  agent-gate hash-key "my-bearer-token"

Security note: the token will appear in shell history.
Consider clearing history after use or using an environment variable:
  agent-gate hash-key "$AGENT_GATE_BEARER_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := config.HashBearerToken(args[0])
		if err != nil {
			return fmt.Errorf("hash bearer token: %w", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
