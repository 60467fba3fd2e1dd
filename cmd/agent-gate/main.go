// Command agent-gate runs the execution gateway CLI.
package main

import "github.com/TorbenWetter/agent-gate/cmd/agent-gate/cmd"

func main() {
	cmd.Execute()
}
