// Command swarmctl is the operator CLI for the swarm orchestrator: task,
// agent, goal, and trigger management subcommands plus a "watch" command
// that tails the event log, all operating directly on the same SQLite
// store swarmd drives.
package main

import (
	"os"

	"github.com/abathur/swarm/cmd/swarmctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
