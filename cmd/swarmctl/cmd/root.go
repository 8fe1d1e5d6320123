package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/repo/sqlite"
)

var (
	projectRoot string
	dbPath      string
)

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "Operator CLI for the swarm orchestrator",
	Long: `swarmctl inspects and drives a running swarm orchestrator's state:
submit and track tasks, manage agent templates, review goals, and manage
trigger rules, all read from (and, for mutating commands, written to) the
same SQLite store swarmd uses.

Available commands:
  task     Submit, list, and inspect tasks
  agent    Manage agent templates
  goal     List and inspect goals
  trigger  Manage trigger rules
  watch    Tail the event log
  pause    Pause the running daemon's scheduler
  resume   Resume a paused daemon
  stop     Ask the running daemon to drain and exit

Use "swarmctl [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", "", "project root whose .swarm/swarm.db to use (defaults to the global data dir)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "explicit path to a swarm.db file, overriding --project")

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(goalCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
}

// openDB resolves --db/--project into an open store, preferring an
// explicit path, then the project-local store, then the global one.
func openDB() (*sqlite.DB, error) {
	switch {
	case dbPath != "":
		return sqlite.Open(dbPath)
	case projectRoot != "":
		return sqlite.OpenProject(projectRoot)
	default:
		cwd, err := os.Getwd()
		if err == nil {
			if _, statErr := os.Stat(sqlite.ProjectDBPath(cwd)); statErr == nil {
				return sqlite.OpenProject(cwd)
			}
		}
		return sqlite.OpenGlobal()
	}
}
