package cmd

import (
	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/internal/config"
	"github.com/abathur/swarm/internal/runsignal"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running daemon's scheduler",
	Long: `Writes a pause signal file into the daemon's data directory. swarmd
stops claiming new tasks but lets in-flight ones finish. Resume with
"swarmctl resume".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := daemonDataDir()
		if err != nil {
			return err
		}
		if err := runsignal.SendPause(dir); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), "pause signal sent")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := daemonDataDir()
		if err != nil {
			return err
		}
		if err := runsignal.Resume(dir); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), "resumed")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running daemon to drain and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := daemonDataDir()
		if err != nil {
			return err
		}
		if err := runsignal.SendStop(dir); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), "stop signal sent")
		return nil
	},
}

// daemonDataDir resolves the data directory the daemon watches for signal
// files, from the same config search path swarmd uses.
func daemonDataDir() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.GlobalDataDir(), nil
}
