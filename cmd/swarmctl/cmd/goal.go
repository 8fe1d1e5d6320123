package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "List and inspect goals",
}

var (
	goalName        string
	goalDescription string
	goalPriority    string
)

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		goals, err := sqlite.NewGoalRepository(db).List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, g := range goals {
			fmt.Fprintf(w, "%s  %-8s  %-8s  %s\n", g.ID, g.Status, g.Priority, g.Name)
		}
		return nil
	},
}

var goalCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		goal := &swarmmodel.Goal{
			ID:          swarmmodel.NewID(),
			Name:        goalName,
			Description: goalDescription,
			Priority:    swarmmodel.Priority(goalPriority),
			Status:      swarmmodel.GoalActive,
		}
		if err := sqlite.NewGoalRepository(db).Create(cmd.Context(), goal); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("created goal %s", goal.ID))
		return nil
	},
}

func init() {
	goalCreateCmd.Flags().StringVar(&goalName, "name", "", "goal name (required)")
	goalCreateCmd.Flags().StringVar(&goalDescription, "description", "", "goal description")
	goalCreateCmd.Flags().StringVar(&goalPriority, "priority", "normal", "priority: low|normal|high|critical")
	_ = goalCreateCmd.MarkFlagRequired("name")

	goalCmd.AddCommand(goalListCmd, goalCreateCmd)
}
