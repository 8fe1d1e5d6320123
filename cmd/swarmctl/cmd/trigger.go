package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Manage trigger rules",
}

var (
	triggerName      string
	triggerCondition string
)

var triggerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trigger rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		rules, err := sqlite.NewTriggerRepository(db).List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range rules {
			enabled := "disabled"
			if r.Enabled {
				enabled = "enabled"
			}
			fmt.Fprintf(w, "%-20s  %-8s  fired=%d  %s\n", r.Name, enabled, r.FireCount, r.Description)
		}
		return nil
	},
}

var triggerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a trigger rule that submits a task when its condition fires",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		rule := &swarmmodel.TriggerRule{
			ID:        swarmmodel.NewID(),
			Name:      triggerName,
			Enabled:   true,
			Condition: triggerCondition,
			Action:    swarmmodel.TriggerAction{Kind: swarmmodel.ActionSubmitTask},
		}
		if err := sqlite.NewTriggerRepository(db).Create(cmd.Context(), rule); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("created trigger %s", rule.Name))
		return nil
	},
}

func init() {
	triggerCreateCmd.Flags().StringVar(&triggerName, "name", "", "trigger rule name (required)")
	triggerCreateCmd.Flags().StringVar(&triggerCondition, "condition", "", "condition expression re-checked before firing")
	_ = triggerCreateCmd.MarkFlagRequired("name")

	triggerCmd.AddCommand(triggerListCmd, triggerCreateCmd)
}
