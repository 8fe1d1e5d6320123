package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit, list, and inspect tasks",
}

var (
	taskTitle       string
	taskDescription string
	taskPriority    string
	taskAgentType   string
	taskStatus      string
)

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new task",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ts, err := openTaskService()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := ts.Submit(cmd.Context(), taskservice.Spec{
			Title:       taskTitle,
			Description: taskDescription,
			Priority:    swarmmodel.Priority(taskPriority),
			AgentType:   taskAgentType,
			Source:      swarmmodel.TaskSource{Kind: swarmmodel.SourceHuman},
		})
		if err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("submitted task %s (%s)", task.ID, task.Status))
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ts, err := openTaskService()
		if err != nil {
			return err
		}
		defer db.Close()

		tasks, err := ts.List(cmd.Context(), repo.Filter{Status: taskStatus})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, t := range tasks {
			fmt.Fprintf(w, "%s  %-8s  %s\n", t.ID, render.TaskStatus(t.Status), t.Title)
		}
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one task's detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := swarmmodel.ParseID(args[0])
		if err != nil {
			return err
		}
		db, ts, err := openTaskService()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := ts.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ID:          %s\n", task.ID)
		fmt.Fprintf(w, "Title:       %s\n", task.Title)
		fmt.Fprintf(w, "Status:      %s\n", render.TaskStatus(task.Status))
		fmt.Fprintf(w, "Priority:    %s\n", task.Priority)
		fmt.Fprintf(w, "AgentType:   %s\n", task.AgentType)
		fmt.Fprintf(w, "Branch:      %s\n", task.Branch)
		fmt.Fprintf(w, "Feature:     %s\n", task.FeatureBranch)
		fmt.Fprintf(w, "RetryCount:  %d\n", task.RetryCount)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task and its dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := swarmmodel.ParseID(args[0])
		if err != nil {
			return err
		}
		db, ts, err := openTaskService()
		if err != nil {
			return err
		}
		defer db.Close()

		cancelled, err := ts.Cancel(cmd.Context(), id)
		if err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("cancelled %d task(s)", len(cancelled)))
		return nil
	},
}

func openTaskService() (*sqlite.DB, *taskservice.Service, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	tasks := sqlite.NewTaskRepository(db)
	bus := eventbus.New(sqlite.NewEventStore(db))
	return db, taskservice.New(tasks, bus, taskservice.DefaultConfig()), nil
}

func init() {
	taskSubmitCmd.Flags().StringVar(&taskTitle, "title", "", "task title")
	taskSubmitCmd.Flags().StringVar(&taskDescription, "description", "", "task description (required)")
	taskSubmitCmd.Flags().StringVar(&taskPriority, "priority", "normal", "priority: low|normal|high|critical")
	taskSubmitCmd.Flags().StringVar(&taskAgentType, "agent-type", "", "agent type to dispatch to")
	_ = taskSubmitCmd.MarkFlagRequired("description")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "filter by status")

	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskGetCmd, taskCancelCmd)
}
