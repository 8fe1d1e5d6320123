package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/cli/render"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent templates",
}

var (
	agentName         string
	agentDescription  string
	agentTier         string
	agentSystemPrompt string
)

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or update an agent template",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, svc, err := openAgentService()
		if err != nil {
			return err
		}
		defer db.Close()

		tmpl, err := svc.CreateOrUpdate(cmd.Context(), agentservice.TemplateSpec{
			Name:         agentName,
			Description:  agentDescription,
			Tier:         swarmmodel.Tier(agentTier),
			SystemPrompt: agentSystemPrompt,
		})
		if err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("template %s version %d", tmpl.Name, tmpl.Version))
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, svc, err := openAgentService()
		if err != nil {
			return err
		}
		defer db.Close()

		templates, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, t := range templates {
			fmt.Fprintf(w, "%s  v%d  %-8s  %s\n", t.Name, t.Version, t.Status, t.Tier)
		}
		return nil
	},
}

var agentDisableCmd = &cobra.Command{
	Use:   "disable <name> <version>",
	Short: "Disable an agent template version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, svc, err := openAgentService()
		if err != nil {
			return err
		}
		defer db.Close()

		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := svc.Disable(cmd.Context(), args[0], version); err != nil {
			return err
		}
		render.OK(cmd.OutOrStdout(), fmt.Sprintf("disabled %s v%d", args[0], version))
		return nil
	},
}

func openAgentService() (*sqlite.DB, *agentservice.Service, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	templates := sqlite.NewAgentTemplateRepository(db)
	goals := sqlite.NewGoalRepository(db)
	bus := eventbus.New(sqlite.NewEventStore(db))
	return db, agentservice.New(templates, goals, bus, nil), nil
}

func init() {
	agentCreateCmd.Flags().StringVar(&agentName, "name", "", "template name (required)")
	agentCreateCmd.Flags().StringVar(&agentDescription, "description", "", "template description")
	agentCreateCmd.Flags().StringVar(&agentTier, "tier", "worker", "agent tier")
	agentCreateCmd.Flags().StringVar(&agentSystemPrompt, "system-prompt", "", "system prompt body (required)")
	_ = agentCreateCmd.MarkFlagRequired("name")
	_ = agentCreateCmd.MarkFlagRequired("system-prompt")

	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentDisableCmd)
}
