package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/amerfu/codepilot/internal/services/llm/router"
)

// NewProvidersCommand creates the backend listing command
func NewProvidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List LLM backends",
		Long:  "List registered backends with their configuration and availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}
			outputProviders(a.Router.ListProviders())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "local",
		Short: "List backends that need no credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}
			outputProviders(a.Router.GetLocalProviders())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "configured",
		Short: "List backends ready to serve requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}
			outputProviders(a.Router.GetConfiguredProviders())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "free",
		Short: "List free-tier models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			models := a.Router.GetFreeTierModels()
			if outputJSON {
				OutputJSON(models)
				return nil
			}

			rows := make([][]string, 0, len(models))
			for _, m := range models {
				rows = append(rows, []string{m.Provider, m.ID, string(m.Tier), strconv.Itoa(m.ContextWindow)})
			}
			OutputTable([]string{"PROVIDER", "MODEL", "TIER", "CONTEXT"}, rows)
			return nil
		},
	})

	return cmd
}

func outputProviders(infos []router.ProviderInfo) {
	if outputJSON {
		if infos == nil {
			infos = []router.ProviderInfo{}
		}
		OutputJSON(infos)
		return
	}

	if len(infos) == 0 {
		fmt.Fprintln(stdout, "No providers found")
		return
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		id := info.ID
		if info.Current {
			id += " *"
		}
		rows = append(rows, []string{
			id,
			info.Name,
			yesNo(info.Configured),
			yesNo(info.Available),
			yesNo(info.Local),
			yesNo(info.FreeTier),
			info.DefaultModel,
			info.BreakerState,
		})
	}
	OutputTable([]string{"ID", "NAME", "CONFIGURED", "AVAILABLE", "LOCAL", "FREE", "DEFAULT MODEL", "BREAKER"}, rows)
}
