package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewProviderCommand creates the default backend command
func NewProviderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Show or change the default backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			current := a.Router.GetCurrentProvider()
			if outputJSON {
				OutputJSON(map[string]interface{}{
					"provider":   current,
					"model":      a.Preferences.Get().Model,
					"configured": a.Router.IsProviderConfigured(current),
				})
				return nil
			}

			fmt.Fprintf(stdout, "Provider: %s\n", current)
			if model := a.Preferences.Get().Model; model != "" {
				fmt.Fprintf(stdout, "Model: %s\n", model)
			}
			fmt.Fprintf(stdout, "Configured: %s\n", yesNo(a.Router.IsProviderConfigured(current)))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider>",
		Short: "Set the default backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			id := strings.ToLower(strings.TrimSpace(args[0]))
			if err := a.Router.SetProvider(id); err != nil {
				return err
			}

			fmt.Fprintf(stdout, "Default provider set to %s\n", id)
			if !a.Router.IsProviderConfigured(id) {
				spec, _ := a.Router.Catalog().Lookup(id)
				fmt.Fprintf(stderr, "Warning: %s is not configured; set %s or run `codepilot key set %s <key>`\n",
					id, spec.EnvVar, id)
			}
			return nil
		},
	})

	return cmd
}

// NewModelCommand creates the default model command
func NewModelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the default model",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <model>",
		Short: `Set the default model ("backend/model" also switches backend)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			if err := a.Router.SetModel(args[0]); err != nil {
				return err
			}

			prefs := a.Preferences.Get()
			fmt.Fprintf(stdout, "Default model set to %s/%s\n", prefs.Provider, prefs.Model)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "suggest <task>",
		Short: "Suggest a model of the current backend for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			task := strings.Join(args, " ")
			model := a.Router.SelectModelForTask(task)
			if outputJSON {
				OutputJSON(map[string]string{"provider": a.Router.GetCurrentProvider(), "model": model})
				return nil
			}
			fmt.Fprintln(stdout, model)
			return nil
		},
	})

	return cmd
}

// NewKeyCommand creates the credential command
func NewKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage backend API keys",
		Long:  "Store or remove API keys. A stored key takes precedence over the environment.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <key>",
		Short: "Store an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			key := strings.TrimSpace(args[1])
			if key == "" {
				return fmt.Errorf("key must not be empty; use `codepilot key clear %s` to remove it", args[0])
			}
			if err := a.Router.SetAPIKey(args[0], key); err != nil {
				return err
			}

			fmt.Fprintf(stdout, "API key stored for %s (%s)\n", args[0], maskKey(key))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			if err := a.Router.SetAPIKey(args[0], ""); err != nil {
				return err
			}

			fmt.Fprintf(stdout, "API key removed for %s\n", args[0])
			return nil
		},
	})

	return cmd
}

// maskKey keeps the first and last four characters
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
