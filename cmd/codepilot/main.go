package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/cmd/codepilot/commands"
	"github.com/amerfu/codepilot/internal/app"
	"github.com/amerfu/codepilot/internal/config"
	"github.com/amerfu/codepilot/internal/logger"
)

var (
	cfgFile    string
	outputJSON bool
	verbose    bool

	application *app.App
)

func main() {
	err := newRootCommand().Execute()
	if application != nil {
		_ = application.Close()
	}
	logger.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codepilot",
		Short: "codepilot AI coding assistant",
		Long: `Chat with LLM backends from the terminal. Requests go to the selected
backend and fall back to other configured backends on transient failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd.Context())
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./codepilot.yaml and $HOME/.codepilot)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	ctx := context.Background()
	rootCmd.AddCommand(commands.NewChatCommand(ctx))
	rootCmd.AddCommand(commands.NewProvidersCommand())
	rootCmd.AddCommand(commands.NewProviderCommand())
	rootCmd.AddCommand(commands.NewModelCommand())
	rootCmd.AddCommand(commands.NewKeyCommand())
	rootCmd.AddCommand(commands.NewStatsCommand())
	rootCmd.AddCommand(commands.NewServeCommand(ctx))
	rootCmd.AddCommand(commands.NewConfigCommand())

	return rootCmd
}

func initConfig(ctx context.Context) error {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		logger.SetLogLevel("debug")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	application, err = app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Debug("Configuration loaded",
		zap.String("preferences", application.Preferences.Path()),
		zap.String("strategy", cfg.Router.Strategy))

	commands.SetApp(application)
	commands.SetOutputJSON(outputJSON)
	commands.SetVerbose(verbose)

	return nil
}
