package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amerfu/codepilot/internal/app"
)

var (
	application *app.App
	outputJSON  bool
	verbose     bool

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var errNotInitialized = errors.New("codepilot is not initialized")

// SetApp sets the wired router and its dependencies
func SetApp(a *app.App) {
	application = a
}

// SetOutputJSON sets the output format preference
func SetOutputJSON(json bool) {
	outputJSON = json
}

// SetVerbose sets verbose output
func SetVerbose(v bool) {
	verbose = v
}

func requireApp() (*app.App, error) {
	if application == nil || application.Router == nil {
		return nil, errNotInitialized
	}
	return application, nil
}

// OutputTable outputs data in table format
func OutputTable(headers []string, rows [][]string) {
	if outputJSON {
		// Convert table to JSON structure
		jsonRows := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			jsonRow := make(map[string]string)
			for i, cell := range row {
				if i < len(headers) {
					jsonRow[headers[i]] = cell
				}
			}
			jsonRows = append(jsonRows, jsonRow)
		}
		OutputJSON(jsonRows)
		return
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)

	writeRow(w, headers)
	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = "---"
	}
	writeRow(w, separator)

	for _, row := range rows {
		writeRow(w, row)
	}

	_ = w.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, cell)
	}
	_, _ = fmt.Fprintln(w)
}

// OutputJSON outputs data in JSON format
func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(stderr, "Error encoding JSON: %v\n", err)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// NewConfigCommand creates the config command for inspecting effective settings
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect CLI configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}
			cfg := a.Config

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"current_provider": a.Router.GetCurrentProvider(),
					"preferences":      a.Preferences.Path(),
					"router":           cfg.Router,
					"circuit_breaker":  cfg.CircuitBreaker,
					"redis_enabled":    cfg.Redis.Enabled(),
					"shared_latency":   a.Latency != nil,
					"server":           cfg.Server,
					"log_level":        cfg.Logging.Level,
					"verbose":          verbose,
				})
				return nil
			}

			fmt.Fprintf(stdout, "Current Provider: %s\n", a.Router.GetCurrentProvider())
			fmt.Fprintf(stdout, "Preferences: %s\n", a.Preferences.Path())
			fmt.Fprintf(stdout, "Strategy: %s\n", a.Router.Strategy())
			fmt.Fprintf(stdout, "Max Retries: %d\n", cfg.Router.MaxRetries)
			fmt.Fprintf(stdout, "Attempt Timeout: %s\n", cfg.Router.AttemptTimeout)
			fmt.Fprintf(stdout, "Breaker: %d failures / %d successes / %s reset\n",
				cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.SuccessThreshold, cfg.CircuitBreaker.ResetTimeout)
			fmt.Fprintf(stdout, "Shared Latency: %v\n", a.Latency != nil)
			fmt.Fprintf(stdout, "Gateway Address: %s\n", cfg.Server.Addr)
			fmt.Fprintf(stdout, "Verbose: %v\n", verbose)

			return nil
		},
	})

	return cmd
}
