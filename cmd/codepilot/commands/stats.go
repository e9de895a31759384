package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/amerfu/codepilot/internal/app"
)

const latencyQueryTimeout = 5 * time.Second

var errLatencyUnavailable = errors.New("shared latency tracking is disabled: set redis.url")

// NewStatsCommand creates the session statistics command
func NewStatsCommand() *cobra.Command {
	var reset, breakers, latency bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request statistics for this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			if latency {
				if reset {
					return clearLatency(cmd.Context(), a)
				}
				return showLatency(cmd.Context(), a)
			}

			if reset {
				a.Router.ResetStats()
				a.Router.ResetBreakers()
				fmt.Fprintln(stdout, "Statistics reset")
				return nil
			}

			snapshot := a.Router.GetStats()

			if breakers {
				states := a.Router.BreakerStates()
				rows := make([][]string, 0, len(states))
				for _, s := range states {
					rows = append(rows, []string{
						s.Name,
						s.State,
						strconv.Itoa(s.FailureCount),
						strconv.FormatInt(s.TotalRequests, 10),
						strconv.FormatInt(s.TotalFailures, 10),
					})
				}
				OutputTable([]string{"PROVIDER", "STATE", "CONSECUTIVE FAILURES", "REQUESTS", "FAILURES"}, rows)
				return nil
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"total_requests":      snapshot.TotalRequests,
					"successful_requests": snapshot.SuccessfulRequests,
					"failed_requests":     snapshot.FailedRequests,
					"success_rate":        snapshot.SuccessRate(),
					"total_tokens":        snapshot.TotalTokens,
					"total_cost":          snapshot.TotalCost,
					"average_latency_ms":  snapshot.AverageLatencyMs,
				})
				return nil
			}

			fmt.Fprintf(stdout, "Total Requests: %d\n", snapshot.TotalRequests)
			fmt.Fprintf(stdout, "Successful: %d\n", snapshot.SuccessfulRequests)
			fmt.Fprintf(stdout, "Failed: %d\n", snapshot.FailedRequests)
			fmt.Fprintf(stdout, "Success Rate: %.1f%%\n", snapshot.SuccessRate()*100)
			fmt.Fprintf(stdout, "Total Tokens: %d\n", snapshot.TotalTokens)
			fmt.Fprintf(stdout, "Total Cost: $%.4f\n", snapshot.TotalCost)
			fmt.Fprintf(stdout, "Average Latency: %.0fms\n", snapshot.AverageLatencyMs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Reset counters and close all circuit breakers")
	cmd.Flags().BoolVar(&breakers, "breakers", false, "Show circuit breaker states")
	cmd.Flags().BoolVar(&latency, "latency", false, "Show latency shared through Redis (with --reset, clear it)")

	return cmd
}

func showLatency(ctx context.Context, a *app.App) error {
	if a.Latency == nil {
		return errLatencyUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, latencyQueryTimeout)
	defer cancel()

	all, err := a.Latency.GetAllStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read shared latency: %w", err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if outputJSON {
		OutputJSON(all)
		return nil
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		s := all[id]
		score, err := a.Latency.GetHealthScore(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to score %s: %w", id, err)
		}
		rows = append(rows, []string{
			id,
			strconv.FormatInt(s.SampleCount, 10),
			formatMs(s.Average),
			formatMs(s.P50),
			formatMs(s.P95),
			formatMs(s.P99),
			strconv.FormatFloat(score, 'f', 0, 64),
		})
	}
	OutputTable([]string{"PROVIDER", "SAMPLES", "AVG", "P50", "P95", "P99", "HEALTH"}, rows)
	return nil
}

func clearLatency(ctx context.Context, a *app.App) error {
	if a.Latency == nil {
		return errLatencyUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, latencyQueryTimeout)
	defer cancel()

	for _, id := range a.Router.Catalog().IDs() {
		if err := a.Latency.ClearLatencies(ctx, id); err != nil {
			return fmt.Errorf("failed to clear latency for %s: %w", id, err)
		}
	}
	fmt.Fprintln(stdout, "Shared latency cleared")
	return nil
}

func formatMs(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
