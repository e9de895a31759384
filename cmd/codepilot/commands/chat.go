package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/logger"
	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

var stdin io.Reader = os.Stdin

// NewChatCommand creates the one-shot chat command
func NewChatCommand(ctx context.Context) *cobra.Command {
	var model, system string
	var stream bool
	var temperature float32
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt to the current backend",
		Long: `Send a prompt to the current backend. The prompt is read from stdin when no
argument is given. --model accepts "backend/model" to target another backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			prompt, err := readPrompt(args)
			if err != nil {
				return err
			}

			var messages []providers.Message
			if system != "" {
				messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: system})
			}
			messages = append(messages, providers.Message{Role: providers.RoleUser, Content: prompt})

			opts := providers.ChatOptions{Model: model}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}
			if maxTokens > 0 {
				opts.MaxTokens = &maxTokens
			}

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = ctx
			}

			log := logger.NewRequestLogger(logger.NewRequestID())
			log.Debug("Chat request",
				zap.String("provider", a.Router.GetCurrentProvider()),
				zap.String("model", model),
				zap.Bool("stream", stream))

			var resp *providers.Response
			if stream {
				resp, err = a.Router.StreamChat(runCtx, messages, func(chunk providers.StreamChunk) error {
					if outputJSON {
						return nil
					}
					_, werr := fmt.Fprint(stdout, chunk.Delta)
					return werr
				}, opts)
			} else {
				resp, err = a.Router.Chat(runCtx, messages, opts)
			}
			if err != nil {
				log.Debug("Chat request failed", zap.Error(err))
				return err
			}

			log.Debug("Chat request completed",
				zap.String("provider", resp.Provider),
				zap.String("model", resp.Model),
				zap.Duration("latency", resp.Latency))

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"content":    resp.Content,
					"provider":   resp.Provider,
					"model":      resp.Model,
					"usage":      resp.Usage,
					"latency_ms": resp.LatencyMs(),
				})
				return nil
			}

			if stream {
				fmt.Fprintln(stdout)
			} else {
				fmt.Fprintln(stdout, resp.Content)
			}
			if verbose {
				fmt.Fprintf(stderr, "[%s/%s] %d tokens, %.0fms\n",
					resp.Provider, resp.Model, resp.Usage.TotalTokens, resp.LatencyMs())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id, or backend/model")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Stream the reply as it is generated")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum output tokens (0 for backend default)")

	return cmd
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	return prompt, nil
}
