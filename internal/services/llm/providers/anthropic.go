package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider speaks the Anthropic Messages API
type AnthropicProvider struct {
	*BaseProvider
}

func NewAnthropicProvider(spec Spec, apiKey string) (*AnthropicProvider, error) {
	if spec.BaseURL == "" {
		spec.BaseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider(spec, apiKey),
	}, nil
}

type anthropicRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float32  `json:"temperature,omitempty"`
	TopP          *float32  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Message *anthropicResponse `json:"message"`
	Delta   struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAnthropicError(raw []byte) string {
	var errResp anthropicErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		return ""
	}
	return errResp.Error.Message
}

// buildRequest moves system messages into the top-level system field
func (p *AnthropicProvider) buildRequest(messages []Message, opts ChatOptions, stream bool) anthropicRequest {
	var system []string
	conversation := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		conversation = append(conversation, m)
	}

	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		maxTokens = *opts.MaxTokens
	}

	return anthropicRequest{
		Model:         p.resolveModel(opts),
		System:        strings.Join(system, "\n\n"),
		Messages:      conversation,
		MaxTokens:     maxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.Stop,
		Stream:        stream,
	}
}

func (p *AnthropicProvider) requestHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	if !p.IsConfigured() {
		return nil, p.notConfigured()
	}

	start := time.Now()
	request := p.buildRequest(messages, opts, false)

	resp, err := p.postJSON(ctx, p.baseURL+"/v1/messages", request, p.requestHeaders(), parseAnthropicError)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, ClassifyTransportError(ctx, p.id, err)
	}

	var content strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	model := decoded.Model
	if model == "" {
		model = request.Model
	}

	return &Response{
		Content:      content.String(),
		Usage:        p.usage(request.Model, decoded.Usage.InputTokens, decoded.Usage.OutputTokens),
		Latency:      time.Since(start),
		Model:        model,
		Provider:     p.id,
		FinishReason: decoded.StopReason,
	}, nil
}

func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []Message, onChunk StreamHandler, opts ChatOptions) (*Response, error) {
	if !p.IsConfigured() {
		return nil, p.notConfigured()
	}

	start := time.Now()
	request := p.buildRequest(messages, opts, true)
	headers := p.requestHeaders()
	headers["Accept"] = "text/event-stream"

	resp, err := p.postJSON(ctx, p.baseURL+"/v1/messages", request, headers, parseAnthropicError)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	result := &Response{Model: request.Model, Provider: p.id}
	var content strings.Builder
	var inputTokens, outputTokens int
	var handlerErr error

	err = readSSE(resp.Body, func(_ string, data string) error {
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return NewError(p.id, KindServer, "malformed stream event: "+err.Error())
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				if event.Message.Model != "" {
					result.Model = event.Message.Model
				}
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta.Text == "" {
				return nil
			}
			content.WriteString(event.Delta.Text)
			if onChunk != nil {
				if err := onChunk(StreamChunk{Provider: p.id, Model: result.Model, Delta: event.Delta.Text}); err != nil {
					handlerErr = err
					return errStopStream
				}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				result.FinishReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			return errStopStream
		case "error":
			message := "stream error"
			kind := KindServer
			if event.Error != nil {
				message = event.Error.Message
				if event.Error.Type == "overloaded_error" {
					kind = KindOverloaded
				}
			}
			return NewError(p.id, kind, message)
		}
		return nil
	})
	if handlerErr != nil {
		return nil, handlerErr
	}
	if err != nil && !errors.Is(err, errStopStream) {
		return nil, ClassifyTransportError(ctx, p.id, err)
	}

	result.Content = content.String()
	result.Usage = p.usage(request.Model, inputTokens, outputTokens)
	result.Latency = time.Since(start)
	return result, nil
}
