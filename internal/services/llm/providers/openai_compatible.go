package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// OpenAICompatibleProvider speaks the OpenAI chat completions protocol. Most
// hosted and local backends accept it, so one adapter covers them.
type OpenAICompatibleProvider struct {
	*BaseProvider
	headers map[string]string
}

func NewOpenAICompatibleProvider(spec Spec, apiKey string) (*OpenAICompatibleProvider, error) {
	if spec.BaseURL == "" {
		return nil, errors.New(spec.ID + ": base URL is required")
	}

	headers := map[string]string{}
	if spec.ID == "openrouter" {
		headers["HTTP-Referer"] = "https://github.com/amerfu/codepilot"
		headers["X-Title"] = "codepilot"
	}

	return &OpenAICompatibleProvider{
		BaseProvider: NewBaseProvider(spec, apiKey),
		headers:      headers,
	}, nil
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	Temperature   *float32             `json:"temperature,omitempty"`
	TopP          *float32             `json:"top_p,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseOpenAIError(raw []byte) string {
	var errResp openAIErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		return ""
	}
	return errResp.Error.Message
}

func (p *OpenAICompatibleProvider) buildRequest(messages []Message, opts ChatOptions, stream bool) openAIRequest {
	req := openAIRequest{
		Model:       p.resolveModel(opts),
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return req
}

func (p *OpenAICompatibleProvider) requestHeaders() map[string]string {
	headers := make(map[string]string, len(p.headers)+1)
	for k, v := range p.headers {
		headers[k] = v
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

func (p *OpenAICompatibleProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	if !p.IsConfigured() {
		return nil, p.notConfigured()
	}

	start := time.Now()
	request := p.buildRequest(messages, opts, false)

	resp, err := p.postJSON(ctx, p.baseURL+"/chat/completions", request, p.requestHeaders(), parseOpenAIError)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, ClassifyTransportError(ctx, p.id, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, NewError(p.id, KindServer, "response contained no choices")
	}

	model := decoded.Model
	if model == "" {
		model = request.Model
	}

	result := &Response{
		Content:      decoded.Choices[0].Message.Content,
		Latency:      time.Since(start),
		Model:        model,
		Provider:     p.id,
		FinishReason: decoded.Choices[0].FinishReason,
	}
	if decoded.Usage != nil {
		result.Usage = p.usage(request.Model, decoded.Usage.PromptTokens, decoded.Usage.CompletionTokens)
	}
	return result, nil
}

func (p *OpenAICompatibleProvider) StreamChat(ctx context.Context, messages []Message, onChunk StreamHandler, opts ChatOptions) (*Response, error) {
	if !p.IsConfigured() {
		return nil, p.notConfigured()
	}

	start := time.Now()
	request := p.buildRequest(messages, opts, true)
	headers := p.requestHeaders()
	headers["Accept"] = "text/event-stream"

	resp, err := p.postJSON(ctx, p.baseURL+"/chat/completions", request, headers, parseOpenAIError)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	result := &Response{Model: request.Model, Provider: p.id}
	var content strings.Builder
	var handlerErr error

	err = readSSE(resp.Body, func(_ string, data string) error {
		if data == "[DONE]" {
			return errStopStream
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return NewError(p.id, KindServer, "malformed stream chunk: "+err.Error())
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.Usage = p.usage(request.Model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				result.FinishReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if onChunk != nil {
				if err := onChunk(StreamChunk{Provider: p.id, Model: result.Model, Delta: choice.Delta.Content}); err != nil {
					handlerErr = err
					return errStopStream
				}
			}
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
	result.Latency = time.Since(start)
	return result, nil
}
