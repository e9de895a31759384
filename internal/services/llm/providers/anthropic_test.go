package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicProvider(t *testing.T, apiKey string, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	spec, ok := DefaultCatalog().Lookup("anthropic")
	require.True(t, ok)
	spec.BaseURL = server.URL

	p, err := NewAnthropicProvider(spec, apiKey)
	require.NoError(t, err)
	return p
}

func TestAnthropicChat(t *testing.T) {
	var captured anthropicRequest
	p := newTestAnthropicProvider(t, "sk-ant", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_, _ = w.Write([]byte(`{
			"model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "Hi "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	})

	messages := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hello"},
	}
	resp, err := p.Chat(context.Background(), messages, ChatOptions{Model: "claude-haiku-4-5"})
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5", captured.Model)
	assert.Equal(t, "be brief\n\nbe kind", captured.System)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, captured.Messages)
	assert.Equal(t, anthropicDefaultMaxTokens, captured.MaxTokens)

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
	assert.InDelta(t, (10*1.0+4*5.0)/1_000_000, resp.Usage.Cost, 1e-12)
}

func TestAnthropicMaxTokensOverride(t *testing.T) {
	var captured anthropicRequest
	p := newTestAnthropicProvider(t, "sk-ant", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"content": []}`))
	})

	maxTokens := 256
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, ChatOptions{MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, 256, captured.MaxTokens)
	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
}

func TestAnthropicOverloaded(t *testing.T) {
	p := newTestAnthropicProvider(t, "sk-ant", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindOverloaded, providerErr.Kind)
	assert.Equal(t, "Overloaded", providerErr.Message)
	assert.True(t, providerErr.Retryable())
}

func TestAnthropicNotConfigured(t *testing.T) {
	called := false
	p := newTestAnthropicProvider(t, "", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindNotConfigured, providerErr.Kind)
	assert.False(t, called)
}

func writeAnthropicEvent(w http.ResponseWriter, event, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func TestAnthropicStreamChat(t *testing.T) {
	p := newTestAnthropicProvider(t, "sk-ant", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeAnthropicEvent(w, "message_start", `{"type":"message_start","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":7}}}`)
		writeAnthropicEvent(w, "content_block_start", `{"type":"content_block_start","index":0}`)
		writeAnthropicEvent(w, "ping", `{"type":"ping"}`)
		writeAnthropicEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"foo"}}`)
		writeAnthropicEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"bar"}}`)
		writeAnthropicEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`)
		writeAnthropicEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	var chunks []string
	resp, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, func(c StreamChunk) error {
		chunks = append(chunks, c.Delta)
		return nil
	}, ChatOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"foo", "bar"}, chunks)
	assert.Equal(t, "foobar", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	p := newTestAnthropicProvider(t, "sk-ant", func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicEvent(w, "message_start", `{"type":"message_start","message":{"usage":{"input_tokens":1}}}`)
		writeAnthropicEvent(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	})

	_, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindOverloaded, providerErr.Kind)
	assert.Equal(t, "busy", providerErr.Message)
}

func TestReadSSE(t *testing.T) {
	input := ": comment\n" +
		"event: one\n" +
		"data: first\n" +
		"data: second\n" +
		"\n" +
		"data: trailing"

	type event struct{ name, data string }
	var got []event
	err := readSSE(strings.NewReader(input), func(name, data string) error {
		got = append(got, event{name, data})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []event{
		{"one", "first\nsecond"},
		{"", "trailing"},
	}, got)
}
