package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIProvider(t *testing.T, id, apiKey string, handler http.HandlerFunc) *OpenAICompatibleProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	spec, ok := DefaultCatalog().Lookup(id)
	require.True(t, ok)
	spec.BaseURL = server.URL + "/v1"

	p, err := NewOpenAICompatibleProvider(spec, apiKey)
	require.NoError(t, err)
	return p
}

func TestOpenAICompatibleChat(t *testing.T) {
	var captured openAIRequest
	p := newTestOpenAIProvider(t, "openai", "sk-test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4.1",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 500}
		}`))
	})

	temp := float32(0.2)
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{Temperature: &temp})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", captured.Model)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.2, *captured.Temperature, 1e-6)
	assert.False(t, captured.Stream)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4.1", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1500, resp.Usage.TotalTokens)
	assert.InDelta(t, (1000*2.0+500*8.0)/1_000_000, resp.Usage.Cost, 1e-12)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestOpenAICompatibleLocalNeedsNoKey(t *testing.T) {
	p := newTestOpenAIProvider(t, "ollama", "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	})

	assert.True(t, p.IsConfigured())
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "qwen2.5-coder:7b", resp.Model)
}

func TestOpenAICompatibleOpenRouterHeaders(t *testing.T) {
	p := newTestOpenAIProvider(t, "openrouter", "sk-or", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "codepilot", r.Header.Get("X-Title"))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
}

func TestOpenAICompatibleNotConfigured(t *testing.T) {
	called := false
	p := newTestOpenAIProvider(t, "openai", "", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindNotConfigured, providerErr.Kind)
	assert.False(t, called)
}

func TestOpenAICompatibleErrorClassification(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		kind    ErrorKind
		message string
	}{
		{http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`, KindRateLimit, "slow down"},
		{http.StatusUnauthorized, `{"error": {"message": "invalid key"}}`, KindAuth, "invalid key"},
		{http.StatusInternalServerError, `upstream exploded`, KindServer, "upstream exploded"},
		{http.StatusBadRequest, `{"error": {"message": "bad model"}}`, KindBadRequest, "bad model"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			p := newTestOpenAIProvider(t, "groq", "key", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})

			var providerErr *ProviderError
			require.ErrorAs(t, err, &providerErr)
			assert.Equal(t, tt.kind, providerErr.Kind)
			assert.Equal(t, tt.status, providerErr.StatusCode)
			assert.Equal(t, tt.message, providerErr.Message)
			assert.Equal(t, "groq", providerErr.Provider)
		})
	}
}

func TestOpenAICompatibleContextTimeout(t *testing.T) {
	p := newTestOpenAIProvider(t, "groq", "key", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindTimeout, providerErr.Kind)
	assert.True(t, IsRetryable(err))
}

func TestOpenAICompatibleStreamChat(t *testing.T) {
	var captured openAIRequest
	p := newTestOpenAIProvider(t, "openai", "sk-test", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		_, _ = fmt.Fprint(w, "data: {\"model\":\"gpt-4.1\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	resp, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(c StreamChunk) error {
		assert.Equal(t, "openai", c.Provider)
		chunks = append(chunks, c.Delta)
		return nil
	}, ChatOptions{})
	require.NoError(t, err)

	assert.True(t, captured.Stream)
	require.NotNil(t, captured.StreamOptions)
	assert.True(t, captured.StreamOptions.IncludeUsage)

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAICompatibleStreamHandlerStops(t *testing.T) {
	p := newTestOpenAIProvider(t, "openai", "sk-test", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%d\"}}]}\n\n", i)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stop := errors.New("enough")
	count := 0
	_, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(c StreamChunk) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	}, ChatOptions{})

	assert.Same(t, stop, err)
	assert.Equal(t, 2, count)
}

func TestOpenAICompatibleStreamError(t *testing.T) {
	p := newTestOpenAIProvider(t, "openai", "sk-test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, ChatOptions{})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, KindOverloaded, providerErr.Kind)
}

func TestNewOpenAICompatibleProviderRequiresURL(t *testing.T) {
	_, err := NewOpenAICompatibleProvider(Spec{ID: "x"}, "")
	assert.Error(t, err)
}

func TestOpenAICompatibleClientSideRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	t.Cleanup(server.Close)

	spec, ok := DefaultCatalog().Lookup("groq")
	require.True(t, ok)
	spec.BaseURL = server.URL
	spec.RequestsPerMinute = 1

	p, err := NewOpenAICompatibleProvider(spec, "gsk-test")
	require.NoError(t, err)

	messages := []Message{{Role: RoleUser, Content: "hi"}}
	_, err = p.Chat(context.Background(), messages, ChatOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Chat(ctx, messages, ChatOptions{})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRateLimit, perr.Kind)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}
