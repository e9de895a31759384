package providers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// BaseProvider holds what every adapter shares: identity, model list and the
// task heuristic. Adapters embed it.
type BaseProvider struct {
	id           string
	baseURL      string
	apiKey       string
	requiresKey  bool
	models       []ModelInfo
	defaultModel string
	client       *http.Client
	limiter      *rate.Limiter // nil when unthrottled
}

// NewBaseProvider builds the shared part of an adapter from its catalog spec
func NewBaseProvider(spec Spec, apiKey string) *BaseProvider {
	defaultModel := spec.DefaultModel
	if defaultModel == "" && len(spec.Models) > 0 {
		defaultModel = spec.Models[0].ID
	}

	return &BaseProvider{
		id:           spec.ID,
		baseURL:      strings.TrimRight(spec.BaseURL, "/"),
		apiKey:       apiKey,
		requiresKey:  spec.RequiresKey,
		models:       append([]ModelInfo(nil), spec.Models...),
		defaultModel: defaultModel,
		client:       newHTTPClient(),
		limiter:      newLimiter(spec.RequestsPerMinute),
	}
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
}

// wait blocks until the client-side budget allows another request. A wait
// that cannot finish before the ctx deadline is reported as a rate limit so
// the router moves on to another backend.
func (p *BaseProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ClassifyTransportError(ctx, p.id, ctx.Err())
		}
		return NewError(p.id, KindRateLimit, "client-side rate limit: "+err.Error())
	}
	return nil
}

// newHTTPClient has no overall timeout: attempts are bounded by ctx, and
// streams may legitimately run long.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (p *BaseProvider) ID() string {
	return p.id
}

func (p *BaseProvider) IsConfigured() bool {
	return !p.requiresKey || p.apiKey != ""
}

func (p *BaseProvider) Models() []ModelInfo {
	return append([]ModelInfo(nil), p.models...)
}

func (p *BaseProvider) DefaultModel() string {
	return p.defaultModel
}

// SetHTTPClient swaps the transport, used by tests
func (p *BaseProvider) SetHTTPClient(client *http.Client) {
	p.client = client
}

// SelectModelForTask maps a free-form task label to a tier and returns the
// first model of that tier, or the default model when the tier is not offered.
func (p *BaseProvider) SelectModelForTask(task string) string {
	tier := TierForTask(task)
	for _, m := range p.models {
		if m.Tier == tier {
			return m.ID
		}
	}
	return p.defaultModel
}

var (
	fastTaskHints = []string{"quick", "simple", "fast", "summar", "classif", "commit", "format", "rename"}
	maxTaskHints  = []string{"complex", "architect", "reason", "plan", "review", "debug", "refactor", "security"}
)

// TierForTask is the label heuristic behind SelectModelForTask
func TierForTask(task string) Tier {
	label := strings.ToLower(task)
	for _, hint := range maxTaskHints {
		if strings.Contains(label, hint) {
			return TierMax
		}
	}
	for _, hint := range fastTaskHints {
		if strings.Contains(label, hint) {
			return TierFast
		}
	}
	return TierBalanced
}

// resolveModel picks the requested model or the default
func (p *BaseProvider) resolveModel(opts ChatOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.defaultModel
}

func (p *BaseProvider) modelInfo(id string) (ModelInfo, bool) {
	for _, m := range p.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// cost prices a call with the catalog per-million-token rates. Unknown models cost 0.
func (p *BaseProvider) cost(model string, promptTokens, outputTokens int) float64 {
	info, ok := p.modelInfo(model)
	if !ok {
		return 0
	}
	return (float64(promptTokens)*info.InputCostPerMTok + float64(outputTokens)*info.OutputCostPerMTok) / 1_000_000
}

func (p *BaseProvider) usage(model string, promptTokens, outputTokens int) Usage {
	return Usage{
		PromptTokens: promptTokens,
		OutputTokens: outputTokens,
		TotalTokens:  promptTokens + outputTokens,
		Cost:         p.cost(model, promptTokens, outputTokens),
	}
}

func (p *BaseProvider) notConfigured() *ProviderError {
	return NewError(p.id, KindNotConfigured, "no API key configured")
}
