package router

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/internal/services/llm/routing"
	"github.com/amerfu/codepilot/internal/services/resilience"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// invocation is one request shape (plain or streaming) driven through the
// primary attempt and the fallback chain.
type invocation struct {
	operation string
	call      func(ctx context.Context, adapter providers.Provider, opts providers.ChatOptions) (*providers.Response, error)
	timeout   time.Duration

	// committed reports whether output already reached the caller; once it
	// has, the request can no longer move to another backend.
	committed func() bool
}

func (inv invocation) isCommitted() bool {
	return inv.committed != nil && inv.committed()
}

// Chat sends messages to the resolved backend. A transient failure of that
// backend moves the request to the other configured backends in strategy
// order; a permanent one is returned as is.
func (r *Router) Chat(ctx context.Context, messages []providers.Message, opts providers.ChatOptions) (*providers.Response, error) {
	inv := invocation{
		operation: "chat",
		call: func(ctx context.Context, adapter providers.Provider, opts providers.ChatOptions) (*providers.Response, error) {
			return adapter.Chat(ctx, messages, opts)
		},
	}
	return r.run(ctx, inv, opts)
}

// StreamChat streams from the resolved backend. Fallback applies only until
// the first chunk is delivered; after that a failure is returned directly.
func (r *Router) StreamChat(ctx context.Context, messages []providers.Message, onChunk providers.StreamHandler, opts providers.ChatOptions) (*providers.Response, error) {
	var delivered atomic.Bool
	handler := func(chunk providers.StreamChunk) error {
		delivered.Store(true)
		if err := onChunk(chunk); err != nil {
			return &callerError{err: err}
		}
		return nil
	}

	inv := invocation{
		operation: "stream_chat",
		call: func(ctx context.Context, adapter providers.Provider, opts providers.ChatOptions) (*providers.Response, error) {
			return adapter.StreamChat(ctx, messages, handler, opts)
		},
		timeout:   resilience.NoTimeout,
		committed: delivered.Load,
	}
	return r.run(ctx, inv, opts)
}

func (r *Router) run(ctx context.Context, inv invocation, opts providers.ChatOptions) (resp *providers.Response, err error) {
	t, err := r.resolve(opts)
	if err != nil {
		return nil, err
	}
	opts.Model = t.model

	ctx, span := r.startSpan(ctx, "router."+inv.operation,
		attribute.String("router.provider", t.provider),
		attribute.String("router.model", t.model),
		attribute.String("router.strategy", string(r.Strategy())))
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.String("router.served_by", resp.Provider))
		}
		endSpan(span, err)
	}()

	resp, err = r.attempt(ctx, inv, t.provider, opts, 0)
	if err == nil {
		r.recordSuccess(resp)
		return resp, nil
	}

	if inv.isCommitted() || !r.shouldFallback(ctx, err) {
		return nil, r.fail(ctx, err)
	}

	r.logger.Warn("Primary provider failed, falling back",
		zap.String("operation", inv.operation),
		zap.String("provider", t.provider),
		zap.Error(err))

	return r.withFallback(ctx, inv, opts, t.provider, err)
}

// shouldFallback is true for transient failures, open breakers and backends
// without credentials, unless the caller has gone away
func (r *Router) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return providers.IsRetryable(err) ||
		errors.Is(err, circuitbreaker.ErrOpen) ||
		hasKind(err, providers.KindNotConfigured)
}

// fail counts a failed request and returns the error the caller sees.
// Outcomes the caller caused are not counted.
func (r *Router) fail(ctx context.Context, err error) error {
	var ce *callerError
	if errors.As(err, &ce) {
		return ce.err
	}
	if ctx.Err() == nil {
		r.stats.RecordFailure()
	}
	return err
}

// neutral errors say nothing about the backend's health
func neutral(err error) bool {
	var ce *callerError
	return errors.As(err, &ce) || hasKind(err, providers.KindNotConfigured)
}

func hasKind(err error, kind providers.ErrorKind) bool {
	var perr *providers.ProviderError
	return errors.As(err, &perr) && perr.Kind == kind
}

// withFallback tries every other configured backend in strategy order. Each
// candidate gets maxRetries retries behind its own breaker and uses its own
// default model.
func (r *Router) withFallback(ctx context.Context, inv invocation, opts providers.ChatOptions, exclude string, primaryErr error) (*providers.Response, error) {
	agg := &AggregateError{}
	if primaryErr != nil {
		agg.Attempts = append(agg.Attempts, Attempt{Provider: exclude, Err: primaryErr})
	}

	candidates := r.fallbackCandidates(ctx, exclude)
	r.logger.Debug("Fallback candidates",
		zap.String("strategy", string(r.Strategy())),
		zap.Strings("providers", routing.IDs(candidates)))

	if len(candidates) == 0 {
		r.stats.RecordFailure()
		return nil, ErrAllProvidersFailed
	}

	opts.Model = ""
	for _, candidate := range candidates {
		id := candidate.ID()

		resp, err := r.attempt(ctx, inv, id, opts, r.maxRetries)
		if err == nil {
			r.logger.Info("Fallback provider succeeded",
				zap.String("operation", inv.operation),
				zap.String("from", exclude),
				zap.String("to", id))
			r.metrics.ObserveFallback(exclude, id)
			r.recordSuccess(resp)
			return resp, nil
		}

		agg.Attempts = append(agg.Attempts, Attempt{Provider: id, Err: err})

		if ctx.Err() != nil || inv.isCommitted() {
			return nil, r.fail(ctx, err)
		}

		r.logger.Warn("Fallback provider failed",
			zap.String("operation", inv.operation),
			zap.String("provider", id),
			zap.Error(err))
	}

	r.stats.RecordFailure()
	return nil, agg
}

// fallbackCandidates returns the configured backends other than exclude, ordered
func (r *Router) fallbackCandidates(ctx context.Context, exclude string) []routing.Candidate {
	strategy := r.Strategy()

	var candidates []routing.Candidate
	for _, spec := range r.catalog.All() {
		if spec.ID == exclude || !r.configured(spec) {
			continue
		}

		candidate := routing.Candidate{Spec: spec, Configured: true}
		if strategy == routing.StrategyLeastLatency {
			candidate.AverageLatency = r.averageLatency(ctx, spec.ID)
		}
		candidates = append(candidates, candidate)
	}

	return routing.Order(candidates, strategy)
}

// attempt drives one backend through the resilience executor
func (r *Router) attempt(ctx context.Context, inv invocation, id string, opts providers.ChatOptions, retries int) (*providers.Response, error) {
	adapter, err := r.adapter(id)
	if err != nil {
		return nil, err
	}

	ctx, span := r.startSpan(ctx, "router.attempt",
		attribute.String("router.provider", id),
		attribute.Int("router.max_retries", retries))

	execOpts := r.execOptions
	execOpts.Retries = retries
	execOpts.Breaker = r.breakers.Get(id)
	execOpts.Logger = r.logger.With(zap.String("provider", id))
	execOpts.IsTerminal = func(err error) bool {
		return inv.isCommitted() || resilience.DefaultIsTerminal(err)
	}
	execOpts.IsNeutral = neutral
	if inv.timeout != 0 {
		execOpts.Timeout = inv.timeout
	}

	callerCtx := ctx
	resp, err := resilience.Execute(ctx, inv.operation+":"+id, func(ctx context.Context) (*providers.Response, error) {
		start := time.Now()
		resp, err := inv.call(ctx, adapter, opts)
		elapsed := time.Since(start)
		if err != nil {
			var ce *callerError
			if callerCtx.Err() == nil && !errors.As(err, &ce) {
				r.metrics.ObserveAttempt(id, err, elapsed)
			}
			return nil, err
		}
		r.metrics.ObserveAttempt(id, nil, elapsed)

		if resp.Provider == "" {
			resp.Provider = id
		}
		if resp.Latency == 0 {
			resp.Latency = elapsed
		}
		return resp, nil
	}, execOpts)

	endSpan(span, err)
	return resp, err
}

func (r *Router) recordSuccess(resp *providers.Response) {
	r.stats.RecordSuccess(resp)
	r.metrics.ObserveUsage(resp.Provider, resp.Usage.PromptTokens, resp.Usage.OutputTokens, resp.Usage.Cost)

	if r.latency == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), latencyWriteTimeout)
	defer cancel()

	if err := r.latency.RecordLatency(ctx, resp.Provider, resp.Latency); err != nil {
		r.logger.Debug("Failed to record shared latency",
			zap.String("provider", resp.Provider),
			zap.Duration("latency", resp.Latency),
			zap.Error(err))
	}
}

func (r *Router) averageLatency(ctx context.Context, id string) time.Duration {
	if r.latency == nil {
		return 0
	}

	v, err, _ := r.latencyReads.Do(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), latencyReadTimeout)
		defer cancel()
		return r.latency.GetAverageLatency(ctx, id)
	})
	if err != nil {
		r.logger.Debug("Failed to read shared latency", zap.String("provider", id), zap.Error(err))
		return 0
	}
	return v.(time.Duration)
}
