// Package cascade runs analysis providers in order until one succeeds.
// Chains are built with the heuristic provider last, so a full failure only
// happens when that provider is left out.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"diligence-engine/internal/analysis/provider"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/models"
)

const DefaultProviderTimeout = 8 * time.Second

// Attempt records one provider call.
type Attempt struct {
	Provider string
	Kind     provider.ErrorKind // empty on success
	Err      error
	Duration time.Duration
}

// Outcome is the first successful provider result plus the attempts before it.
type Outcome struct {
	Raw      *models.RawResult
	Provider string
	Used     models.ProviderUsed
	Attempts []Attempt
}

// Fallback reports whether a provider other than the first produced the result.
func (o *Outcome) Fallback() bool {
	return len(o.Attempts) > 1
}

type Cascade struct {
	providers []provider.Provider
	timeout   time.Duration
	logger    logger.Logger
	tracer    trace.Tracer
}

type Option func(*Cascade)

func WithTimeout(d time.Duration) Option {
	return func(c *Cascade) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Cascade) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(providers []provider.Provider, log logger.Logger, opts ...Option) (*Cascade, error) {
	if len(providers) == 0 {
		return nil, errors.New("cascade requires at least one provider")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("cascade provider %d is nil", i)
		}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	c := &Cascade{
		providers: providers,
		timeout:   DefaultProviderTimeout,
		logger:    logger.ForComponent(log, "cascade"),
		tracer:    otel.Tracer("diligence-engine/cascade"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Providers returns the configured chain names in order.
func (c *Cascade) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Run tries each provider under its own timeout. It returns
// models.ErrProviderUnavailable only when every provider failed.
func (c *Cascade) Run(ctx context.Context, sub *models.Submission) (*Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "cascade.run")
	defer span.End()

	attempts := make([]Attempt, 0, len(c.providers))
	for _, p := range c.providers {
		raw, attempt := c.try(ctx, p, sub)
		attempts = append(attempts, attempt)

		if attempt.Err == nil {
			metrics.ProviderAttempts.WithLabelValues(p.Name(), "success").Inc()
			out := &Outcome{Raw: raw, Provider: p.Name(), Used: p.Used(), Attempts: attempts}
			if out.Fallback() {
				metrics.CascadeFallbacks.Inc()
				c.logger.Info("Analysis served by fallback provider", map[string]interface{}{
					"provider": p.Name(),
					"attempts": len(attempts),
				})
			}
			span.SetAttributes(attribute.String("provider", p.Name()), attribute.Int("attempts", len(attempts)))
			return out, nil
		}

		metrics.ProviderAttempts.WithLabelValues(p.Name(), string(attempt.Kind)).Inc()
		c.logAttempt(attempt)

		if ctx.Err() != nil {
			break
		}
	}

	span.SetStatus(codes.Error, "all providers failed")
	return nil, fmt.Errorf("%w: %d provider(s) failed", models.ErrProviderUnavailable, len(attempts))
}

func (c *Cascade) try(ctx context.Context, p provider.Provider, sub *models.Submission) (*models.RawResult, Attempt) {
	ctx, span := c.tracer.Start(ctx, "provider.analyze", trace.WithAttributes(attribute.String("provider", p.Name())))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		raw *models.RawResult
		err error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		raw, err := p.Analyze(callCtx, sub)
		done <- result{raw: raw, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: provider.NewError(p.Name(), provider.KindTransient, fmt.Errorf("timed out after %s: %w", c.timeout, callCtx.Err()))}
	}

	attempt := Attempt{Provider: p.Name(), Duration: time.Since(start)}
	if res.err == nil && res.raw == nil {
		res.err = provider.NewError(p.Name(), provider.KindMalformedResponse, errors.New("empty result"))
	}
	if res.err != nil {
		pe := provider.AsProviderError(p.Name(), res.err)
		attempt.Kind = pe.Kind
		attempt.Err = pe
		span.RecordError(pe)
		span.SetStatus(codes.Error, string(pe.Kind))
		return nil, attempt
	}
	return res.raw, attempt
}

// logAttempt logs soft kinds at warn and the rest at error.
func (c *Cascade) logAttempt(a Attempt) {
	fields := map[string]interface{}{
		"provider":   a.Provider,
		"kind":       string(a.Kind),
		"durationMs": a.Duration.Milliseconds(),
		"error":      a.Err.Error(),
	}
	if a.Kind.Soft() {
		c.logger.Warn("Provider unavailable, falling back", fields)
		return
	}
	c.logger.Error("Provider failed, falling back", fields)
}
