package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Source identifies which explainer produced the analysis content.
type Source string

const (
	SourceOpenAI   Source = "openai"
	SourceTemplate Source = "template"
	SourceHybrid   Source = "hybrid"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 2 * time.Second
	maxBackoff            = 10 * time.Second
)

// Resolution describes how an explanation was produced and what it cost.
// Cause carries the terminal primary-explainer error when content had to be
// degraded; the analysis itself is complete regardless.
type Resolution struct {
	Analysis Analysis
	Source   Source
	Filled   []string
	Attempts int
	Cause    error
}

// Resolver runs the remote explainer with bounded retries and completes
// whatever it could not produce from the deterministic templates. It never
// returns an analysis with holes: the templates back every contract field.
type Resolver struct {
	primary   Explainer
	templates *Templates

	maxAttempts    int
	initialBackoff time.Duration
	sleep          func(ctx context.Context, d time.Duration) bool
}

// NewResolver builds a resolver. The primary explainer may be nil or
// disabled, in which case every analysis comes from the templates.
func NewResolver(primary Explainer, templates *Templates) (*Resolver, error) {
	if templates == nil {
		return nil, errors.New("resolver needs templates")
	}
	return &Resolver{
		primary:        primary,
		templates:      templates,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		sleep:          sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Resolve produces a complete analysis for the input. Transient upstream
// failures are retried with doubling backoff; a parseable partial response
// short-circuits straight to a template fill of the missing fields.
func (r *Resolver) Resolve(ctx context.Context, input ExplanationInput) Resolution {
	if r.primary == nil || !r.primary.Enabled() {
		return Resolution{Analysis: r.templates.Build(input), Source: SourceTemplate}
	}

	delay := r.initialBackoff
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		analysis, err := r.primary.Explain(ctx, input)
		attempts++
		if err == nil {
			return Resolution{Analysis: analysis, Source: SourceOpenAI, Attempts: attempts}
		}

		var incomplete *IncompleteError
		if errors.As(err, &incomplete) {
			return Resolution{
				Analysis: r.templates.Fill(analysis, input, incomplete.Missing),
				Source:   SourceHybrid,
				Filled:   incomplete.Missing,
				Attempts: attempts,
				Cause:    err,
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if !shouldRetry(err) {
			break
		}
		if !r.sleep(ctx, delay) {
			lastErr = ctx.Err()
			break
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return Resolution{
		Analysis: r.templates.Build(input),
		Source:   SourceTemplate,
		Filled:   append([]string(nil), narrativeFields...),
		Attempts: attempts,
		Cause:    lastErr,
	}
}

// Enabled reports whether the resolver can produce analyses.
func (r *Resolver) Enabled() bool {
	return r != nil && r.templates != nil
}

// Explain satisfies Explainer, discarding resolution metadata.
func (r *Resolver) Explain(ctx context.Context, input ExplanationInput) (Analysis, error) {
	if r == nil || r.templates == nil {
		return Analysis{}, ErrDisabled
	}
	return r.Resolve(ctx, input).Analysis, nil
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status 429") || strings.Contains(msg, "status 500") || strings.Contains(msg, "status 503")
}
