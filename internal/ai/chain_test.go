package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedResult struct {
	analysis Analysis
	err      error
}

type scriptedExplainer struct {
	results []scriptedResult
	calls   int
}

func (s *scriptedExplainer) Enabled() bool { return true }

func (s *scriptedExplainer) Explain(_ context.Context, _ ExplanationInput) (Analysis, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	r := s.results[idx]
	return r.analysis, r.err
}

func completeAnalysis() Analysis {
	return Analysis{
		DetailedAnalysis:  "remote narrative",
		ImprovementAdvice: "remote advice",
		ActionSteps:       []string{"s1", "s2", "s3", "s4", "s5"},
		NegativeItemPlans: []string{"p1"},
		Roadmap90Days:     []string{"m1", "m2", "m3"},
		ApprovalAdvice:    "remote approval",
		FAQ:               []string{"q1", "q2", "q3"},
	}
}

func newTestResolver(t *testing.T, primary Explainer) (*Resolver, *int) {
	t.Helper()
	templates, err := NewTemplates(DefaultKnowledge())
	if err != nil {
		t.Fatalf("new templates: %v", err)
	}
	resolver, err := NewResolver(primary, templates)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	sleeps := 0
	resolver.sleep = func(context.Context, time.Duration) bool {
		sleeps++
		return true
	}
	return resolver, &sleeps
}

func TestResolveUsesPrimaryOnSuccess(t *testing.T) {
	primary := &scriptedExplainer{results: []scriptedResult{{analysis: completeAnalysis()}}}
	resolver, sleeps := newTestResolver(t, primary)

	res := resolver.Resolve(context.Background(), riskyInput())

	if res.Source != SourceOpenAI {
		t.Fatalf("source = %q", res.Source)
	}
	if res.Attempts != 1 || *sleeps != 0 {
		t.Fatalf("attempts = %d, sleeps = %d", res.Attempts, *sleeps)
	}
	if res.Cause != nil {
		t.Fatalf("cause = %v", res.Cause)
	}
	if res.Analysis.DetailedAnalysis != "remote narrative" {
		t.Fatalf("analysis = %q", res.Analysis.DetailedAnalysis)
	}
}

func TestResolveFillsPartialResponse(t *testing.T) {
	missing := []string{"improvement_advice", "action_steps", "negative_item_plans", "roadmap_90_days", "approval_advice", "faq"}
	primary := &scriptedExplainer{results: []scriptedResult{{
		analysis: Analysis{DetailedAnalysis: "model words"},
		err:      &IncompleteError{Missing: missing},
	}}}
	resolver, sleeps := newTestResolver(t, primary)

	res := resolver.Resolve(context.Background(), riskyInput())

	if res.Source != SourceHybrid {
		t.Fatalf("source = %q", res.Source)
	}
	if len(res.Filled) != len(missing) {
		t.Fatalf("filled = %v", res.Filled)
	}
	if res.Analysis.DetailedAnalysis != "model words" {
		t.Fatalf("produced field overwritten: %q", res.Analysis.DetailedAnalysis)
	}
	if gaps := res.Analysis.MissingFields(); len(gaps) > 0 {
		t.Fatalf("analysis still missing %v", gaps)
	}
	if *sleeps != 0 {
		t.Fatalf("partial response should not trigger backoff, slept %d times", *sleeps)
	}
}

func TestResolveRetriesTransientErrors(t *testing.T) {
	transient := fmt.Errorf("openai status 429: map[error:rate limited]")
	primary := &scriptedExplainer{results: []scriptedResult{
		{err: transient},
		{err: transient},
		{analysis: completeAnalysis()},
	}}
	resolver, sleeps := newTestResolver(t, primary)

	res := resolver.Resolve(context.Background(), riskyInput())

	if res.Source != SourceOpenAI {
		t.Fatalf("source = %q, cause = %v", res.Source, res.Cause)
	}
	if res.Attempts != 3 || *sleeps != 2 {
		t.Fatalf("attempts = %d, sleeps = %d", res.Attempts, *sleeps)
	}
}

func TestResolveStopsOnPermanentError(t *testing.T) {
	primary := &scriptedExplainer{results: []scriptedResult{
		{err: errors.New("parse ai response: invalid character")},
	}}
	resolver, sleeps := newTestResolver(t, primary)

	res := resolver.Resolve(context.Background(), riskyInput())

	if res.Source != SourceTemplate {
		t.Fatalf("source = %q", res.Source)
	}
	if res.Attempts != 1 || *sleeps != 0 {
		t.Fatalf("permanent error retried: attempts = %d, sleeps = %d", res.Attempts, *sleeps)
	}
	if res.Cause == nil {
		t.Fatal("cause missing")
	}
	if gaps := res.Analysis.MissingFields(); len(gaps) > 0 {
		t.Fatalf("fallback analysis missing %v", gaps)
	}
}

func TestResolveExhaustsRetriesThenFallsBack(t *testing.T) {
	primary := &scriptedExplainer{results: []scriptedResult{
		{err: errors.New("openai status 503: overloaded")},
	}}
	resolver, _ := newTestResolver(t, primary)

	res := resolver.Resolve(context.Background(), healthyInput())

	if res.Source != SourceTemplate {
		t.Fatalf("source = %q", res.Source)
	}
	if res.Attempts != defaultMaxAttempts {
		t.Fatalf("attempts = %d, want %d", res.Attempts, defaultMaxAttempts)
	}
	if len(res.Filled) != len(narrativeFields) {
		t.Fatalf("filled = %v, want all narrative fields", res.Filled)
	}
	if gaps := res.Analysis.MissingFields(); len(gaps) > 0 {
		t.Fatalf("fallback analysis missing %v", gaps)
	}
}

func TestResolveStopsWhenContextCancelled(t *testing.T) {
	primary := &scriptedExplainer{results: []scriptedResult{
		{err: errors.New("openai status 429: rate limited")},
	}}
	resolver, sleeps := newTestResolver(t, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := resolver.Resolve(ctx, riskyInput())

	if res.Source != SourceTemplate {
		t.Fatalf("source = %q", res.Source)
	}
	if !errors.Is(res.Cause, context.Canceled) {
		t.Fatalf("cause = %v, want context.Canceled", res.Cause)
	}
	if res.Attempts != 1 || *sleeps != 0 {
		t.Fatalf("cancelled context kept retrying: attempts = %d, sleeps = %d", res.Attempts, *sleeps)
	}
	if gaps := res.Analysis.MissingFields(); len(gaps) > 0 {
		t.Fatalf("fallback analysis missing %v", gaps)
	}
}

func TestResolveTemplateOnlyWhenPrimaryDisabled(t *testing.T) {
	resolver, _ := newTestResolver(t, nil)

	res := resolver.Resolve(context.Background(), healthyInput())

	if res.Source != SourceTemplate {
		t.Fatalf("source = %q", res.Source)
	}
	if res.Cause != nil {
		t.Fatalf("template-only mode is not a failure, cause = %v", res.Cause)
	}
	if gaps := res.Analysis.MissingFields(); len(gaps) > 0 {
		t.Fatalf("analysis missing %v", gaps)
	}
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("openai status 429: slow down"), true},
		{"server error", errors.New("openai status 500: oops"), true},
		{"overloaded", errors.New("openai status 503: busy"), true},
		{"bad request", errors.New("openai status 400: bad payload"), false},
		{"parse failure", errors.New("parse ai response: junk"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldRetry(tc.err); got != tc.want {
				t.Fatalf("shouldRetry(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
