package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/krishkpatil/CreditUdaan/internal/ai"
	"github.com/krishkpatil/CreditUdaan/internal/metrics"
	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/scoring"
	"github.com/krishkpatil/CreditUdaan/internal/util"
)

// VersionSource resolves a version label onto a servable model. An empty
// label selects the default servable version.
type VersionSource interface {
	Resolve(version string) (*model.Version, error)
}

// Options bound the orchestrator's admission control and explanation budget.
type Options struct {
	MaxConcurrent  int
	MaxQueue       int
	ExplainTimeout time.Duration
}

const (
	defaultMaxConcurrent  = 8
	defaultMaxQueue       = 32
	defaultExplainTimeout = 20 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = defaultMaxConcurrent
	}
	if o.MaxQueue <= 0 {
		o.MaxQueue = defaultMaxQueue
	}
	if o.ExplainTimeout <= 0 {
		o.ExplainTimeout = defaultExplainTimeout
	}
	return o
}

// Result is the full outcome of one analysis.
type Result struct {
	ModelScore   int                     `json:"model_score"`
	Features     schema.FeatureVector    `json:"extracted_features"`
	Analysis     ai.Analysis             `json:"openai_analysis"`
	Band         scoring.Band            `json:"band"`
	Outlook      scoring.ApprovalOutlook `json:"approval_outlook"`
	Factors      []scoring.Factor        `json:"factors"`
	ModelVersion string                  `json:"model_version"`
	Source       ai.Source               `json:"explanation_source"`
	ElapsedMs    int64                   `json:"elapsed_ms"`
	Shared       bool                    `json:"-"`
}

// Orchestrator runs the analysis pipeline: validate, predict against a
// resolved model version, then produce the explanation with admission
// control and in-flight de-duplication.
type Orchestrator struct {
	versions  VersionSource
	validator *schema.Validator
	resolver  *ai.Resolver
	opts      Options

	sem     *semaphore.Weighted
	waiting atomic.Int64
	flight  singleflight.Group
}

// New wires an orchestrator from its collaborators.
func New(versions VersionSource, validator *schema.Validator, resolver *ai.Resolver, opts Options) (*Orchestrator, error) {
	if versions == nil {
		return nil, errors.New("orchestrator needs a version source")
	}
	if validator == nil {
		return nil, errors.New("orchestrator needs a validator")
	}
	if resolver == nil {
		return nil, errors.New("orchestrator needs an explanation resolver")
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		versions:  versions,
		validator: validator,
		resolver:  resolver,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}, nil
}

// Options exposes the effective admission settings.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Analyze validates the raw features, scores them with the requested model
// version and attaches a complete explanation. The explanation may be
// degraded to template content; the score never is.
func (o *Orchestrator) Analyze(ctx context.Context, raw schema.RawFeatures, version string) (*Result, error) {
	timer := util.StartTimer()

	features, err := o.validator.Validate(raw)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("validation_error").Inc()
		return nil, err
	}

	mv, err := o.versions.Resolve(version)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("model_unavailable").Inc()
		return nil, &ModelUnavailableError{Version: version, Reason: err.Error()}
	}

	if err := o.admit(ctx); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	score := mv.Predict(features)
	input := ai.ExplanationInput{
		Features:   features,
		ModelScore: score,
		Band:       scoring.BandFor(score),
		Outlook:    scoring.ApprovalFor(score, features),
		Factors:    scoring.Breakdown(features),
	}

	resolution, shared := o.explain(ctx, mv.ID, input)
	if resolution.Cause != nil {
		logrus.WithFields(logrus.Fields{
			"kind":     explanationCauseKind(resolution.Cause),
			"source":   string(resolution.Source),
			"attempts": resolution.Attempts,
			"filled":   len(resolution.Filled),
			"version":  mv.ID,
		}).WithError(resolution.Cause).Warn("explanation degraded to fallback content")
	}

	if shared {
		metrics.DedupHits.Inc()
	}
	if resolution.Attempts > 1 {
		metrics.ExplanationRetries.Add(float64(resolution.Attempts - 1))
	}
	if len(resolution.Filled) > 0 {
		metrics.FallbackFields.Add(float64(len(resolution.Filled)))
	}
	metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	metrics.AnalyzeDuration.Observe(timer.Elapsed().Seconds())

	return &Result{
		ModelScore:   score,
		Features:     features,
		Analysis:     resolution.Analysis,
		Band:         input.Band,
		Outlook:      input.Outlook,
		Factors:      input.Factors,
		ModelVersion: mv.ID,
		Source:       resolution.Source,
		ElapsedMs:    timer.ElapsedMs(),
		Shared:       shared,
	}, nil
}

// admit claims a concurrency slot, queueing up to the configured depth.
func (o *Orchestrator) admit(ctx context.Context) error {
	if o.sem.TryAcquire(1) {
		return nil
	}
	for {
		queued := o.waiting.Load()
		if queued >= int64(o.opts.MaxQueue) {
			metrics.BackpressureRejections.Inc()
			metrics.AnalysesTotal.WithLabelValues("backpressure").Inc()
			return &BackpressureError{Cap: o.opts.MaxConcurrent, Queue: o.opts.MaxQueue}
		}
		if o.waiting.CompareAndSwap(queued, queued+1) {
			break
		}
	}
	err := o.sem.Acquire(ctx, 1)
	o.waiting.Add(-1)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("cancelled").Inc()
		return fmt.Errorf("queued analysis cancelled: %w", err)
	}
	return nil
}

// explain shares one in-flight resolution across concurrent requests with
// an identical fingerprint. The shared call runs on its own timeout so one
// caller's cancellation cannot starve the others.
func (o *Orchestrator) explain(ctx context.Context, versionID string, input ai.ExplanationInput) (ai.Resolution, bool) {
	key := fingerprint(versionID, input.Features)
	value, _, shared := o.flight.Do(key, func() (any, error) {
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ExplainTimeout)
		defer cancel()
		return o.resolver.Resolve(exCtx, input), nil
	})
	return value.(ai.Resolution), shared
}

func fingerprint(versionID string, f schema.FeatureVector) string {
	var b strings.Builder
	b.WriteString(versionID)
	for _, v := range f.Vector() {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
