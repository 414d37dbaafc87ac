package fairness

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

// Predictor scores a validated feature vector. model.Version satisfies this;
// the indirection keeps the evaluator usable against any scoring function.
type Predictor interface {
	Predict(schema.FeatureVector) int
}

// Report summarizes statistical parity over a labeled dataset. Group labels
// come from the dataset, never from the predictor's inputs.
type Report struct {
	PerGroupMeanScore map[synth.GroupLabel]float64 `json:"per_group_mean_score"`
	GroupCounts       map[synth.GroupLabel]int     `json:"group_counts"`
	MaxPairwiseGap    float64                      `json:"max_pairwise_gap"`
	Tolerance         float64                      `json:"tolerance"`
	Passed            bool                         `json:"passed"`
	SampleCount       int                          `json:"sample_count"`
}

// GateError is the release-gate failure: the score gap between the most and
// least favored groups exceeds what the deployment tolerates.
type GateError struct {
	Gap       float64
	Tolerance float64
}

func (e *GateError) Error() string {
	return fmt.Sprintf("fairness gate failed: max pairwise group gap %.1f exceeds tolerance %.1f", e.Gap, e.Tolerance)
}

// Gate returns a GateError when the report failed, nil otherwise.
func (r Report) Gate() error {
	if r.Passed {
		return nil
	}
	return &GateError{Gap: r.MaxPairwiseGap, Tolerance: r.Tolerance}
}

// Evaluate scores every sample and compares group means. A dataset with a
// single group trivially passes with a zero gap. The report is deterministic
// for a fixed predictor and dataset.
func Evaluate(p Predictor, ds synth.Dataset, tolerance float64) (Report, error) {
	if p == nil {
		return Report{}, errors.New("nil predictor")
	}
	if ds.Len() == 0 {
		return Report{}, errors.New("empty evaluation dataset")
	}
	if tolerance <= 0 || math.IsNaN(tolerance) {
		return Report{}, fmt.Errorf("tolerance must be positive, got %v", tolerance)
	}

	sums := make(map[synth.GroupLabel]float64)
	counts := make(map[synth.GroupLabel]int)
	for _, s := range ds.Samples {
		sums[s.Group] += float64(p.Predict(s.Features))
		counts[s.Group]++
	}

	labels := make([]synth.GroupLabel, 0, len(sums))
	for g := range sums {
		labels = append(labels, g)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	means := make(map[synth.GroupLabel]float64, len(labels))
	for _, g := range labels {
		means[g] = sums[g] / float64(counts[g])
	}

	maxGap := 0.0
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			gap := math.Abs(means[labels[i]] - means[labels[j]])
			if gap > maxGap {
				maxGap = gap
			}
		}
	}

	return Report{
		PerGroupMeanScore: means,
		GroupCounts:       counts,
		MaxPairwiseGap:    maxGap,
		Tolerance:         tolerance,
		Passed:            maxGap <= tolerance,
		SampleCount:       ds.Len(),
	}, nil
}
