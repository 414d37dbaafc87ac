package model

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

func trainSmall(t *testing.T, n int, cfg TrainConfig, dist synth.GroupDistribution) (*Version, synth.Dataset) {
	t.Helper()
	ds, err := synth.Generate(n, cfg.Seed, dist)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	res, err := Train(context.Background(), ds, cfg, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !res.Completed || res.Version == nil {
		t.Fatalf("training did not complete: %+v", res)
	}
	return res.Version, ds
}

func smallConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Epochs = 60
	cfg.BatchSize = 64
	return cfg
}

func TestTrainingIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 25
	ds, err := synth.Generate(400, cfg.Seed, synth.DefaultDistribution())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	first, err := Train(context.Background(), ds, cfg, nil)
	if err != nil {
		t.Fatalf("first train: %v", err)
	}
	second, err := Train(context.Background(), ds, cfg, nil)
	if err != nil {
		t.Fatalf("second train: %v", err)
	}
	if !reflect.DeepEqual(first.Version.Net, second.Version.Net) {
		t.Fatal("identical runs produced different parameters")
	}
	if first.Version.ID == second.Version.ID {
		t.Fatal("distinct runs must mint distinct version ids")
	}
}

func TestPredictStaysOnScale(t *testing.T) {
	stats := schema.Stats{
		Mean: make([]float64, schema.FeatureDim),
		Std:  []float64{1, 1, 1, 1, 1, 1, 1, 1},
	}
	net := NewNetwork(rand.New(rand.NewPCG(1, 2)))

	tests := []struct {
		name string
		b3   float64
		want int
	}{
		{"saturated high", 1e6, schema.ScoreMax},
		{"saturated low", -1e6, schema.ScoreMin},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			saturated := net.Clone()
			saturated.B3 = tc.b3
			v := &Version{ID: "test", Stats: stats, Net: saturated}
			got := v.Predict(schema.FeatureVector{CreditUtilization: 50})
			if got != tc.want {
				t.Fatalf("expected pinned score %d, got %d", tc.want, got)
			}
		})
	}

	hostile := []schema.FeatureVector{
		{CreditUtilization: math.NaN(), AvgAccountAge: math.Inf(1), NegativeItems: 1 << 30},
		{CreditUtilization: -1e12, PaymentHistory: schema.PaymentSummary{Late: -5}},
		{AvgAccountAge: 1e300, AccountTypes: map[schema.AccountType]int{schema.AccountCreditCard: 1 << 40}},
	}
	v := &Version{ID: "test", Stats: stats, Net: net}
	for i, f := range hostile {
		got := v.Predict(f)
		if got < schema.ScoreMin || got > schema.ScoreMax {
			t.Fatalf("hostile input %d escaped the scale: %d", i, got)
		}
	}
}

func TestTrainedModelIsMonotonic(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 100
	version, ds := trainSmall(t, 1500, cfg, synth.DefaultDistribution())

	// The structural invariant behind monotonicity: no negative weights
	// survive training.
	if err := version.Net.Validate(); err != nil {
		t.Fatalf("trained network broke its invariants: %v", err)
	}

	probes := ds.Samples[:80]
	for i, s := range probes {
		base := version.Predict(s.Features)

		improved := s.Features
		improved.CreditUtilization = math.Max(improved.CreditUtilization-15, 0)
		if got := version.Predict(improved); got < base {
			t.Fatalf("probe %d: lowering utilization dropped score %d -> %d", i, base, got)
		}

		improved = s.Features
		if improved.PaymentHistory.Late > 0 {
			improved.PaymentHistory.Late--
			if got := version.Predict(improved); got < base {
				t.Fatalf("probe %d: fewer late payments dropped score %d -> %d", i, base, got)
			}
		}

		improved = s.Features
		improved.AvgAccountAge += 3
		if got := version.Predict(improved); got < base {
			t.Fatalf("probe %d: older accounts dropped score %d -> %d", i, base, got)
		}

		improved = s.Features
		if improved.NegativeItems > 0 {
			improved.NegativeItems--
			if got := version.Predict(improved); got < base {
				t.Fatalf("probe %d: fewer negative items dropped score %d -> %d", i, base, got)
			}
		}

		improved = s.Features
		improved.AccountTypes = map[schema.AccountType]int{}
		for k, c := range s.Features.AccountTypes {
			improved.AccountTypes[k] = c
		}
		improved.AccountTypes[schema.AccountLoan]++
		if got := version.Predict(improved); got < base {
			t.Fatalf("probe %d: broader account mix dropped score %d -> %d", i, base, got)
		}
	}
}

func evalMaxGap(t *testing.T, v *Version, ds synth.Dataset) float64 {
	t.Helper()
	sums := map[synth.GroupLabel]float64{}
	counts := map[synth.GroupLabel]float64{}
	for _, s := range ds.Samples {
		sums[s.Group] += float64(v.Predict(s.Features))
		counts[s.Group]++
	}
	var means []float64
	for g, sum := range sums {
		means = append(means, sum/counts[g])
	}
	maxGap := 0.0
	for i := 0; i < len(means); i++ {
		for j := i + 1; j < len(means); j++ {
			if gap := math.Abs(means[i] - means[j]); gap > maxGap {
				maxGap = gap
			}
		}
	}
	return maxGap
}

func TestFairnessPenaltyNarrowsGap(t *testing.T) {
	dist := synth.GroupDistribution{
		Shares: []synth.GroupShare{
			{Label: "favored", Weight: 0.5},
			{Label: "disfavored", Weight: 0.5},
		},
		Correlation: 1.0,
	}
	cfg := smallConfig()
	cfg.Epochs = 120

	train, eval, err := synth.Pair(2000, 1000, cfg.Seed, dist)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}

	plain := cfg
	plain.Lambda = 0
	resPlain, err := Train(context.Background(), train, plain, nil)
	if err != nil {
		t.Fatalf("train lambda=0: %v", err)
	}

	penalized := cfg
	penalized.Lambda = 2
	resPenalized, err := Train(context.Background(), train, penalized, nil)
	if err != nil {
		t.Fatalf("train lambda=2: %v", err)
	}

	gapPlain := evalMaxGap(t, resPlain.Version, eval)
	gapPenalized := evalMaxGap(t, resPenalized.Version, eval)
	if gapPlain < 30 {
		t.Fatalf("unpenalized gap %v too small for a meaningful comparison", gapPlain)
	}
	if gapPenalized >= gapPlain {
		t.Fatalf("penalty did not narrow the gap: %v vs %v", gapPenalized, gapPlain)
	}
}

func TestScenarioProfiles(t *testing.T) {
	cfg := DefaultTrainConfig()
	version, _ := trainSmall(t, 3000, cfg, synth.DefaultDistribution())

	risky := schema.FeatureVector{
		CreditUtilization: 90,
		PaymentHistory:    schema.PaymentSummary{Late: 5},
		AvgAccountAge:     1.0,
		AccountTypes:      map[schema.AccountType]int{schema.AccountCreditCard: 1},
		NegativeItems:     2,
	}
	healthy := schema.FeatureVector{
		CreditUtilization: 10,
		PaymentHistory:    schema.PaymentSummary{Late: 0},
		AvgAccountAge:     8.0,
		AccountTypes: map[schema.AccountType]int{
			schema.AccountCreditCard: 2,
			schema.AccountLoan:       1,
		},
		NegativeItems: 0,
	}

	riskyScore := version.Predict(risky)
	healthyScore := version.Predict(healthy)
	if riskyScore >= 650 {
		t.Fatalf("risky profile scored %d, want below 650", riskyScore)
	}
	if healthyScore <= 750 {
		t.Fatalf("healthy profile scored %d, want above 750", healthyScore)
	}
	if healthyScore <= riskyScore {
		t.Fatalf("ordering flipped: healthy %d vs risky %d", healthyScore, riskyScore)
	}
}

func TestInterruptAndResumeMatchesFullRun(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 30
	ds, err := synth.Generate(300, cfg.Seed, synth.DefaultDistribution())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	full, err := Train(context.Background(), ds, cfg, nil)
	if err != nil {
		t.Fatalf("full train: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	partial, err := Train(ctx, ds, cfg, func(m EpochMetrics) {
		if m.Epoch == 14 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if partial.Completed || partial.Checkpoint == nil {
		t.Fatalf("interrupted run missing checkpoint: %+v", partial.Completed)
	}
	if partial.Checkpoint.NextEpoch != 15 {
		t.Fatalf("expected resume at epoch 15, got %d", partial.Checkpoint.NextEpoch)
	}

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := partial.Checkpoint.Save(path); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}

	resumed, err := Resume(context.Background(), loaded, ds, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.Completed {
		t.Fatal("resumed run did not complete")
	}
	if !reflect.DeepEqual(full.Version.Net, resumed.Version.Net) {
		t.Fatal("resumed parameters differ from the uninterrupted run")
	}
	if len(resumed.History) != cfg.Epochs {
		t.Fatalf("resumed history has %d epochs, want %d", len(resumed.History), cfg.Epochs)
	}
	for i := range resumed.History {
		if resumed.History[i].Epoch != i {
			t.Fatalf("history entry %d labeled epoch %d", i, resumed.History[i].Epoch)
		}
		if resumed.History[i].RMSE != full.History[i].RMSE {
			t.Fatalf("epoch %d RMSE diverged after resume: %v vs %v",
				i, resumed.History[i].RMSE, full.History[i].RMSE)
		}
	}
}

func TestResumeRejectsForeignDataset(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 10
	ds, err := synth.Generate(200, cfg.Seed, synth.DefaultDistribution())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	partial, err := Train(ctx, ds, cfg, func(m EpochMetrics) {
		if m.Epoch == 4 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	other, err := synth.Generate(200, cfg.Seed+9, synth.DefaultDistribution())
	if err != nil {
		t.Fatalf("generate other: %v", err)
	}
	if _, err := Resume(context.Background(), partial.Checkpoint, other, nil); err == nil {
		t.Fatal("expected dataset mismatch error")
	}
}

func TestTrainConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainConfig)
		ok     bool
	}{
		{"default", func(c *TrainConfig) {}, true},
		{"zero epochs", func(c *TrainConfig) { c.Epochs = 0 }, false},
		{"zero batch", func(c *TrainConfig) { c.BatchSize = 0 }, false},
		{"negative rate", func(c *TrainConfig) { c.LearningRate = -1 }, false},
		{"nan rate", func(c *TrainConfig) { c.LearningRate = math.NaN() }, false},
		{"negative lambda", func(c *TrainConfig) { c.Lambda = -0.1 }, false},
		{"zero lambda ok", func(c *TrainConfig) { c.Lambda = 0 }, true},
		{"zero tolerance", func(c *TrainConfig) { c.Tolerance = 0 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
