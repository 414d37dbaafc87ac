package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

// GroupLabel is a synthetic demographic proxy bucket. It exists only on
// generated samples for fairness measurement and is never a model input.
type GroupLabel string

// GroupShare assigns a sampling weight to one proxy group.
type GroupShare struct {
	Label  GroupLabel `json:"label" yaml:"label"`
	Weight float64    `json:"weight" yaml:"weight"`
}

// GroupDistribution describes how proxy groups are sampled and how strongly
// group membership tilts the feature draws. Shares are ordered so the same
// distribution always samples identically.
type GroupDistribution struct {
	Shares []GroupShare `json:"shares" yaml:"shares"`

	// Correlation in [0,1] scales the group-conditional feature shifts.
	// Zero makes groups statistically indistinguishable; one applies the
	// full tilt. The label function never reads the group, so any group
	// signal reaches the score only through the shifted features.
	Correlation float64 `json:"correlation" yaml:"correlation"`
}

// DefaultDistribution returns the region-bucket mix used when no explicit
// distribution is configured.
func DefaultDistribution() GroupDistribution {
	return GroupDistribution{
		Shares: []GroupShare{
			{Label: "region_north", Weight: 0.40},
			{Label: "region_central", Weight: 0.35},
			{Label: "region_south", Weight: 0.25},
		},
		Correlation: 0.5,
	}
}

// Validate checks the distribution is usable for sampling.
func (d GroupDistribution) Validate() error {
	if len(d.Shares) == 0 {
		return errors.New("group distribution has no shares")
	}
	if d.Correlation < 0 || d.Correlation > 1 {
		return fmt.Errorf("correlation %v outside [0,1]", d.Correlation)
	}
	seen := make(map[GroupLabel]struct{}, len(d.Shares))
	total := 0.0
	for _, share := range d.Shares {
		if share.Label == "" {
			return errors.New("group share with empty label")
		}
		if _, ok := seen[share.Label]; ok {
			return fmt.Errorf("duplicate group label %q", share.Label)
		}
		seen[share.Label] = struct{}{}
		if share.Weight <= 0 {
			return fmt.Errorf("group %q has non-positive weight", share.Label)
		}
		total += share.Weight
	}
	if total <= 0 {
		return errors.New("group weights sum to zero")
	}
	return nil
}

// Labels returns the group labels in share order.
func (d GroupDistribution) Labels() []GroupLabel {
	out := make([]GroupLabel, 0, len(d.Shares))
	for _, share := range d.Shares {
		out = append(out, share.Label)
	}
	return out
}

// Sample is one generated record: features, the deterministic label with
// bounded noise, and the proxy group.
type Sample struct {
	Features  schema.FeatureVector `json:"features"`
	TrueScore int                  `json:"true_score"`
	Group     GroupLabel           `json:"group"`
}

// Dataset is an ordered, finite sequence of synthetic samples. It is a pure
// function of (len(Samples), Seed, Distribution).
type Dataset struct {
	Samples      []Sample          `json:"samples"`
	Seed         uint64            `json:"seed"`
	Distribution GroupDistribution `json:"distribution"`
}

// Len returns the number of samples.
func (d Dataset) Len() int { return len(d.Samples) }

// Groups returns the distinct group labels present, sorted.
func (d Dataset) Groups() []GroupLabel {
	seen := make(map[GroupLabel]struct{})
	for _, s := range d.Samples {
		seen[s.Group] = struct{}{}
	}
	out := make([]GroupLabel, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

const (
	labelNoiseSigma = 15.0
	labelNoiseBound = 40.0
)

// Generate produces n samples from an explicit seeded generator. Identical
// (n, seed, dist) arguments always yield a byte-identical dataset; the field
// draw order inside a sample is part of that contract.
func Generate(n int, seed uint64, dist GroupDistribution) (Dataset, error) {
	if n <= 0 {
		return Dataset{}, errors.New("sample count must be positive")
	}
	if err := dist.Validate(); err != nil {
		return Dataset{}, fmt.Errorf("group distribution: %w", err)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, drawSample(rng, dist))
	}
	return Dataset{Samples: samples, Seed: seed, Distribution: dist}, nil
}

// Pair generates training and evaluation splits with disjoint seeds.
func Pair(trainN, evalN int, seed uint64, dist GroupDistribution) (Dataset, Dataset, error) {
	train, err := Generate(trainN, seed, dist)
	if err != nil {
		return Dataset{}, Dataset{}, fmt.Errorf("training split: %w", err)
	}
	eval, err := Generate(evalN, seed+1, dist)
	if err != nil {
		return Dataset{}, Dataset{}, fmt.Errorf("evaluation split: %w", err)
	}
	return train, eval, nil
}

func drawSample(rng *rand.Rand, dist GroupDistribution) Sample {
	idx := pickGroup(rng, dist.Shares)
	tilt := dist.Correlation * groupOffset(idx, len(dist.Shares))

	// The group signal enters through utilization and account age only.
	// Payment behavior and negative items stay group-neutral, so a scorer
	// can stay accurate on them while a fairness penalty flattens the
	// group-correlated directions.
	utilization := clampF(100*sampleBeta(rng, 2.0, 4.2)+14*tilt, 0, 100)

	late := clampI(sampleZeroInflatedPoisson(rng, 0.55, 1.7), 0, 12)

	age := clampF(sampleLogNormal(rng, 1.65, 0.55)*(1-0.25*tilt), 0.3, 45)

	creditCards := clampI(1+samplePoisson(rng, 1.1), 1, 9)
	loans := clampI(samplePoisson(rng, 0.7), 0, 6)
	mortgages := 0
	if rng.Float64() < 0.3 {
		mortgages = 1
	}
	others := clampI(samplePoisson(rng, 0.35), 0, 4)

	negatives := clampI(sampleZeroInflatedPoisson(rng, 0.68, 1.1), 0, 8)

	accounts := map[schema.AccountType]int{schema.AccountCreditCard: creditCards}
	if loans > 0 {
		accounts[schema.AccountLoan] = loans
	}
	if mortgages > 0 {
		accounts[schema.AccountMortgage] = mortgages
	}
	if others > 0 {
		accounts[schema.AccountOther] = others
	}

	features := schema.FeatureVector{
		CreditUtilization: round2(utilization),
		PaymentHistory:    schema.PaymentSummary{Late: late},
		AvgAccountAge:     round2(age),
		AccountTypes:      accounts,
		NegativeItems:     negatives,
	}

	noisy := baseScore(features) + boundedNormal(rng, labelNoiseSigma, labelNoiseBound)
	score := clampI(int(math.Round(noisy)), schema.ScoreMin, schema.ScoreMax)

	return Sample{
		Features:  features,
		TrueScore: score,
		Group:     dist.Shares[idx].Label,
	}
}

// baseScore is the deterministic part of the label. Each term is monotonic in
// the documented good direction: lower utilization, fewer late payments,
// older accounts, fewer negative items and a broader account mix never lower
// the expected score.
func baseScore(f schema.FeatureVector) float64 {
	score := 730.0
	score -= 2.2 * f.CreditUtilization
	score -= 26 * float64(f.PaymentHistory.Late)
	score += 8 * math.Min(f.AvgAccountAge, 20)
	score -= 32 * float64(f.NegativeItems)
	score += 10 * math.Min(float64(f.TotalAccounts()), 5)
	return score
}

func pickGroup(rng *rand.Rand, shares []GroupShare) int {
	total := 0.0
	for _, share := range shares {
		total += share.Weight
	}
	target := rng.Float64() * total
	cumulative := 0.0
	for i, share := range shares {
		cumulative += share.Weight
		if target < cumulative {
			return i
		}
	}
	return len(shares) - 1
}

// groupOffset spreads groups across [-1, 1] in share order: the first group
// receives the favorable tilt, the last the unfavorable one.
func groupOffset(idx, count int) float64 {
	if count <= 1 {
		return 0
	}
	return 2*float64(idx)/float64(count-1) - 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
