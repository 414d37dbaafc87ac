package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
	"github.com/krishkpatil/CreditUdaan/internal/util"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8

	// PCG stream selectors. Weight init and every epoch shuffle draw from
	// their own stream of the same seed, so a resumed run replays the exact
	// shuffles of an uninterrupted one.
	weightInitStream = 17
	epochShuffleBase = 1024
)

// TrainConfig holds every knob that influences the trained parameters.
// Two runs with equal configs over equal datasets produce identical networks.
type TrainConfig struct {
	Epochs       int     `json:"epochs" yaml:"epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Lambda       float64 `json:"lambda" yaml:"lambda"`
	Tolerance    float64 `json:"tolerance" yaml:"tolerance"`
	Seed         uint64  `json:"seed" yaml:"seed"`
}

// DefaultTrainConfig returns the settings the training CLI and API start from.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       300,
		BatchSize:    128,
		LearningRate: 0.005,
		Lambda:       1.5,
		Tolerance:    30,
		Seed:         42,
	}
}

// Validate checks the config is trainable.
func (c TrainConfig) Validate() error {
	if c.Epochs <= 0 {
		return errors.New("epochs must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0) {
		return errors.New("learning rate must be positive and finite")
	}
	if c.Lambda < 0 || math.IsNaN(c.Lambda) || math.IsInf(c.Lambda, 0) {
		return errors.New("lambda must be non-negative and finite")
	}
	if c.Tolerance <= 0 {
		return errors.New("fairness tolerance must be positive")
	}
	return nil
}

// EpochMetrics captures one epoch of training progress. RMSE and MaxGap are
// reported in score points, ParityPenalty on the scaled output the loss uses.
type EpochMetrics struct {
	Epoch         int     `json:"epoch"`
	RMSE          float64 `json:"rmse"`
	ParityPenalty float64 `json:"parity_penalty"`
	MaxGap        float64 `json:"max_gap"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// TrainResult is a finished or interrupted training run. Interrupted runs
// carry a checkpoint instead of a version.
type TrainResult struct {
	Version    *Version       `json:"version,omitempty"`
	History    []EpochMetrics `json:"history"`
	Completed  bool           `json:"completed"`
	Checkpoint *Checkpoint    `json:"checkpoint,omitempty"`
}

// Train fits a network on the dataset. Feature statistics are computed once
// from the training data and frozen into the resulting version. The context
// is honored at epoch boundaries; on cancellation the partial result carries
// a resumable checkpoint and the context error is returned.
func Train(ctx context.Context, ds synth.Dataset, cfg TrainConfig, progress func(EpochMetrics)) (TrainResult, error) {
	if err := cfg.Validate(); err != nil {
		return TrainResult{}, fmt.Errorf("train config: %w", err)
	}
	if ds.Len() == 0 {
		return TrainResult{}, errors.New("empty training dataset")
	}

	rows := make([][]float64, ds.Len())
	for i, s := range ds.Samples {
		rows[i] = s.Features.Vector()
	}
	stats, err := schema.ComputeStats(rows)
	if err != nil {
		return TrainResult{}, fmt.Errorf("feature stats: %w", err)
	}

	initRNG := rand.New(rand.NewPCG(cfg.Seed, weightInitStream))
	t := newTrainer(ds, cfg, stats, NewNetwork(initRNG), zeroNetwork(), zeroNetwork(), 0)
	return t.run(ctx, progress, 0, nil)
}

// Resume continues an interrupted run from its checkpoint. The same dataset
// that produced the checkpoint must be supplied; the combined history equals
// what an uninterrupted run would have produced.
func Resume(ctx context.Context, cp *Checkpoint, ds synth.Dataset, progress func(EpochMetrics)) (TrainResult, error) {
	if cp == nil {
		return TrainResult{}, errors.New("nil checkpoint")
	}
	if err := cp.Validate(); err != nil {
		return TrainResult{}, fmt.Errorf("checkpoint: %w", err)
	}
	if ds.Seed != cp.DataSeed || ds.Len() != cp.DataCount {
		return TrainResult{}, fmt.Errorf("dataset mismatch: checkpoint was built from seed %d with %d samples, got seed %d with %d",
			cp.DataSeed, cp.DataCount, ds.Seed, ds.Len())
	}
	t := newTrainer(ds, cp.Config, cp.Stats, cp.Net.Clone(), cp.OptM.Clone(), cp.OptV.Clone(), cp.Step)
	history := append([]EpochMetrics(nil), cp.History...)
	return t.run(ctx, progress, cp.NextEpoch, history)
}

type trainer struct {
	cfg   TrainConfig
	stats schema.Stats
	net   *Network

	// Adam first and second moments share the parameter shapes.
	optM *Network
	optV *Network
	step int

	inputs  [][]float64
	targets []float64
	groups  []int
	nGroups int

	dataSeed  uint64
	dataCount int
	dataDist  synth.GroupDistribution

	biasCorr1 float64
	biasCorr2 float64
}

func newTrainer(ds synth.Dataset, cfg TrainConfig, stats schema.Stats, net, optM, optV *Network, step int) *trainer {
	t := &trainer{
		cfg:       cfg,
		stats:     stats,
		net:       net,
		optM:      optM,
		optV:      optV,
		step:      step,
		inputs:    make([][]float64, ds.Len()),
		targets:   make([]float64, ds.Len()),
		groups:    make([]int, ds.Len()),
		dataSeed:  ds.Seed,
		dataCount: ds.Len(),
		dataDist:  ds.Distribution,
	}

	// Group indexes follow the distribution's share order, then first
	// appearance, so metrics are stable across runs.
	index := make(map[synth.GroupLabel]int)
	for _, share := range ds.Distribution.Shares {
		if _, ok := index[share.Label]; !ok {
			index[share.Label] = len(index)
		}
	}
	for i, s := range ds.Samples {
		if _, ok := index[s.Group]; !ok {
			index[s.Group] = len(index)
		}
		t.groups[i] = index[s.Group]
		t.inputs[i] = encodeInput(stats, s.Features)
		t.targets[i] = scaleScore(s.TrueScore)
	}
	t.nGroups = len(index)
	return t
}

func (t *trainer) run(ctx context.Context, progress func(EpochMetrics), startEpoch int, history []EpochMetrics) (TrainResult, error) {
	n := len(t.inputs)
	order := make([]int, n)

	for epoch := startEpoch; epoch < t.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return TrainResult{
				History:    history,
				Checkpoint: t.checkpoint(epoch, history),
			}, ctx.Err()
		default:
		}

		timer := util.StartTimer()
		for i := range order {
			order[i] = i
		}
		shuffleRNG := rand.New(rand.NewPCG(t.cfg.Seed, epochShuffleBase+uint64(epoch)))
		shuffleRNG.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		for lo := 0; lo < n; lo += t.cfg.BatchSize {
			hi := lo + t.cfg.BatchSize
			if hi > n {
				hi = n
			}
			t.trainBatch(order[lo:hi])
		}

		metrics := t.evaluate(epoch)
		metrics.ElapsedMs = timer.ElapsedMs()
		history = append(history, metrics)
		if progress != nil {
			progress(metrics)
		}
	}

	version := newVersion(t.net.Clone(), t.stats, t.cfg, history)
	return TrainResult{Version: version, History: history, Completed: true}, nil
}

// trainBatch runs one forward/backward pass over the batch and applies a
// single optimizer step. The parity term compares group means within the
// batch, so its gradient couples every sample sharing a group.
func (t *trainer) trainBatch(idx []int) {
	bn := len(idx)
	preds := make([]float64, bn)
	traces := make([]trace, bn)
	for k, i := range idx {
		preds[k] = t.net.forwardTrace(t.inputs[i], &traces[k])
	}

	groupSum := make([]float64, t.nGroups)
	groupN := make([]float64, t.nGroups)
	total := 0.0
	for k, i := range idx {
		g := t.groups[i]
		groupSum[g] += preds[k]
		groupN[g]++
		total += preds[k]
	}
	mean := total / float64(bn)

	// Sum of (mean_g - mean) over groups present in the batch, needed for
	// the shared part of the parity gradient.
	gapSum := 0.0
	for g := 0; g < t.nGroups; g++ {
		if groupN[g] > 0 {
			gapSum += groupSum[g]/groupN[g] - mean
		}
	}

	grad := zeroNetwork()
	for k, i := range idx {
		g := t.groups[i]
		dp := 2 * (preds[k] - t.targets[i]) / float64(bn)
		if t.cfg.Lambda > 0 && groupN[g] > 0 {
			groupMean := groupSum[g] / groupN[g]
			dp += t.cfg.Lambda * (2*(groupMean-mean)/groupN[g] - 2*gapSum/float64(bn))
		}
		t.backprop(t.inputs[i], traces[k], dp, grad)
	}
	t.adamStep(grad)
}

// backprop adds this sample's parameter gradients into grad. dp is the loss
// derivative with respect to the scaled prediction.
func (t *trainer) backprop(x []float64, tr trace, dp float64, grad *Network) {
	dz3 := dp * tr.p * (1 - tr.p)
	grad.B3 += dz3
	for i := range grad.W3 {
		grad.W3[i] += dz3 * tr.a2[i]
	}

	d2 := make([]float64, hidden2)
	for i := range d2 {
		if tr.a2[i] > 0 {
			d2[i] = dz3 * t.net.W3[i]
		}
	}
	for i := range d2 {
		if d2[i] == 0 {
			continue
		}
		grad.B2[i] += d2[i]
		row := grad.W2[i]
		for j, a := range tr.a1 {
			row[j] += d2[i] * a
		}
	}

	d1 := make([]float64, hidden1)
	for j := range d1 {
		if tr.a1[j] <= 0 {
			continue
		}
		sum := 0.0
		for i := range d2 {
			if d2[i] != 0 {
				sum += d2[i] * t.net.W2[i][j]
			}
		}
		d1[j] = sum
	}
	for i := range d1 {
		if d1[i] == 0 {
			continue
		}
		grad.B1[i] += d1[i]
		row := grad.W1[i]
		for j, v := range x {
			row[j] += d1[i] * v
		}
	}
}

// adamStep applies one Adam update and projects weights back onto the
// non-negative orthant. Biases stay unconstrained.
func (t *trainer) adamStep(grad *Network) {
	t.step++
	t.biasCorr1 = 1 - math.Pow(adamBeta1, float64(t.step))
	t.biasCorr2 = 1 - math.Pow(adamBeta2, float64(t.step))

	for i := range t.net.W1 {
		t.adamUpdate(t.net.W1[i], grad.W1[i], t.optM.W1[i], t.optV.W1[i], true)
	}
	t.adamUpdate(t.net.B1, grad.B1, t.optM.B1, t.optV.B1, false)
	for i := range t.net.W2 {
		t.adamUpdate(t.net.W2[i], grad.W2[i], t.optM.W2[i], t.optV.W2[i], true)
	}
	t.adamUpdate(t.net.B2, grad.B2, t.optM.B2, t.optV.B2, false)
	t.adamUpdate(t.net.W3, grad.W3, t.optM.W3, t.optV.W3, true)

	t.optM.B3 = adamBeta1*t.optM.B3 + (1-adamBeta1)*grad.B3
	t.optV.B3 = adamBeta2*t.optV.B3 + (1-adamBeta2)*grad.B3*grad.B3
	t.net.B3 -= t.cfg.LearningRate * (t.optM.B3 / t.biasCorr1) / (math.Sqrt(t.optV.B3/t.biasCorr2) + adamEps)
}

func (t *trainer) adamUpdate(w, g, m, v []float64, project bool) {
	for i := range w {
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g[i]
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g[i]*g[i]
		w[i] -= t.cfg.LearningRate * (m[i] / t.biasCorr1) / (math.Sqrt(v[i]/t.biasCorr2) + adamEps)
		if project && w[i] < 0 {
			w[i] = 0
		}
	}
}

// evaluate computes end-of-epoch metrics over the full training set.
func (t *trainer) evaluate(epoch int) EpochMetrics {
	n := len(t.inputs)
	groupSum := make([]float64, t.nGroups)
	groupN := make([]float64, t.nGroups)
	sqErr := 0.0
	total := 0.0
	for i, x := range t.inputs {
		p := t.net.forward(x)
		d := p - t.targets[i]
		sqErr += d * d
		total += p
		groupSum[t.groups[i]] += p
		groupN[t.groups[i]]++
	}
	mean := total / float64(n)

	penalty := 0.0
	var means []float64
	for g := 0; g < t.nGroups; g++ {
		if groupN[g] == 0 {
			continue
		}
		gm := groupSum[g] / groupN[g]
		penalty += (gm - mean) * (gm - mean)
		means = append(means, gm)
	}
	maxGap := 0.0
	for i := 0; i < len(means); i++ {
		for j := i + 1; j < len(means); j++ {
			if gap := math.Abs(means[i] - means[j]); gap > maxGap {
				maxGap = gap
			}
		}
	}

	return EpochMetrics{
		Epoch:         epoch,
		RMSE:          math.Sqrt(sqErr/float64(n)) * scoreSpan,
		ParityPenalty: penalty,
		MaxGap:        maxGap * scoreSpan,
	}
}

func (t *trainer) checkpoint(nextEpoch int, history []EpochMetrics) *Checkpoint {
	return &Checkpoint{
		FormatVersion: checkpointFormat,
		Config:        t.cfg,
		Stats:         t.stats,
		Net:           t.net.Clone(),
		OptM:          t.optM.Clone(),
		OptV:          t.optV.Clone(),
		Step:          t.step,
		NextEpoch:     nextEpoch,
		History:       append([]EpochMetrics(nil), history...),
		DataSeed:      t.dataSeed,
		DataCount:     t.dataCount,
		Distribution:  t.dataDist,
	}
}
