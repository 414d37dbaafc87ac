package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

const scoreSpan = float64(schema.ScoreMax - schema.ScoreMin)

// goodDirection flips each encoded feature so that larger always means a
// healthier profile: utilization, late payments and negative items count
// against the score, account age and account counts in its favor. The order
// matches schema.FeatureNames.
var goodDirection = [schema.FeatureDim]float64{-1, -1, 1, -1, 1, 1, 1, 1}

// Version is an immutable trained model. Construction happens only through
// training or decoding a persisted record; callers pass versions around
// explicitly instead of mutating shared state. Predict is safe for
// concurrent use.
type Version struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Config    TrainConfig    `json:"config"`
	Stats     schema.Stats   `json:"stats"`
	Net       *Network       `json:"net"`
	Final     EpochMetrics   `json:"final"`
	History   []EpochMetrics `json:"-"`
}

func newVersion(net *Network, stats schema.Stats, cfg TrainConfig, history []EpochMetrics) *Version {
	v := &Version{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		Stats:     stats,
		Net:       net,
		History:   history,
	}
	if len(history) > 0 {
		v.Final = history[len(history)-1]
	}
	return v
}

// RestoreVersion rebuilds a version from persisted parts, validating the
// network invariants and the statistics shape.
func RestoreVersion(id string, createdAt time.Time, cfg TrainConfig, stats schema.Stats, net *Network, final EpochMetrics) (*Version, error) {
	if id == "" {
		return nil, errors.New("empty version id")
	}
	if net == nil {
		return nil, errors.New("nil network")
	}
	if err := net.Validate(); err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	if err := stats.Validate(); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if stats.Dim() != schema.FeatureDim {
		return nil, fmt.Errorf("stats dimension %d, want %d", stats.Dim(), schema.FeatureDim)
	}
	return &Version{
		ID:        id,
		CreatedAt: createdAt,
		Config:    cfg,
		Stats:     stats,
		Net:       net,
		Final:     final,
	}, nil
}

// Predict scores a validated feature vector. The result is hard-clamped onto
// the score scale regardless of the network's output.
func (v *Version) Predict(f schema.FeatureVector) int {
	p := v.Net.forward(encodeInput(v.Stats, f))
	score := int(math.Round(schema.ScoreMin + scoreSpan*p))
	if score < schema.ScoreMin {
		return schema.ScoreMin
	}
	if score > schema.ScoreMax {
		return schema.ScoreMax
	}
	return score
}

// encodeInput normalizes a feature vector with the frozen statistics and
// maps it into good-direction space.
func encodeInput(stats schema.Stats, f schema.FeatureVector) []float64 {
	row := stats.Normalize(f.Vector())
	for i := range row {
		row[i] *= goodDirection[i]
	}
	return row
}

// scaleScore maps a score from [ScoreMin, ScoreMax] onto [0,1], the range
// the network is trained against.
func scaleScore(score int) float64 {
	return (float64(score) - schema.ScoreMin) / scoreSpan
}
