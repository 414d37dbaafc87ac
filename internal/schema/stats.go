package schema

import (
	"errors"
	"fmt"
	"math"
)

// zClamp bounds normalized values so far-out-of-distribution inputs cannot
// push the model into non-finite territory. Clamping is flat beyond the bound,
// which preserves weak monotonicity.
const zClamp = 12.0

// Stats holds per-feature normalization statistics. They are computed once
// from the training split and frozen into the model version; inference never
// recomputes them.
type Stats struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// ComputeStats derives z-score statistics from encoded training rows.
func ComputeStats(rows [][]float64) (Stats, error) {
	if len(rows) == 0 {
		return Stats{}, errors.New("no rows to compute statistics from")
	}
	dim := len(rows[0])
	if dim == 0 {
		return Stats{}, errors.New("rows have zero width")
	}

	mean := make([]float64, dim)
	for _, row := range rows {
		if len(row) != dim {
			return Stats{}, fmt.Errorf("row width %d does not match %d", len(row), dim)
		}
		for i, v := range row {
			mean[i] += v
		}
	}
	n := float64(len(rows))
	for i := range mean {
		mean[i] /= n
	}

	std := make([]float64, dim)
	for _, row := range rows {
		for i, v := range row {
			d := v - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
		if std[i] < 1e-9 {
			// Constant feature: unit scale keeps the z-score at zero.
			std[i] = 1
		}
	}

	return Stats{Mean: mean, Std: std}, nil
}

// Dim reports the feature width the statistics were computed over.
func (s Stats) Dim() int {
	return len(s.Mean)
}

// Validate checks internal consistency of the statistics.
func (s Stats) Validate() error {
	if len(s.Mean) == 0 {
		return errors.New("stats have no mean values")
	}
	if len(s.Mean) != len(s.Std) {
		return fmt.Errorf("mean width %d does not match std width %d", len(s.Mean), len(s.Std))
	}
	for i := range s.Mean {
		if !isFinite(s.Mean[i]) || !isFinite(s.Std[i]) || s.Std[i] <= 0 {
			return fmt.Errorf("invalid statistics at position %d", i)
		}
	}
	return nil
}

// Normalize rescales an encoded row to frozen z-scores. Non-finite inputs
// collapse to the mean and every value is clamped to a wide safe band.
func (s Stats) Normalize(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		if i >= len(s.Mean) {
			break
		}
		if !isFinite(v) {
			out[i] = 0
			continue
		}
		z := (v - s.Mean[i]) / s.Std[i]
		if z > zClamp {
			z = zClamp
		} else if z < -zClamp {
			z = -zClamp
		}
		out[i] = z
	}
	return out
}
