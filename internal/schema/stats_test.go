package schema

import (
	"math"
	"testing"
)

func TestComputeStats(t *testing.T) {
	rows := [][]float64{
		{10, 0},
		{20, 0},
		{30, 0},
	}
	stats, err := ComputeStats(rows)
	if err != nil {
		t.Fatalf("compute stats: %v", err)
	}
	if stats.Mean[0] != 20 {
		t.Fatalf("expected mean 20 got %v", stats.Mean[0])
	}
	if stats.Std[1] != 1 {
		t.Fatalf("expected constant feature std forced to 1, got %v", stats.Std[1])
	}
	if err := stats.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestComputeStatsRejectsRaggedRows(t *testing.T) {
	if _, err := ComputeStats([][]float64{{1, 2}, {1}}); err == nil {
		t.Fatalf("expected ragged rows to be rejected")
	}
	if _, err := ComputeStats(nil); err == nil {
		t.Fatalf("expected empty input to be rejected")
	}
}

func TestNormalizeClampsHostileInputs(t *testing.T) {
	stats := Stats{Mean: []float64{50}, Std: []float64{10}}

	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"centered", 50, 0},
		{"one sigma", 60, 1},
		{"huge positive", 1e12, zClamp},
		{"huge negative", -1e12, -zClamp},
		{"nan", math.NaN(), 0},
		{"positive inf", math.Inf(1), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := stats.Normalize([]float64{tc.input})[0]
			if got != tc.expected {
				t.Fatalf("expected %v got %v", tc.expected, got)
			}
		})
	}
}
