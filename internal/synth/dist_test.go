package synth

import (
	"math"
	"math/rand/v2"
	"testing"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(99, 17))
}

func TestSamplerMoments(t *testing.T) {
	const n = 20000
	rng := testRNG()

	tests := []struct {
		name      string
		draw      func() float64
		mean      float64
		tolerance float64
	}{
		{"beta", func() float64 { return sampleBeta(rng, 2.0, 4.2) }, 2.0 / 6.2, 0.02},
		{"poisson", func() float64 { return float64(samplePoisson(rng, 1.1)) }, 1.1, 0.1},
		{"zero inflated poisson", func() float64 { return float64(sampleZeroInflatedPoisson(rng, 0.55, 1.7)) }, 0.45 * 1.7, 0.1},
		{"log normal", func() float64 { return sampleLogNormal(rng, 1.65, 0.55) }, math.Exp(1.65 + 0.55*0.55/2), 0.4},
		{"bounded normal", func() float64 { return boundedNormal(rng, 15, 40) }, 0, 1.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += tc.draw()
			}
			got := sum / n
			if math.Abs(got-tc.mean) > tc.tolerance {
				t.Fatalf("empirical mean %v, want %v within %v", got, tc.mean, tc.tolerance)
			}
		})
	}
}

func TestSamplerSupports(t *testing.T) {
	rng := testRNG()
	for i := 0; i < 5000; i++ {
		if v := sampleBeta(rng, 2.0, 4.2); v < 0 || v > 1 {
			t.Fatalf("beta draw %v outside [0,1]", v)
		}
		if v := samplePoisson(rng, 1.1); v < 0 {
			t.Fatalf("negative poisson draw %d", v)
		}
		if v := sampleLogNormal(rng, 1.65, 0.55); v <= 0 {
			t.Fatalf("non-positive log normal draw %v", v)
		}
		if v := boundedNormal(rng, 15, 40); math.Abs(v) > 40 {
			t.Fatalf("bounded normal draw %v escaped the bound", v)
		}
	}
}

func TestZeroInflationShare(t *testing.T) {
	rng := testRNG()
	const n = 20000
	zeros := 0
	for i := 0; i < n; i++ {
		if sampleZeroInflatedPoisson(rng, 0.55, 1.7) == 0 {
			zeros++
		}
	}
	// Structural zeros plus the Poisson mass at zero.
	want := 0.55 + 0.45*math.Exp(-1.7)
	got := float64(zeros) / n
	if math.Abs(got-want) > 0.02 {
		t.Fatalf("zero share %v, want about %v", got, want)
	}
}
