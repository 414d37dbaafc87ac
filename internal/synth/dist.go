package synth

import (
	"math"
	"math/rand/v2"
)

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze
// rejection. Shapes below one are boosted through the Gamma(shape+1) identity.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		return sampleGamma(rng, shape+1) * math.Pow(rng.Float64(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleBeta draws from Beta(a, b) via the two-gamma ratio.
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	x := sampleGamma(rng, a)
	y := sampleGamma(rng, b)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// samplePoisson draws from Poisson(lambda) with Knuth's product method,
// which is exact and fast for the small rates used here.
func samplePoisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	limit := math.Exp(-lambda)
	p := 1.0
	k := 0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

// sampleZeroInflatedPoisson returns zero with probability p0 and otherwise
// draws from Poisson(lambda).
func sampleZeroInflatedPoisson(rng *rand.Rand, p0, lambda float64) int {
	if rng.Float64() < p0 {
		return 0
	}
	return samplePoisson(rng, lambda)
}

// sampleLogNormal draws exp(N(mu, sigma)).
func sampleLogNormal(rng *rand.Rand, mu, sigma float64) float64 {
	return math.Exp(mu + sigma*rng.NormFloat64())
}

// boundedNormal draws N(0, sigma) truncated by clamping to [-bound, bound].
func boundedNormal(rng *rand.Rand, sigma, bound float64) float64 {
	return clampF(rng.NormFloat64()*sigma, -bound, bound)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
