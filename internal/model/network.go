package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

// Layer widths of the scoring network. Inputs are the normalized feature
// encoding, the single output is squashed onto the score scale.
const (
	inputDim  = schema.FeatureDim
	hidden1   = 32
	hidden2   = 16
	initScale = 0.2
)

// Network is a small feed-forward regressor. All weight entries are kept
// non-negative (biases are unconstrained) and both activations are
// non-decreasing, so the output can never decrease when an input increases.
// Combined with the good-direction input encoding this makes predictions
// provably monotonic in every feature.
type Network struct {
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`
	W3 []float64   `json:"w3"`
	B3 float64     `json:"b3"`
}

// NewNetwork builds a network with deterministic non-negative initial weights
// drawn from the given generator.
func NewNetwork(rng *rand.Rand) *Network {
	n := zeroNetwork()
	for i := range n.W1 {
		for j := range n.W1[i] {
			n.W1[i][j] = rng.Float64() * initScale
		}
	}
	for i := range n.W2 {
		for j := range n.W2[i] {
			n.W2[i][j] = rng.Float64() * initScale
		}
	}
	for i := range n.W3 {
		n.W3[i] = rng.Float64() * initScale
	}
	// Start near the middle of the score scale instead of its ceiling.
	n.B3 = -0.2
	return n
}

// zeroNetwork allocates all parameter slices at the fixed layer widths. It is
// also used for optimizer moment buffers, which share the parameter shapes.
func zeroNetwork() *Network {
	n := &Network{
		W1: make([][]float64, hidden1),
		B1: make([]float64, hidden1),
		W2: make([][]float64, hidden2),
		B2: make([]float64, hidden2),
		W3: make([]float64, hidden2),
	}
	for i := range n.W1 {
		n.W1[i] = make([]float64, inputDim)
	}
	for i := range n.W2 {
		n.W2[i] = make([]float64, hidden1)
	}
	return n
}

// validateShape checks the parameter dimensions only. Optimizer moment
// buffers reuse this without the sign constraint.
func (n *Network) validateShape() error {
	if len(n.W1) != hidden1 || len(n.B1) != hidden1 {
		return fmt.Errorf("layer 1 shape %dx%d, want %d", len(n.W1), len(n.B1), hidden1)
	}
	for i, row := range n.W1 {
		if len(row) != inputDim {
			return fmt.Errorf("layer 1 row %d width %d, want %d", i, len(row), inputDim)
		}
	}
	if len(n.W2) != hidden2 || len(n.B2) != hidden2 {
		return fmt.Errorf("layer 2 shape %dx%d, want %d", len(n.W2), len(n.B2), hidden2)
	}
	for i, row := range n.W2 {
		if len(row) != hidden1 {
			return fmt.Errorf("layer 2 row %d width %d, want %d", i, len(row), hidden1)
		}
	}
	if len(n.W3) != hidden2 {
		return fmt.Errorf("output layer width %d, want %d", len(n.W3), hidden2)
	}
	return nil
}

// Validate checks the parameter shapes, finiteness and the non-negative
// weight invariant. Networks loaded from disk pass through here.
func (n *Network) Validate() error {
	if err := n.validateShape(); err != nil {
		return err
	}
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s holds non-finite value", name)
		}
		return nil
	}
	for i, row := range n.W1 {
		for j, v := range row {
			if err := check("w1", v); err != nil {
				return err
			}
			if v < 0 {
				return fmt.Errorf("w1[%d][%d] is negative", i, j)
			}
		}
	}
	for i, row := range n.W2 {
		for j, v := range row {
			if err := check("w2", v); err != nil {
				return err
			}
			if v < 0 {
				return fmt.Errorf("w2[%d][%d] is negative", i, j)
			}
		}
	}
	for i, v := range n.W3 {
		if err := check("w3", v); err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("w3[%d] is negative", i)
		}
	}
	for _, v := range n.B1 {
		if err := check("b1", v); err != nil {
			return err
		}
	}
	for _, v := range n.B2 {
		if err := check("b2", v); err != nil {
			return err
		}
	}
	return check("b3", n.B3)
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	c := zeroNetwork()
	for i := range n.W1 {
		copy(c.W1[i], n.W1[i])
	}
	copy(c.B1, n.B1)
	for i := range n.W2 {
		copy(c.W2[i], n.W2[i])
	}
	copy(c.B2, n.B2)
	copy(c.W3, n.W3)
	c.B3 = n.B3
	return c
}

// trace holds the forward activations needed for the backward pass. The ReLU
// masks are recovered from the activations themselves.
type trace struct {
	a1 []float64
	a2 []float64
	p  float64
}

// forward computes the scaled prediction p in (0,1); the score is
// ScoreMin + span*p.
func (n *Network) forward(x []float64) float64 {
	return n.forwardTrace(x, nil)
}

// forwardTrace runs the forward pass, optionally filling tr for backprop.
func (n *Network) forwardTrace(x []float64, tr *trace) float64 {
	a1 := make([]float64, hidden1)
	for i := range n.W1 {
		sum := n.B1[i]
		row := n.W1[i]
		for j, v := range x {
			sum += row[j] * v
		}
		if sum > 0 {
			a1[i] = sum
		}
	}
	a2 := make([]float64, hidden2)
	for i := range n.W2 {
		sum := n.B2[i]
		row := n.W2[i]
		for j, v := range a1 {
			sum += row[j] * v
		}
		if sum > 0 {
			a2[i] = sum
		}
	}
	z3 := n.B3
	for i, v := range a2 {
		z3 += n.W3[i] * v
	}
	p := sigmoid(z3)
	if tr != nil {
		tr.a1 = a1
		tr.a2 = a2
		tr.p = p
	}
	return p
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
