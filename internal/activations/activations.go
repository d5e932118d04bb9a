// Package activations provides the element-wise stage that may follow a
// depthwise convolution. The kernel itself never applies one.
package activations

import (
	"fmt"
	"math"
	"strings"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// Activation is an element-wise function.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64
}

// Linear is the identity.
type Linear struct{}

func (Linear) Activate(x float64) float64 { return x }

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReLU6 clips ReLU at 6, as used after depthwise blocks in MobileNet.
type ReLU6 struct{}

// Activate computes min(max(0, x), 6)
func (ReLU6) Activate(x float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 6:
		return 6
	default:
		return x
	}
}

// Sigmoid activation function.
type Sigmoid struct{}

// Activate computes 1 / (1 + e^-x)
func (s Sigmoid) Activate(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Tanh activation function.
type Tanh struct{}

func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// LeakyReLU passes negative inputs scaled by Alpha.
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// ELU is the exponential linear unit.
type ELU struct {
	Alpha float64
}

// NewELU creates an ELU with the given alpha value.
func NewELU(alpha float64) *ELU {
	return &ELU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*(e^x - 1)
func (e *ELU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return e.Alpha * (math.Exp(x) - 1)
}

// ByName resolves a Keras-style activation name. The empty string is linear.
func ByName(name string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear", "none":
		return Linear{}, nil
	case "relu":
		return ReLU{}, nil
	case "relu6":
		return ReLU6{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	case "leaky_relu":
		// Keras default negative slope
		return NewLeakyReLU(0.2), nil
	case "elu":
		return NewELU(1.0), nil
	default:
		return nil, fmt.Errorf("activations: unknown activation %q", name)
	}
}

// Apply returns a new tensor holding act applied to every element of t.
func Apply(act Activation, t *tensor.Tensor) *tensor.Tensor {
	out := t.Clone()
	if _, ok := act.(Linear); ok || act == nil {
		return out
	}
	for i, v := range out.Data {
		out.Data[i] = float32(act.Activate(float64(v)))
	}
	return out
}
