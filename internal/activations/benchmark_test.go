// Package activations provides benchmarks for activation functions.
package activations

import (
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

func benchmarkApply(b *testing.B, act Activation) {
	t := tensor.New(1, 112, 112, 32)
	for i := range t.Data {
		t.Data[i] = rand.Float32()*12 - 6
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Apply(act, t)
	}
}

// BenchmarkApplyReLU6 benchmarks the MobileNet activation over a feature map.
func BenchmarkApplyReLU6(b *testing.B) { benchmarkApply(b, ReLU6{}) }

// BenchmarkApplySigmoid benchmarks an exp-based activation over a feature map.
func BenchmarkApplySigmoid(b *testing.B) { benchmarkApply(b, Sigmoid{}) }
