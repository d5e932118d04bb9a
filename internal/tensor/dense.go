package tensor

import (
	"fmt"

	dense "github.com/pdevine/tensor"
)

// Dense returns a dense tensor over a copy of t's data.
func (t *Tensor) Dense() *dense.Dense {
	backing := make([]float32, len(t.Data))
	copy(backing, t.Data)
	return dense.New(dense.WithShape(t.Shape...), dense.WithBacking(backing))
}

// FromDense copies a float32 or float64 dense tensor into a Tensor.
// Float64 values are narrowed to float32.
func FromDense(d *dense.Dense) (*Tensor, error) {
	shape := []int(d.Shape().Clone())
	var data []float32
	switch v := d.Data().(type) {
	case []float32:
		data = make([]float32, len(v))
		copy(data, v)
	case []float64:
		data = make([]float32, len(v))
		for i, f := range v {
			data[i] = float32(f)
		}
	case float32:
		data = []float32{v}
	case float64:
		data = []float32{float32(v)}
	default:
		return nil, fmt.Errorf("%w: unsupported element type %v", ErrShape, d.Dtype())
	}
	return FromData(data, shape...)
}
