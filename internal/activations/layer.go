package activations

import "github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"

// Layer applies an activation elementwise. It has no parameters.
type Layer struct {
	name string
	act  Activation
}

func NewLayer(name string, act Activation) *Layer {
	return &Layer{name: name, act: act}
}

func (l *Layer) Name() string { return l.name }

func (l *Layer) Activation() Activation { return l.act }

func (l *Layer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return Apply(l.act, x), nil
}

func (l *Layer) OutputShape(inputShape []int) ([]int, error) {
	return append([]int(nil), inputShape...), nil
}

func (l *Layer) ParamCount() int { return 0 }
