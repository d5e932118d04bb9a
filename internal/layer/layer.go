// Package layer provides the depthwise 2-D convolution kernel and the layer
// types built on it.
package layer

import "github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"

// Layer is a stateless transformation of an NHWC tensor.
type Layer interface {
	Name() string
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	OutputShape(inputShape []int) ([]int, error)
	ParamCount() int
}

var _ Layer = (*DepthwiseConv2D)(nil)
