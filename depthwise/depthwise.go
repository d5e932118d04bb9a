// Package depthwise exposes the depthwise convolution kernel and its
// supporting I/O for use outside this module.
package depthwise

import (
	"github.com/FlavioCFOliveira/GoDepthwise/internal/activations"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/verify"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/weights"
)

// Re-export common types and functions for easier access
type (
	Tensor     = tensor.Tensor
	Config     = layer.Config
	Padding    = layer.Padding
	Layer      = layer.DepthwiseConv2D
	Device     = layer.Device
	Activation = activations.Activation
	Store      = weights.Store
	Kernel     = weights.Kernel
	Tolerance  = verify.Tolerance
	Report     = verify.Report
	Case       = tensorio.Case
)

const (
	PaddingValid = layer.PaddingValid
	PaddingSame  = layer.PaddingSame
)

// Error kinds
var (
	ErrShapeMismatch        error = layer.ErrShapeMismatch
	ErrInvalidConfiguration error = layer.ErrInvalidConfiguration
	ErrLayerNotFound              = weights.ErrLayerNotFound
)

var DefaultTolerance = verify.DefaultTolerance

// Tensors
func NewTensor(shape ...int) *Tensor {
	return tensor.New(shape...)
}

func FromData(data []float32, shape ...int) (*Tensor, error) {
	return tensor.FromData(data, shape...)
}

func DefaultConfig() Config {
	return layer.DefaultConfig()
}

// Conv2D computes a depthwise convolution of an NHWC input with (kh, kw, C, M)
// weights. bias may be nil.
func Conv2D(input, weights *Tensor, bias []float32, cfg Config) (*Tensor, error) {
	return layer.Forward(input, weights, bias, cfg)
}

// Conv2DOn is Conv2D using the workers of dev.
func Conv2DOn(dev Device, input, weights *Tensor, bias []float32, cfg Config) (*Tensor, error) {
	return layer.ForwardOn(dev, input, weights, bias, cfg)
}

func OutputShape(inShape, wShape []int, cfg Config) ([]int, error) {
	return layer.OutputShape(inShape, wShape, cfg)
}

func NewLayer(name string, weights *Tensor, bias []float32, cfg Config) (*Layer, error) {
	return layer.NewDepthwiseConv2D(name, weights, bias, cfg)
}

func CPU(threads int) Device {
	return layer.NewCPUDevice(threads)
}

// Activations
func ActivationByName(name string) (Activation, error) {
	return activations.ByName(name)
}

func Activate(act Activation, t *Tensor) *Tensor {
	return activations.Apply(act, t)
}

// Weights
func OpenWeights(path string) (Store, error) {
	return weights.Open(path)
}

func SaveWeights(path string, kernels []*Kernel, half bool) error {
	return weights.Save(path, kernels, half)
}

// Tensor files
func LoadNpy(path string) (*Tensor, error) {
	return tensorio.LoadNpy(path)
}

func SaveNpy(path string, t *Tensor) error {
	return tensorio.SaveNpy(path, t)
}

func LoadCase(path string) (*Case, error) {
	return tensorio.LoadCase(path)
}

// Comparison
func Allclose(actual, expected *Tensor, tol Tolerance) (Report, error) {
	return verify.Allclose(actual, expected, tol)
}
