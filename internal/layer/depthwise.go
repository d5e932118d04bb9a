package layer

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/logutil"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// Padding selects how the sliding window treats the input border.
type Padding string

const (
	// PaddingValid uses no padding; the output shrinks by the kernel size.
	PaddingValid Padding = "valid"
	// PaddingSame zero-pads so that output = ceil(input / stride).
	PaddingSame Padding = "same"
)

// ParsePadding accepts "valid" or "same" in any case.
func ParsePadding(s string) (Padding, error) {
	switch p := Padding(strings.ToLower(strings.TrimSpace(s))); p {
	case PaddingValid, PaddingSame:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown padding mode %q", ErrInvalidConfiguration, s)
	}
}

// Config holds the non-weight parameters of a depthwise convolution.
type Config struct {
	StrideH int
	StrideW int
	Padding Padding
}

// DefaultConfig returns stride (1, 1) with valid padding.
func DefaultConfig() Config {
	return Config{StrideH: 1, StrideW: 1, Padding: PaddingValid}
}

func (c Config) validate() error {
	if c.StrideH <= 0 || c.StrideW <= 0 {
		return fmt.Errorf("%w: stride must be positive, got (%d, %d)", ErrInvalidConfiguration, c.StrideH, c.StrideW)
	}
	if c.Padding != PaddingValid && c.Padding != PaddingSame {
		return fmt.Errorf("%w: unknown padding mode %q", ErrInvalidConfiguration, c.Padding)
	}
	return nil
}

// geometry is the resolved shape of one forward pass.
type geometry struct {
	batch, inH, inW, channels int
	kernelH, kernelW          int
	multiplier                int
	outH, outW                int
	strideH, strideW          int
	padTop, padLeft           int
}

// computeOutputSize resolves output spatial dims and leading padding for one axis.
func computeOutputSize(in, kernel, stride int, padding Padding) (out, padBefore int) {
	if padding == PaddingSame {
		out = (in + stride - 1) / stride
		total := (out-1)*stride + kernel - in
		if total < 0 {
			total = 0
		}
		// Odd padding goes on the trailing edge.
		return out, total / 2
	}
	return (in-kernel)/stride + 1, 0
}

// plan validates shapes and configuration and returns the pass geometry.
func plan(inShape, wShape []int, biasLen int, cfg Config) (geometry, error) {
	var g geometry
	if err := cfg.validate(); err != nil {
		return g, err
	}
	if len(inShape) != 4 {
		return g, fmt.Errorf("%w: input must be rank 4 (N, H, W, C), got %v", ErrShapeMismatch, inShape)
	}
	if len(wShape) != 4 {
		return g, fmt.Errorf("%w: weights must be rank 4 (kh, kw, C, M), got %v", ErrShapeMismatch, wShape)
	}

	g = geometry{
		batch: inShape[0], inH: inShape[1], inW: inShape[2], channels: inShape[3],
		kernelH: wShape[0], kernelW: wShape[1], multiplier: wShape[3],
		strideH: cfg.StrideH, strideW: cfg.StrideW,
	}
	if g.kernelH <= 0 || g.kernelW <= 0 {
		return g, fmt.Errorf("%w: kernel size must be positive, got (%d, %d)", ErrInvalidConfiguration, g.kernelH, g.kernelW)
	}
	if g.multiplier <= 0 {
		return g, fmt.Errorf("%w: depth multiplier must be positive, got %d", ErrInvalidConfiguration, g.multiplier)
	}
	if wShape[2] != g.channels {
		return g, fmt.Errorf("%w: weights have %d channels, input has %d", ErrShapeMismatch, wShape[2], g.channels)
	}
	if biasLen != 0 && biasLen != g.channels*g.multiplier {
		return g, fmt.Errorf("%w: bias has %d values, want %d", ErrShapeMismatch, biasLen, g.channels*g.multiplier)
	}
	if cfg.Padding == PaddingValid && (g.kernelH > g.inH || g.kernelW > g.inW) {
		return g, fmt.Errorf("%w: kernel (%d, %d) larger than input (%d, %d) with valid padding",
			ErrInvalidConfiguration, g.kernelH, g.kernelW, g.inH, g.inW)
	}

	g.outH, g.padTop = computeOutputSize(g.inH, g.kernelH, g.strideH, cfg.Padding)
	g.outW, g.padLeft = computeOutputSize(g.inW, g.kernelW, g.strideW, cfg.Padding)
	return g, nil
}

func (g geometry) outputShape() []int {
	return []int{g.batch, g.outH, g.outW, g.channels * g.multiplier}
}

// OutputShape returns the output shape for an input and weight shape without
// running the convolution.
func OutputShape(inShape, wShape []int, cfg Config) ([]int, error) {
	g, err := plan(inShape, wShape, 0, cfg)
	if err != nil {
		return nil, err
	}
	return g.outputShape(), nil
}

// Forward computes a depthwise convolution on the default device.
// input is (N, H, W, C), weights is (kh, kw, C, M) and bias, when non-nil,
// has C*M values. The result is a new (N, H', W', C*M) tensor.
func Forward(input, weights *tensor.Tensor, bias []float32, cfg Config) (*tensor.Tensor, error) {
	return ForwardOn(GetDefaultDevice(), input, weights, bias, cfg)
}

// parallelThreshold is the multiply-accumulate count below which a pass stays
// on the calling goroutine.
const parallelThreshold = 1 << 14

// ForwardOn computes a depthwise convolution using up to dev.Workers() goroutines.
func ForwardOn(dev Device, input, weights *tensor.Tensor, bias []float32, cfg Config) (*tensor.Tensor, error) {
	return forward(dev, input, weights, bias, cfg, parallelThreshold)
}

// forward runs serially when the pass has fewer than minMACs multiply-accumulates.
func forward(dev Device, input, weights *tensor.Tensor, bias []float32, cfg Config, minMACs int) (*tensor.Tensor, error) {
	if input == nil || weights == nil {
		return nil, fmt.Errorf("%w: nil input or weights", ErrShapeMismatch)
	}
	if err := input.Valid(); err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrShapeMismatch, err)
	}
	if err := weights.Valid(); err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrShapeMismatch, err)
	}
	if len(bias) == 0 {
		bias = nil
	}
	g, err := plan(input.Shape, weights.Shape, len(bias), cfg)
	if err != nil {
		return nil, err
	}

	output := tensor.New(g.outputShape()...)
	rows := g.batch * g.outH
	if rows == 0 || g.outW == 0 || g.channels == 0 {
		return output, nil
	}

	workers := 1
	if dev != nil {
		workers = dev.Workers()
	}
	macs := rows * g.outW * g.channels * g.multiplier * g.kernelH * g.kernelW
	if workers > rows {
		workers = rows
	}

	logutil.Trace("depthwise forward", "rows", rows, "workers", workers, "macs", macs)

	if workers <= 1 || macs < minMACs {
		acc := make([]float64, g.channels*g.multiplier)
		for r := 0; r < rows; r++ {
			g.computeRow(r, input.Data, weights.Data, bias, output.Data, acc)
		}
		return output, nil
	}

	// Each goroutine owns a contiguous block of output rows.
	var eg errgroup.Group
	eg.SetLimit(workers)
	chunk := (rows + workers - 1) / workers
	for start := 0; start < rows; start += chunk {
		end := min(start+chunk, rows)
		logutil.Trace("depthwise chunk", "start", start, "end", end)
		eg.Go(func() error {
			acc := make([]float64, g.channels*g.multiplier)
			for r := start; r < end; r++ {
				g.computeRow(r, input.Data, weights.Data, bias, output.Data, acc)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return output, nil
}

// computeRow fills output row r (batch r/outH, output row r%outH).
// acc is scratch of length C*M.
func (g geometry) computeRow(r int, in, w, bias, out []float32, acc []float64) {
	n, i := r/g.outH, r%g.outH
	cm := g.channels * g.multiplier
	m := g.multiplier

	for j := 0; j < g.outW; j++ {
		if bias != nil {
			for k := range acc {
				acc[k] = float64(bias[k])
			}
		} else {
			for k := range acc {
				acc[k] = 0
			}
		}

		for di := 0; di < g.kernelH; di++ {
			y := i*g.strideH + di - g.padTop
			if y < 0 || y >= g.inH {
				continue
			}
			for dj := 0; dj < g.kernelW; dj++ {
				x := j*g.strideW + dj - g.padLeft
				if x < 0 || x >= g.inW {
					continue
				}
				inBase := ((n*g.inH+y)*g.inW + x) * g.channels
				wBase := (di*g.kernelW + dj) * cm
				for c := 0; c < g.channels; c++ {
					xv := float64(in[inBase+c])
					wc := wBase + c*m
					ac := c * m
					for k := 0; k < m; k++ {
						acc[ac+k] += xv * float64(w[wc+k])
					}
				}
			}
		}

		outBase := ((n*g.outH+i)*g.outW + j) * cm
		for k, v := range acc {
			out[outBase+k] = float32(v)
		}
	}
}

// DepthwiseConv2D is one depthwise convolution layer: a fixed set of filters,
// an optional bias and the stride/padding they are applied with.
type DepthwiseConv2D struct {
	name    string
	config  Config
	weights *tensor.Tensor
	bias    []float32

	device Device
}

// NewDepthwiseConv2D checks weights, bias and cfg and returns a layer.
// weights is (kh, kw, C, M); bias may be nil.
func NewDepthwiseConv2D(name string, weights *tensor.Tensor, bias []float32, cfg Config) (*DepthwiseConv2D, error) {
	if weights == nil {
		return nil, fmt.Errorf("%w: layer %q has no weights", ErrShapeMismatch, name)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("layer %q: %w", name, err)
	}
	if weights.Rank() != 4 {
		return nil, fmt.Errorf("%w: layer %q weights must be rank 4 (kh, kw, C, M), got %v", ErrShapeMismatch, name, weights.Shape)
	}
	if err := weights.Valid(); err != nil {
		return nil, fmt.Errorf("%w: layer %q weights: %v", ErrShapeMismatch, name, err)
	}
	kh, kw, c, m := weights.Dim(0), weights.Dim(1), weights.Dim(2), weights.Dim(3)
	if kh <= 0 || kw <= 0 || m <= 0 {
		return nil, fmt.Errorf("%w: layer %q has kernel (%d, %d) and multiplier %d", ErrInvalidConfiguration, name, kh, kw, m)
	}
	if len(bias) == 0 {
		bias = nil
	}
	if bias != nil && len(bias) != c*m {
		return nil, fmt.Errorf("%w: layer %q bias has %d values, want %d", ErrShapeMismatch, name, len(bias), c*m)
	}

	return &DepthwiseConv2D{
		name:    name,
		config:  cfg,
		weights: weights,
		bias:    bias,
		device:  GetDefaultDevice(),
	}, nil
}

// SetDevice sets the computation device for the layer.
func (l *DepthwiseConv2D) SetDevice(device Device) {
	l.device = device
}

// Forward runs the layer on input (N, H, W, C).
func (l *DepthwiseConv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := ForwardOn(l.device, input, l.weights, l.bias, l.config)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", l.name, err)
	}
	return out, nil
}

// OutputShape returns the shape Forward produces for inputShape.
func (l *DepthwiseConv2D) OutputShape(inputShape []int) ([]int, error) {
	return OutputShape(inputShape, l.weights.Shape, l.config)
}

// Name returns the layer name.
func (l *DepthwiseConv2D) Name() string { return l.name }

// Config returns the stride and padding.
func (l *DepthwiseConv2D) Config() Config { return l.config }

// Weights returns the filter tensor. The caller should not modify it.
func (l *DepthwiseConv2D) Weights() *tensor.Tensor { return l.weights }

// Bias returns the bias, or nil when the layer has none.
func (l *DepthwiseConv2D) Bias() []float32 { return l.bias }

// KernelSize returns (kh, kw).
func (l *DepthwiseConv2D) KernelSize() (int, int) { return l.weights.Dim(0), l.weights.Dim(1) }

// InChannels returns C.
func (l *DepthwiseConv2D) InChannels() int { return l.weights.Dim(2) }

// DepthMultiplier returns M.
func (l *DepthwiseConv2D) DepthMultiplier() int { return l.weights.Dim(3) }

// OutChannels returns C*M.
func (l *DepthwiseConv2D) OutChannels() int { return l.weights.Dim(2) * l.weights.Dim(3) }

// ParamCount returns the number of weights plus biases.
func (l *DepthwiseConv2D) ParamCount() int {
	return l.weights.Len() + len(l.bias)
}
