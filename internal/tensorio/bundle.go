package tensorio

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/activations"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/verify"
)

// Array is the on-disk form of a tensor inside a Case.
type Array struct {
	Shape []int     `cbor:"shape"`
	Data  []float32 `cbor:"data"`
}

func arrayOf(t *tensor.Tensor) Array {
	return Array{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
}

func (a Array) Tensor() (*tensor.Tensor, error) {
	return tensor.FromData(append([]float32(nil), a.Data...), a.Shape...)
}

// Case is a self-contained verification case: one depthwise layer, an input
// and the output it is expected to produce.
type Case struct {
	Name       string            `cbor:"name"`
	Input      Array             `cbor:"input"`
	Weights    Array             `cbor:"weights"`
	Bias       []float32         `cbor:"bias,omitempty"`
	Expected   Array             `cbor:"expected"`
	Strides    []int             `cbor:"strides"`
	Padding    string            `cbor:"padding"`
	Activation string            `cbor:"activation,omitempty"`
	Tolerance  *verify.Tolerance `cbor:"tolerance,omitempty"`
}

// NewCase captures copies of the tensors of a verification case.
func NewCase(name string, input, weights *tensor.Tensor, bias []float32, expected *tensor.Tensor, cfg layer.Config) *Case {
	c := &Case{
		Name:     name,
		Input:    arrayOf(input),
		Weights:  arrayOf(weights),
		Expected: arrayOf(expected),
		Strides:  []int{cfg.StrideH, cfg.StrideW},
		Padding:  string(cfg.Padding),
	}
	if len(bias) > 0 {
		c.Bias = append([]float32(nil), bias...)
	}
	return c
}

// Config returns the kernel configuration of the case.
func (c *Case) Config() (layer.Config, error) {
	cfg := layer.DefaultConfig()
	switch len(c.Strides) {
	case 0:
	case 1:
		cfg.StrideH, cfg.StrideW = c.Strides[0], c.Strides[0]
	case 2:
		cfg.StrideH, cfg.StrideW = c.Strides[0], c.Strides[1]
	default:
		return cfg, fmt.Errorf("%w: case %q has strides %v", layer.ErrInvalidConfiguration, c.Name, c.Strides)
	}
	if c.Padding != "" {
		p, err := layer.ParsePadding(c.Padding)
		if err != nil {
			return cfg, err
		}
		cfg.Padding = p
	}
	return cfg, nil
}

// Run computes the case output on dev, applying the case activation.
func (c *Case) Run(dev layer.Device) (*tensor.Tensor, error) {
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	act, err := activations.ByName(c.Activation)
	if err != nil {
		return nil, err
	}
	input, err := c.Input.Tensor()
	if err != nil {
		return nil, fmt.Errorf("case %q input: %w", c.Name, err)
	}
	weights, err := c.Weights.Tensor()
	if err != nil {
		return nil, fmt.Errorf("case %q weights: %w", c.Name, err)
	}

	out, err := layer.ForwardOn(dev, input, weights, c.Bias, cfg)
	if err != nil {
		return nil, fmt.Errorf("case %q: %w", c.Name, err)
	}
	return activations.Apply(act, out), nil
}

// Verify runs the case and compares the result against its expected output.
// tol is used when the case carries no tolerance of its own.
func (c *Case) Verify(dev layer.Device, tol verify.Tolerance) (verify.Report, error) {
	if c.Tolerance != nil {
		tol = *c.Tolerance
	}
	out, err := c.Run(dev)
	if err != nil {
		return verify.Report{}, err
	}
	expected, err := c.Expected.Tensor()
	if err != nil {
		return verify.Report{}, fmt.Errorf("case %q expected: %w", c.Name, err)
	}
	return verify.Allclose(out, expected, tol)
}

// MarshalCase encodes c as CBOR.
func MarshalCase(c *Case) ([]byte, error) {
	return cbor.Marshal(c)
}

// UnmarshalCase decodes a CBOR case.
func UnmarshalCase(data []byte) (*Case, error) {
	var c Case
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	return &c, nil
}

// LoadCase reads a CBOR case file.
func LoadCase(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalCase(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// SaveCase writes c to path as CBOR.
func SaveCase(path string, c *Case) error {
	data, err := MarshalCase(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
