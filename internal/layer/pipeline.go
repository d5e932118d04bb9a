package layer

import (
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// Pipeline is one depthwise layer followed by an optional elementwise stage
// such as an activation.
type Pipeline struct {
	conv *DepthwiseConv2D
	post Layer
}

// NewPipeline wraps conv. post may be nil.
func NewPipeline(conv *DepthwiseConv2D, post Layer) *Pipeline {
	return &Pipeline{conv: conv, post: post}
}

func (p *Pipeline) Name() string { return p.conv.Name() }

// Conv returns the depthwise layer.
func (p *Pipeline) Conv() *DepthwiseConv2D { return p.conv }

func (p *Pipeline) stages() []Layer {
	if p.post == nil {
		return []Layer{p.conv}
	}
	return []Layer{p.conv, p.post}
}

// Forward runs the convolution and then the post stage.
func (p *Pipeline) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, l := range p.stages() {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name(), err)
		}
	}
	return x, nil
}

func (p *Pipeline) OutputShape(inputShape []int) ([]int, error) {
	shape := inputShape
	var err error
	for _, l := range p.stages() {
		if shape, err = l.OutputShape(shape); err != nil {
			return nil, err
		}
	}
	return shape, nil
}

func (p *Pipeline) ParamCount() int {
	total := 0
	for _, l := range p.stages() {
		total += l.ParamCount()
	}
	return total
}

// Summary prints one line per stage with its output shape for inputShape.
func (p *Pipeline) Summary(w io.Writer, inputShape []int) error {
	fmt.Fprintf(w, "%-30s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")

	shape := inputShape
	for _, l := range p.stages() {
		lType := fmt.Sprintf("%T", l)
		// Extract simple type name
		for j := len(lType) - 1; j >= 0; j-- {
			if lType[j] == '.' {
				lType = lType[j+1:]
				break
			}
		}

		var err error
		if shape, err = l.OutputShape(shape); err != nil {
			return fmt.Errorf("%s: %w", l.Name(), err)
		}
		fmt.Fprintf(w, "%-30s %-20s %-10d\n", fmt.Sprintf("%s (%s)", l.Name(), lType), tensor.FormatShape(shape), l.ParamCount())
	}
	fmt.Fprintf(w, "Total params: %d\n", p.ParamCount())
	return nil
}
