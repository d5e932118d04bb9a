// Package tensor provides the dense float32 tensor used by the depthwise kernel.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrShape is returned when data and shape disagree.
var ErrShape = errors.New("tensor: shape does not match data")

// Tensor is a dense row-major float32 array.
// Image tensors use NHWC order: (batch, height, width, channels).
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor with the given shape.
// It panics if the shape is invalid.
func New(shape ...int) *Tensor {
	n, err := NumElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}
}

// FromData wraps data without copying. len(data) must equal the product of shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// NumElements returns the product of shape. Negative dimensions and
// products that overflow int are errors.
func NumElements(shape []int) (int, error) {
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		if d == 0 {
			return 0, nil
		}
	}
	n := 1
	for _, d := range shape {
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows the element count", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Valid reports whether len(t.Data) matches t.Shape.
func (t *Tensor) Valid() error {
	n, err := NumElements(t.Shape)
	if err != nil {
		return err
	}
	if n != len(t.Data) {
		return fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrShape, t.Shape, n, len(t.Data))
	}
	return nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// offset4 computes the flat index of a rank-4 coordinate.
func (t *Tensor) offset4(a, b, c, d int) int {
	s := t.Shape
	return ((a*s[1]+b)*s[2]+c)*s[3] + d
}

// At returns the element at a rank-4 coordinate.
func (t *Tensor) At(a, b, c, d int) float32 {
	return t.Data[t.offset4(a, b, c, d)]
}

// Set stores v at a rank-4 coordinate.
func (t *Tensor) Set(a, b, c, d int, v float32) {
	t.Data[t.offset4(a, b, c, d)] = v
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) *Tensor {
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float32, len(t.Data)),
	}
	copy(c.Data, t.Data)
	return c
}

// Float64s returns the data widened to float64.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return ShapeEqual(t.Shape, o.Shape)
}

// ShapeEqual compares two shapes element-wise.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FormatShape renders a shape as "(1, 4, 4, 3)".
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseShape parses "1,4,4,3" (spaces and surrounding parentheses allowed).
func ParseShape(s string) ([]int, error) {
	s = strings.Trim(strings.TrimSpace(s), "()[]")
	if s == "" {
		return nil, fmt.Errorf("tensor: empty shape")
	}
	fields := strings.Split(s, ",")
	shape := make([]int, 0, len(fields))
	for _, f := range fields {
		d, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("tensor: invalid shape %q: %w", s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("tensor: invalid shape %q: dimensions must be positive", s)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", FormatShape(t.Shape))
}
