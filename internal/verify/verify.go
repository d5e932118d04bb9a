// Package verify compares computed tensors against reference outputs.
package verify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

var ErrInvalidTolerance = errors.New("verify: invalid tolerance")

// Tolerance bounds the allowed difference between an actual value a and an
// expected value b: |a-b| <= Abs + Rel*|b|.
type Tolerance struct {
	Abs float64 `cbor:"atol" json:"atol"`
	Rel float64 `cbor:"rtol" json:"rtol"`
}

// DefaultTolerance matches numpy.allclose.
var DefaultTolerance = Tolerance{Abs: 1e-8, Rel: 1e-5}

func (t Tolerance) Validate() error {
	if t.Abs < 0 || t.Rel < 0 || math.IsNaN(t.Abs) || math.IsNaN(t.Rel) {
		return fmt.Errorf("%w: atol=%g rtol=%g", ErrInvalidTolerance, t.Abs, t.Rel)
	}
	return nil
}

// Close reports whether a is within tolerance of b. The test is asymmetric:
// the relative term scales with the expected value b. NaN is never close
// and an infinity is close only to the same infinity.
func (t Tolerance) Close(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= t.Abs+t.Rel*math.Abs(b)
}

func (t Tolerance) String() string {
	return fmt.Sprintf("atol=%g rtol=%g", t.Abs, t.Rel)
}

// Mismatch is one element outside tolerance.
type Mismatch struct {
	Index    int
	Coord    []int
	Actual   float32
	Expected float32
}

// AbsDiff returns |Actual-Expected|.
func (m Mismatch) AbsDiff() float64 {
	return math.Abs(float64(m.Actual) - float64(m.Expected))
}

// Report summarises an elementwise comparison.
type Report struct {
	Shape      []int
	Total      int
	Mismatches int
	// First is the lowest-index mismatch, nil when every element is close.
	First *Mismatch
	// MaxAbsDiff ignores elements where either side is NaN.
	MaxAbsDiff  float64
	ActualSum   float64
	ExpectedSum float64
	Tolerance   Tolerance
}

// Close is true when no element is out of tolerance.
func (r Report) Close() bool { return r.Mismatches == 0 }

func (r Report) String() string {
	if r.Close() {
		return fmt.Sprintf("all %d elements close (%s, max abs diff %g)", r.Total, r.Tolerance, r.MaxAbsDiff)
	}
	return fmt.Sprintf("%d of %d elements differ (%s, max abs diff %g); first at %v: got %g want %g",
		r.Mismatches, r.Total, r.Tolerance, r.MaxAbsDiff, r.First.Coord, r.First.Actual, r.First.Expected)
}

func checkShapes(actual, expected *tensor.Tensor, tol Tolerance) error {
	if actual == nil || expected == nil {
		return fmt.Errorf("%w: nil tensor", tensor.ErrShape)
	}
	if !actual.SameShape(expected) {
		return fmt.Errorf("%w: actual %s vs expected %s", tensor.ErrShape, tensor.FormatShape(actual.Shape), tensor.FormatShape(expected.Shape))
	}
	return tol.Validate()
}

// Allclose compares actual against expected element by element.
// Tensors of different shapes are an error, not a mismatch.
func Allclose(actual, expected *tensor.Tensor, tol Tolerance) (Report, error) {
	if err := checkShapes(actual, expected, tol); err != nil {
		return Report{}, err
	}

	a, b := actual.Float64s(), expected.Float64s()
	r := Report{
		Shape:       append([]int(nil), actual.Shape...),
		Total:       len(a),
		Tolerance:   tol,
		ActualSum:   floats.Sum(a),
		ExpectedSum: floats.Sum(b),
	}
	if len(a) > 0 {
		r.MaxAbsDiff = floats.Distance(a, b, math.Inf(1))
	}

	for i := range a {
		if tol.Close(a[i], b[i]) {
			continue
		}
		if r.Mismatches == 0 {
			r.First = &Mismatch{
				Index:    i,
				Coord:    unravel(i, actual.Shape),
				Actual:   actual.Data[i],
				Expected: expected.Data[i],
			}
		}
		r.Mismatches++
	}
	return r, nil
}

// Mismatches lists up to limit elements outside tolerance in index order.
// A limit of zero or less lists all of them.
func Mismatches(actual, expected *tensor.Tensor, tol Tolerance, limit int) ([]Mismatch, error) {
	if err := checkShapes(actual, expected, tol); err != nil {
		return nil, err
	}

	var out []Mismatch
	for i := range actual.Data {
		if tol.Close(float64(actual.Data[i]), float64(expected.Data[i])) {
			continue
		}
		out = append(out, Mismatch{
			Index:    i,
			Coord:    unravel(i, actual.Shape),
			Actual:   actual.Data[i],
			Expected: expected.Data[i],
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// unravel converts a flat row-major index into coordinates.
func unravel(i int, shape []int) []int {
	coord := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		if shape[d] == 0 {
			continue
		}
		coord[d] = i % shape[d]
		i /= shape[d]
	}
	return coord
}
