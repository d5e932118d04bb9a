package verify

import (
	"bytes"
	"encoding/csv"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromData(data, shape...)
	require.NoError(t, err)
	return x
}

func TestToleranceClose(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)

	tests := []struct {
		name string
		tol  Tolerance
		a, b float64
		want bool
	}{
		{"equal", DefaultTolerance, 1, 1, true},
		{"within rtol", DefaultTolerance, 100, 100.0009765625, true},
		{"outside rtol", DefaultTolerance, 100, 101, false},
		{"within atol", Tolerance{Abs: 0.5}, 0, 0.5, true},
		{"outside atol", Tolerance{Abs: 0.5}, 0, 0.75, false},
		{"relative to expected", Tolerance{Rel: 1}, 0, 1e-6, true},
		{"relative to expected swapped", Tolerance{Rel: 1}, 1e-6, 0, false},
		{"nan actual", DefaultTolerance, nan, 1, false},
		{"nan expected", DefaultTolerance, 1, nan, false},
		{"nan both", DefaultTolerance, nan, nan, false},
		{"same infinity", DefaultTolerance, inf, inf, true},
		{"opposite infinity", DefaultTolerance, inf, -inf, false},
		{"negative infinity", DefaultTolerance, -inf, -inf, true},
		{"finite against infinity", DefaultTolerance, 5, inf, false},
		{"infinity against finite", DefaultTolerance, inf, 5, false},
		{"finite against negative infinity", Tolerance{Abs: 1, Rel: 1}, -5, -inf, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tol.Close(tt.a, tt.b))
		})
	}
}

func TestToleranceValidate(t *testing.T) {
	assert.NoError(t, DefaultTolerance.Validate())
	assert.NoError(t, Tolerance{}.Validate())
	assert.ErrorIs(t, Tolerance{Abs: -1}.Validate(), ErrInvalidTolerance)
	assert.ErrorIs(t, Tolerance{Rel: math.NaN()}.Validate(), ErrInvalidTolerance)
}

func TestAllclose(t *testing.T) {
	expected := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, 1, 2, 3, 1)

	r, err := Allclose(expected.Clone(), expected, DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, r.Close())
	assert.Equal(t, 6, r.Total)
	assert.Nil(t, r.First)
	assert.Zero(t, r.MaxAbsDiff)
	assert.Equal(t, 21.0, r.ActualSum)
	assert.Contains(t, r.String(), "all 6 elements close")

	actual := mustTensor(t, []float32{1, 2, 3.5, 4, 5, 7}, 1, 2, 3, 1)
	r, err = Allclose(actual, expected, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, r.Close())
	assert.Equal(t, 2, r.Mismatches)
	require.NotNil(t, r.First)
	assert.Equal(t, 2, r.First.Index)
	assert.Equal(t, []int{0, 0, 2, 0}, r.First.Coord)
	assert.Equal(t, float32(3.5), r.First.Actual)
	assert.Equal(t, float32(3), r.First.Expected)
	assert.Equal(t, 1.0, r.MaxAbsDiff)
	assert.Equal(t, 22.5, r.ActualSum)
	assert.Equal(t, 21.0, r.ExpectedSum)
	assert.Contains(t, r.String(), "2 of 6 elements differ")

	r, err = Allclose(actual, expected, Tolerance{Abs: 1})
	require.NoError(t, err)
	assert.True(t, r.Close())
}

func TestAllcloseNaN(t *testing.T) {
	nan := float32(math.NaN())
	a := mustTensor(t, []float32{nan, 1}, 2)
	b := mustTensor(t, []float32{nan, 1}, 2)

	r, err := Allclose(a, b, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, r.Close())
	assert.Equal(t, 1, r.Mismatches)
	assert.Equal(t, 0, r.First.Index)
}

func TestAllcloseInfinity(t *testing.T) {
	inf := float32(math.Inf(1))
	a := mustTensor(t, []float32{-inf, 5, inf}, 3)
	b := mustTensor(t, []float32{inf, inf, inf}, 3)

	r, err := Allclose(a, b, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, r.Close())
	assert.Equal(t, 2, r.Mismatches)
	assert.Equal(t, 0, r.First.Index)
}

func TestAllcloseErrors(t *testing.T) {
	a := tensor.New(1, 2, 2, 1)

	_, err := Allclose(a, tensor.New(1, 2, 1, 2), DefaultTolerance)
	assert.ErrorIs(t, err, tensor.ErrShape)

	_, err = Allclose(a, nil, DefaultTolerance)
	assert.ErrorIs(t, err, tensor.ErrShape)

	_, err = Allclose(a, a.Clone(), Tolerance{Rel: -1})
	assert.ErrorIs(t, err, ErrInvalidTolerance)

	r, err := Allclose(tensor.New(0, 2), tensor.New(0, 2), DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, r.Close())
	assert.Zero(t, r.Total)
}

func TestMismatches(t *testing.T) {
	expected := tensor.New(2, 3)
	actual := mustTensor(t, []float32{0, 1, 0, 2, 0, 3}, 2, 3)

	all, err := Mismatches(actual, expected, DefaultTolerance, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 0}, all[1].Coord)
	assert.Equal(t, 2.0, all[1].AbsDiff())

	limited, err := Mismatches(actual, expected, DefaultTolerance, 2)
	require.NoError(t, err)
	assert.Equal(t, all[:2], limited)
}

func TestWriteCSV(t *testing.T) {
	mismatches := []Mismatch{
		{Index: 5, Coord: []int{0, 1, 1, 0}, Actual: 1.5, Expected: 1},
		{Index: 9, Coord: []int{0, 2, 0, 1}, Actual: -2, Expected: 0.25},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, mismatches))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"index", "coord", "actual", "expected", "abs_diff"},
		{"5", "0 1 1 0", "1.5", "1", "0.5"},
		{"9", "0 2 0 1", "-2", "0.25", "2.25"},
	}, records)

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, SaveCSV(path, nil))
}
