package weights

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// testKernel returns a 3x3 kernel over 2 channels with multiplier 2.
func testKernel(t *testing.T, name string) *Kernel {
	t.Helper()
	data := make([]float32, 3*3*2*2)
	for i := range data {
		data[i] = float32(i)*0.25 - 4
	}
	w, err := tensor.FromData(data, 3, 3, 2, 2)
	require.NoError(t, err)

	cfg := DefaultLayerConfig()
	cfg.Strides = []int{2, 1}
	cfg.Padding = "same"
	cfg.DepthMultiplier = 2
	cfg.Activation = "relu"
	return &Kernel{Name: name, Weights: w, Bias: []float32{0.5, -0.5, 1, -1}, Config: cfg}
}

func TestMapStore(t *testing.T) {
	a := testKernel(t, "b_layer")
	b := testKernel(t, "a_layer")
	s := NewMapStore(a, b)

	assert.Equal(t, []string{"a_layer", "b_layer"}, s.Names())

	k, err := s.Kernel("b_layer")
	require.NoError(t, err)
	assert.Same(t, a, k)

	_, err = s.Kernel("missing")
	assert.ErrorIs(t, err, ErrLayerNotFound)

	all, err := All(s)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a_layer", all[0].Name)
	assert.NoError(t, s.Close())
}

func TestKernelLayer(t *testing.T) {
	k := testKernel(t, "dw")
	l, err := k.Layer()
	require.NoError(t, err)

	assert.Equal(t, "dw", l.Name())
	assert.Equal(t, layer.Config{StrideH: 2, StrideW: 1, Padding: layer.PaddingSame}, l.Config())
	assert.Equal(t, 2, l.DepthMultiplier())

	k.Config.Strides = []int{1, 2, 3}
	_, err = k.Layer()
	assert.ErrorIs(t, err, layer.ErrInvalidConfiguration)
}

func TestOpenSaveExtension(t *testing.T) {
	dir := t.TempDir()
	kernels := []*Kernel{testKernel(t, "dw")}

	for _, name := range []string{"w.safetensors", "w.gguf", "W.GGUF"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Save(path, kernels, false))

			s, err := Open(path)
			require.NoError(t, err)
			defer s.Close()

			k, err := s.Kernel("dw")
			require.NoError(t, err)
			assert.Equal(t, kernels[0].Weights.Data, k.Weights.Data)
			assert.Equal(t, kernels[0].Bias, k.Bias)
		})
	}

	err := Save(filepath.Join(dir, "w.bin"), kernels, false)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = Open(filepath.Join(dir, "w.bin"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNewKernel(t *testing.T) {
	w := tensor.New(3, 3, 4, 2)

	k, err := newKernel("dw", w, nil, LayerConfig{Strides: []int{1, 1}, Padding: "valid"})
	require.NoError(t, err)
	assert.Equal(t, 2, k.Config.DepthMultiplier)
	assert.False(t, k.Config.UseBias)

	_, err = newKernel("dw", w, nil, LayerConfig{DepthMultiplier: 3})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = newKernel("dw", w, make([]float32, 5), LayerConfig{})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = newKernel("dw", tensor.New(3, 3, 4), nil, LayerConfig{})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
