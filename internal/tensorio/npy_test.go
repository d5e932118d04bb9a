package tensorio

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// npyBytes builds a version 1.0 .npy file the way numpy.save does.
func npyBytes(descr string, shape string, body []byte) []byte {
	header := "{'descr': '" + descr + "', 'fortran_order': False, 'shape': (" + shape + "), }"
	pad := 16 - (10+len(header)+1)%16
	header += strings.Repeat(" ", pad%16) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(body)
	return buf.Bytes()
}

func TestNpyRoundTrip(t *testing.T) {
	want, err := tensor.FromData([]float32{1, -2.5, 3, 0.125, 5, 6}, 1, 2, 3, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNpy(&buf, want))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x93NUMPY")))

	got, err := ReadNpy(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Shape, got.Shape)
	assert.Equal(t, want.Data, got.Data)
}

func TestNpyFile(t *testing.T) {
	want := tensor.New(2, 3, 3, 4).Fill(0.5)
	path := filepath.Join(t.TempDir(), "x.npy")
	require.NoError(t, SaveNpy(path, want))

	got, err := LoadNpy(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadNpy(filepath.Join(t.TempDir(), "missing.npy"))
	assert.Error(t, err)
}

func TestReadNpyFloat64(t *testing.T) {
	var body []byte
	for _, v := range []float64{1.5, -2, 0.1, 1e10} {
		body = binary.LittleEndian.AppendUint64(body, math.Float64bits(v))
	}

	got, err := ReadNpy(bytes.NewReader(npyBytes("<f8", "2, 2", body)))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, got.Shape)
	assert.Equal(t, []float32{1.5, -2, float32(0.1), 1e10}, got.Data)
}

func TestReadNpyFloat32(t *testing.T) {
	var body []byte
	for _, v := range []float32{1, 2, 3} {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
	}

	got, err := ReadNpy(bytes.NewReader(npyBytes("<f4", "1, 3", body)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got.Shape)
	assert.Equal(t, []float32{1, 2, 3}, got.Data)
}

func TestReadNpyInvalid(t *testing.T) {
	_, err := ReadNpy(strings.NewReader("not a numpy file"))
	assert.Error(t, err)
}
