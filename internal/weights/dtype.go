package weights

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// Element types understood by the safetensors reader.
const (
	DTypeF32  = "F32"
	DTypeF64  = "F64"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"
)

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case DTypeF32:
		return 4, nil
	case DTypeF64:
		return 8, nil
	case DTypeF16, DTypeBF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
}

// tensorBytes returns the byte length of a tensor with the given shape and
// element size. Shapes that overflow or need more than limit bytes are invalid.
func tensorBytes(shape []int, size, limit int) (int, error) {
	n, err := tensor.NumElements(shape)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if n > limit/size {
		return 0, fmt.Errorf("%w: shape %v needs more than the %d bytes available", ErrInvalidFormat, shape, limit)
	}
	return n * size, nil
}

// decodeFloats converts little-endian raw element data to float32.
func decodeFloats(dtype string, raw []byte) ([]float32, error) {
	size, err := dtypeSize(dtype)
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %s values", ErrInvalidFormat, len(raw), dtype)
	}

	n := len(raw) / size
	var f32s []float32
	switch dtype {
	case DTypeF32:
		f32s = make([]float32, n)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case DTypeF64:
		f32s = make([]float32, n)
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case DTypeF16:
		f32s = make([]float32, n)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case DTypeBF16:
		f32s = bfloat16.DecodeFloat32(raw)
	}
	return f32s, nil
}

// encodeFloats converts float32 values to little-endian F32 or F16 bytes.
func encodeFloats(dtype string, data []float32) ([]byte, error) {
	switch dtype {
	case DTypeF32:
		out := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case DTypeF16:
		out := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", ErrUnsupportedDType, dtype)
	}
}
