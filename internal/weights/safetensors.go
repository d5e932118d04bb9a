package weights

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

const safetensorsMetadataKey = "__metadata__"

type safetensorMetadata struct {
	Type    string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// safetensorsStore serves kernels from a safetensors file held in memory.
type safetensorsStore struct {
	path     string
	body     []byte
	headers  map[string]safetensorMetadata
	metadata map[string]string
	release  func() error
}

// OpenSafetensors maps a safetensors file and parses its header.
// Tensors are decoded on each Kernel call.
func OpenSafetensors(path string) (Store, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	s, err := parseSafetensors(data)
	if err != nil {
		release()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path
	s.release = release
	return s, nil
}

// ReadSafetensors parses a safetensors stream fully into memory.
func ReadSafetensors(r io.Reader) (Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseSafetensors(data)
}

func parseSafetensors(data []byte) (*safetensorsStore, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: safetensors file shorter than its header length", ErrInvalidFormat)
	}
	n := binary.LittleEndian.Uint64(data)
	if n > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: safetensors header length %d exceeds file size %d", ErrInvalidFormat, n, len(data))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(data[8 : 8+n])).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: safetensors header: %v", ErrInvalidFormat, err)
	}

	s := &safetensorsStore{
		body:     data[8+n:],
		headers:  make(map[string]safetensorMetadata, len(raw)),
		metadata: map[string]string{},
		release:  func() error { return nil },
	}
	for key, value := range raw {
		if key == safetensorsMetadataKey {
			if err := json.Unmarshal(value, &s.metadata); err != nil {
				return nil, fmt.Errorf("%w: safetensors metadata: %v", ErrInvalidFormat, err)
			}
			continue
		}

		var meta safetensorMetadata
		if err := json.Unmarshal(value, &meta); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalidFormat, key, err)
		}
		begin, end := meta.Offsets[0], meta.Offsets[1]
		if begin < 0 || end < begin || end > int64(len(s.body)) {
			return nil, fmt.Errorf("%w: tensor %q data offsets %v outside %d byte body", ErrInvalidFormat, key, meta.Offsets, len(s.body))
		}
		size, err := dtypeSize(meta.Type)
		if err != nil {
			// Reported when the tensor is requested.
			s.headers[key] = meta
			continue
		}
		n, err := tensorBytes(meta.Shape, size, len(s.body))
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", key, err)
		}
		if int64(n) != end-begin {
			return nil, fmt.Errorf("%w: tensor %q shape %v needs %d bytes, has %d", ErrInvalidFormat, key, meta.Shape, n, end-begin)
		}
		s.headers[key] = meta
	}
	return s, nil
}

func (s *safetensorsStore) tensor(name string) (*tensor.Tensor, bool, error) {
	meta, ok := s.headers[name]
	if !ok {
		return nil, false, nil
	}
	f32s, err := decodeFloats(meta.Type, s.body[meta.Offsets[0]:meta.Offsets[1]])
	if err != nil {
		return nil, true, fmt.Errorf("tensor %q: %w", name, err)
	}
	t, err := tensor.FromData(f32s, meta.Shape...)
	return t, true, err
}

func (s *safetensorsStore) Kernel(name string) (*Kernel, error) {
	w, ok, err := s.tensor(name + weightSuffix)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}

	var bias []float32
	b, ok, err := s.tensor(name + biasSuffix)
	if err != nil {
		return nil, err
	}
	if ok {
		bias = b.Data
	}

	cfg, err := decodeLayerConfig(s.metadata, name+".")
	if err != nil {
		return nil, err
	}
	return newKernel(name, w, bias, cfg)
}

func (s *safetensorsStore) Names() []string {
	return layerNames(slices.Collect(maps.Keys(s.headers)))
}

// Metadata returns the free-form string metadata of the file.
func (s *safetensorsStore) Metadata() map[string]string {
	return s.metadata
}

func (s *safetensorsStore) Close() error {
	s.body, s.headers = nil, nil
	return s.release()
}

// WriteSafetensors writes kernels as a safetensors file with tensors stored
// as dtype (F32 or F16). Layer configuration goes into __metadata__.
func WriteSafetensors(w io.Writer, kernels []*Kernel, dtype string) error {
	sorted := slices.Clone(kernels)
	slices.SortFunc(sorted, func(a, b *Kernel) int { return strings.Compare(a.Name, b.Name) })

	header := make(map[string]any)
	metadata := map[string]string{"format": "depthwise"}
	var body bytes.Buffer

	add := func(name string, shape []int, data []float32) error {
		raw, err := encodeFloats(dtype, data)
		if err != nil {
			return err
		}
		begin := int64(body.Len())
		body.Write(raw)
		header[name] = safetensorMetadata{Type: dtype, Shape: shape, Offsets: [2]int64{begin, int64(body.Len())}}
		return nil
	}

	for _, k := range sorted {
		if k.Weights == nil {
			return fmt.Errorf("layer %q: no weights", k.Name)
		}
		if err := add(k.Name+weightSuffix, k.Weights.Shape, k.Weights.Data); err != nil {
			return err
		}
		cfg := k.Config.withDefaults(k.Weights)
		cfg.UseBias = k.Bias != nil
		if k.Bias != nil {
			if err := add(k.Name+biasSuffix, []int{len(k.Bias)}, k.Bias); err != nil {
				return err
			}
		}
		maps.Copy(metadata, cfg.metadata(k.Name+"."))
	}
	header[safetensorsMetadataKey] = metadata

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad the header with spaces so the body starts 8-byte aligned.
	if rem := len(b) % 8; rem != 0 {
		b = append(b, bytes.Repeat([]byte(" "), 8-rem)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())
	return err
}

// SaveSafetensors writes kernels to a safetensors file at path.
func SaveSafetensors(path string, kernels []*Kernel, dtype string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSafetensors(f, kernels, dtype); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
