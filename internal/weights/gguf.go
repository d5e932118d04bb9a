package weights

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// GGUF Constants
const (
	GGUFMagic   = 0x46554747 // "GGUF" in little-endian
	GGUFVersion = 3

	ggufDefaultAlignment = 32
	ggufArchitecture     = "depthwise"
)

// GGUF Value Types
type GGUFType uint32

const (
	GGUFTypeUint8   GGUFType = 0
	GGUFTypeInt8    GGUFType = 1
	GGUFTypeUint16  GGUFType = 2
	GGUFTypeInt16   GGUFType = 3
	GGUFTypeUint32  GGUFType = 4
	GGUFTypeInt32   GGUFType = 5
	GGUFTypeFloat32 GGUFType = 6
	GGUFTypeBool    GGUFType = 7
	GGUFTypeString  GGUFType = 8
	GGUFTypeArray   GGUFType = 9
	GGUFTypeUint64  GGUFType = 10
	GGUFTypeInt64   GGUFType = 11
	GGUFTypeFloat64 GGUFType = 12
)

// GGML Tensor Types
type GGMLType uint32

const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ4_1 GGMLType = 3
	GGMLTypeQ5_0 GGMLType = 6
	GGMLTypeQ5_1 GGMLType = 7
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeQ8_1 GGMLType = 9
)

func (t GGMLType) String() string {
	switch t {
	case GGMLTypeF32:
		return "F32"
	case GGMLTypeF16:
		return "F16"
	case GGMLTypeQ4_0:
		return "Q4_0"
	case GGMLTypeQ4_1:
		return "Q4_1"
	case GGMLTypeQ5_0:
		return "Q5_0"
	case GGMLTypeQ5_1:
		return "Q5_1"
	case GGMLTypeQ8_0:
		return "Q8_0"
	case GGMLTypeQ8_1:
		return "Q8_1"
	default:
		return fmt.Sprintf("type %d", uint32(t))
	}
}

func (t GGMLType) dtype() (string, error) {
	switch t {
	case GGMLTypeF32:
		return DTypeF32, nil
	case GGMLTypeF16:
		return DTypeF16, nil
	default:
		return "", fmt.Errorf("%w: ggml %s", ErrUnsupportedDType, t)
	}
}

// countingWriter tracks the file offset so tensor data can be aligned.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// GGUFWriter helps writing GGUF files
type GGUFWriter struct {
	w         *countingWriter
	alignment uint64
}

func NewGGUFWriter(w io.Writer) *GGUFWriter {
	return &GGUFWriter{
		w:         &countingWriter{w: w},
		alignment: ggufDefaultAlignment,
	}
}

func (gw *GGUFWriter) WriteHeader(kvCount, tensorCount uint64) error {
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(GGUFMagic)); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(GGUFVersion)); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, tensorCount); err != nil {
		return err
	}
	return binary.Write(gw.w, binary.LittleEndian, kvCount)
}

func (gw *GGUFWriter) WriteString(s string) error {
	n := uint64(len(s))
	if err := binary.Write(gw.w, binary.LittleEndian, n); err != nil {
		return err
	}
	_, err := gw.w.Write([]byte(s))
	return err
}

// WriteKV writes a key with a uint32 or string value. Layer settings are
// all stored as strings.
func (gw *GGUFWriter) WriteKV(key string, valType GGUFType, value interface{}) error {
	if valType != GGUFTypeUint32 && valType != GGUFTypeString {
		return fmt.Errorf("unsupported GGUF type: %v", valType)
	}
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(valType)); err != nil {
		return err
	}

	switch valType {
	case GGUFTypeUint32:
		return binary.Write(gw.w, binary.LittleEndian, value.(uint32))
	default:
		return gw.WriteString(value.(string))
	}
}

func (gw *GGUFWriter) WriteTensorInfo(name string, shape []uint64, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := uint32(len(shape))
	if err := binary.Write(gw.w, binary.LittleEndian, rank); err != nil {
		return err
	}
	// GGUF dimensions are in reverse order (last dimension first)
	for i := 0; i < int(rank); i++ {
		if err := binary.Write(gw.w, binary.LittleEndian, shape[rank-1-uint32(i)]); err != nil {
			return err
		}
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(ggmlType)); err != nil {
		return err
	}
	return binary.Write(gw.w, binary.LittleEndian, offset)
}

// Pad writes zeros up to the next multiple of the alignment.
func (gw *GGUFWriter) Pad() error {
	rem := uint64(gw.w.n) % gw.alignment
	if rem == 0 {
		return nil
	}
	_, err := gw.w.Write(make([]byte, gw.alignment-rem))
	return err
}

func alignUp(n, alignment uint64) uint64 {
	return (n + alignment - 1) / alignment * alignment
}

type ggufTensorData struct {
	name  string
	shape []int
	raw   []byte
}

// WriteGGUF writes kernels as a GGUF v3 file. Layer configuration is stored
// as string values under "depthwise.<layer>.<field>".
func WriteGGUF(w io.Writer, kernels []*Kernel, ggmlType GGMLType) error {
	dtype, err := ggmlType.dtype()
	if err != nil {
		return err
	}

	sorted := slices.Clone(kernels)
	slices.SortFunc(sorted, func(a, b *Kernel) int { return strings.Compare(a.Name, b.Name) })

	var tensors []ggufTensorData
	metadata := make(map[string]string)
	for _, k := range sorted {
		if k.Weights == nil {
			return fmt.Errorf("layer %q: no weights", k.Name)
		}
		raw, err := encodeFloats(dtype, k.Weights.Data)
		if err != nil {
			return err
		}
		tensors = append(tensors, ggufTensorData{k.Name + weightSuffix, k.Weights.Shape, raw})

		cfg := k.Config.withDefaults(k.Weights)
		cfg.UseBias = k.Bias != nil
		if k.Bias != nil {
			raw, err := encodeFloats(dtype, k.Bias)
			if err != nil {
				return err
			}
			tensors = append(tensors, ggufTensorData{k.Name + biasSuffix, []int{len(k.Bias)}, raw})
		}
		maps.Copy(metadata, cfg.metadata(ggufArchitecture+"."+k.Name+"."))
	}

	gw := NewGGUFWriter(w)
	keys := slices.Sorted(maps.Keys(metadata))
	if err := gw.WriteHeader(uint64(len(keys)+2), uint64(len(tensors))); err != nil {
		return err
	}
	if err := gw.WriteKV("general.architecture", GGUFTypeString, ggufArchitecture); err != nil {
		return err
	}
	if err := gw.WriteKV("general.alignment", GGUFTypeUint32, uint32(gw.alignment)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := gw.WriteKV(k, GGUFTypeString, metadata[k]); err != nil {
			return err
		}
	}

	var offset uint64
	offsets := make([]uint64, len(tensors))
	for i, t := range tensors {
		offset = alignUp(offset, gw.alignment)
		offsets[i] = offset
		shape := make([]uint64, len(t.shape))
		for j, d := range t.shape {
			shape[j] = uint64(d)
		}
		if err := gw.WriteTensorInfo(t.name, shape, ggmlType, offset); err != nil {
			return err
		}
		offset += uint64(len(t.raw))
	}

	for _, t := range tensors {
		if err := gw.Pad(); err != nil {
			return err
		}
		if _, err := gw.w.Write(t.raw); err != nil {
			return err
		}
	}
	return nil
}

// SaveGGUF writes kernels to a GGUF file at path.
func SaveGGUF(path string, kernels []*Kernel, ggmlType GGMLType) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGGUF(f, kernels, ggmlType); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type ggufTensorInfo struct {
	shape  []int
	typ    GGMLType
	offset uint64
	nbytes int
}

// ggufStore serves kernels from a GGUF file held in memory.
type ggufStore struct {
	data     []byte
	dataBase uint64
	tensors  map[string]ggufTensorInfo
	metadata map[string]string
	release  func() error
}

// OpenGGUF maps a GGUF file and parses its header.
func OpenGGUF(path string) (Store, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	s, err := parseGGUF(data)
	if err != nil {
		release()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.release = release
	return s, nil
}

// ReadGGUF parses a GGUF stream fully into memory.
func ReadGGUF(r io.Reader) (Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseGGUF(data)
}

// ggufReader decodes little-endian GGUF primitives, remembering the first error.
type ggufReader struct {
	r   *bytes.Reader
	err error
}

func (g *ggufReader) read(v any) {
	if g.err == nil {
		if err := binary.Read(g.r, binary.LittleEndian, v); err != nil {
			g.err = fmt.Errorf("%w: truncated GGUF file: %v", ErrInvalidFormat, err)
		}
	}
}

func (g *ggufReader) u32() uint32 {
	var v uint32
	g.read(&v)
	return v
}

func (g *ggufReader) u64() uint64 {
	var v uint64
	g.read(&v)
	return v
}

func (g *ggufReader) str() string {
	n := g.u64()
	if g.err != nil {
		return ""
	}
	if n > uint64(g.r.Len()) {
		g.err = fmt.Errorf("%w: string length %d exceeds remaining %d bytes", ErrInvalidFormat, n, g.r.Len())
		return ""
	}
	b := make([]byte, n)
	g.read(b)
	return string(b)
}

// value reads one value of type t. Scalars and strings are rendered as text,
// arrays are consumed and reported as empty.
func (g *ggufReader) value(t GGUFType) string {
	switch t {
	case GGUFTypeUint8:
		var v uint8
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeInt8:
		var v int8
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeUint16:
		var v uint16
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeInt16:
		var v int16
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeUint32:
		return fmt.Sprint(g.u32())
	case GGUFTypeInt32:
		var v int32
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeFloat32:
		var v float32
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeBool:
		var v uint8
		g.read(&v)
		return fmt.Sprint(v != 0)
	case GGUFTypeString:
		return g.str()
	case GGUFTypeUint64:
		return fmt.Sprint(g.u64())
	case GGUFTypeInt64:
		var v int64
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeFloat64:
		var v float64
		g.read(&v)
		return fmt.Sprint(v)
	case GGUFTypeArray:
		elem := GGUFType(g.u32())
		n := g.u64()
		for i := uint64(0); i < n && g.err == nil; i++ {
			g.value(elem)
		}
		return ""
	default:
		if g.err == nil {
			g.err = fmt.Errorf("%w: unknown GGUF value type %d", ErrInvalidFormat, t)
		}
		return ""
	}
}

func parseGGUF(data []byte) (*ggufStore, error) {
	g := &ggufReader{r: bytes.NewReader(data)}

	if magic := g.u32(); g.err == nil && magic != GGUFMagic {
		return nil, fmt.Errorf("%w: bad GGUF magic %#x", ErrInvalidFormat, magic)
	}
	if version := g.u32(); g.err == nil && (version < 2 || version > GGUFVersion) {
		return nil, fmt.Errorf("%w: unsupported GGUF version %d", ErrInvalidFormat, version)
	}
	tensorCount := g.u64()
	kvCount := g.u64()
	if g.err != nil {
		return nil, g.err
	}

	s := &ggufStore{
		data:     data,
		tensors:  make(map[string]ggufTensorInfo),
		metadata: make(map[string]string),
		release:  func() error { return nil },
	}

	alignment := uint64(ggufDefaultAlignment)
	for i := uint64(0); i < kvCount && g.err == nil; i++ {
		key := g.str()
		t := GGUFType(g.u32())
		if key == "general.alignment" && t == GGUFTypeUint32 {
			alignment = uint64(g.u32())
			if alignment == 0 {
				return nil, fmt.Errorf("%w: zero alignment", ErrInvalidFormat)
			}
			continue
		}
		v := g.value(t)
		if t != GGUFTypeArray {
			s.metadata[key] = v
		}
	}

	for i := uint64(0); i < tensorCount && g.err == nil; i++ {
		name := g.str()
		rank := g.u32()
		if rank > 8 {
			return nil, fmt.Errorf("%w: tensor %q has rank %d", ErrInvalidFormat, name, rank)
		}
		dims := make([]uint64, rank)
		for j := range dims {
			dims[j] = g.u64()
		}
		info := ggufTensorInfo{typ: GGMLType(g.u32()), offset: g.u64()}
		info.shape = make([]int, rank)
		for j, d := range dims {
			if d > math.MaxInt {
				return nil, fmt.Errorf("%w: tensor %q dimension %d out of range", ErrInvalidFormat, name, d)
			}
			info.shape[int(rank)-1-j] = int(d)
		}
		s.tensors[name] = info
	}
	if g.err != nil {
		return nil, g.err
	}

	pos := uint64(len(data) - g.r.Len())
	s.dataBase = alignUp(pos, alignment)
	for name, info := range s.tensors {
		dtype, err := info.typ.dtype()
		if err != nil {
			// Reported when the tensor is requested.
			continue
		}
		size, _ := dtypeSize(dtype)
		n, err := tensorBytes(info.shape, size, len(data))
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		if s.dataBase > uint64(len(data)) || uint64(n) > uint64(len(data))-s.dataBase ||
			info.offset > uint64(len(data))-s.dataBase-uint64(n) {
			return nil, fmt.Errorf("%w: tensor %q at offset %d with %d bytes outside %d byte file", ErrInvalidFormat, name, info.offset, n, len(data))
		}
		info.nbytes = n
		s.tensors[name] = info
	}
	return s, nil
}

func (s *ggufStore) tensor(name string) (*tensor.Tensor, bool, error) {
	info, ok := s.tensors[name]
	if !ok {
		return nil, false, nil
	}
	dtype, err := info.typ.dtype()
	if err != nil {
		return nil, true, fmt.Errorf("tensor %q: %w", name, err)
	}
	start := s.dataBase + info.offset
	f32s, err := decodeFloats(dtype, s.data[start:start+uint64(info.nbytes)])
	if err != nil {
		return nil, true, fmt.Errorf("tensor %q: %w", name, err)
	}
	t, err := tensor.FromData(f32s, info.shape...)
	return t, true, err
}

func (s *ggufStore) Kernel(name string) (*Kernel, error) {
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

	cfg, err := decodeLayerConfig(s.metadata, ggufArchitecture+"."+name+".")
	if err != nil {
		return nil, err
	}
	return newKernel(name, w, bias, cfg)
}

func (s *ggufStore) Names() []string {
	return layerNames(slices.Collect(maps.Keys(s.tensors)))
}

// Metadata returns the scalar and string key/values of the file.
func (s *ggufStore) Metadata() map[string]string {
	return s.metadata
}

func (s *ggufStore) Close() error {
	s.data, s.tensors = nil, nil
	return s.release()
}
