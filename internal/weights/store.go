// Package weights loads and saves depthwise filter weights keyed by layer name.
package weights

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

var (
	ErrLayerNotFound    = errors.New("weights: layer not found")
	ErrUnsupportedDType = errors.New("weights: unsupported data type")
	ErrInvalidFormat    = errors.New("weights: invalid file format")
)

// Tensor name suffixes inside weight files.
const (
	weightSuffix = ".weight"
	biasSuffix   = ".bias"
)

// Kernel is everything stored for one depthwise layer.
type Kernel struct {
	Name string
	// Weights has shape (kh, kw, C, M).
	Weights *tensor.Tensor
	// Bias has C*M values, or is nil.
	Bias   []float32
	Config LayerConfig
}

// Layer builds the depthwise layer described by k.
func (k *Kernel) Layer() (*layer.DepthwiseConv2D, error) {
	cfg, err := k.Config.KernelConfig()
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", k.Name, err)
	}
	return layer.NewDepthwiseConv2D(k.Name, k.Weights, k.Bias, cfg)
}

// Store returns the weights of a layer given its name.
type Store interface {
	Kernel(name string) (*Kernel, error)
	// Names lists the stored layers in sorted order.
	Names() []string
	Close() error
}

// MapStore is an in-memory Store.
type MapStore struct {
	kernels map[string]*Kernel
}

// NewMapStore returns a store holding kernels.
func NewMapStore(kernels ...*Kernel) *MapStore {
	s := &MapStore{kernels: make(map[string]*Kernel, len(kernels))}
	for _, k := range kernels {
		s.Add(k)
	}
	return s
}

// Add stores k under k.Name, replacing any previous entry.
func (s *MapStore) Add(k *Kernel) {
	s.kernels[k.Name] = k
}

func (s *MapStore) Kernel(name string) (*Kernel, error) {
	k, ok := s.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}
	return k, nil
}

func (s *MapStore) Names() []string {
	names := make([]string, 0, len(s.kernels))
	for name := range s.kernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *MapStore) Close() error { return nil }

// All returns every kernel in a store, sorted by name.
func All(s Store) ([]*Kernel, error) {
	names := s.Names()
	kernels := make([]*Kernel, 0, len(names))
	for _, name := range names {
		k, err := s.Kernel(name)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, k)
	}
	return kernels, nil
}

// Open opens a weight file, choosing the format from its extension.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return OpenSafetensors(path)
	case ".gguf":
		return OpenGGUF(path)
	default:
		return nil, fmt.Errorf("%w: unrecognised weight file extension %q", ErrInvalidFormat, filepath.Ext(path))
	}
}

// Save writes kernels to path, choosing the format from its extension.
// With half set, tensors are stored as F16.
func Save(path string, kernels []*Kernel, half bool) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		dtype := DTypeF32
		if half {
			dtype = DTypeF16
		}
		return SaveSafetensors(path, kernels, dtype)
	case ".gguf":
		typ := GGMLTypeF32
		if half {
			typ = GGMLTypeF16
		}
		return SaveGGUF(path, kernels, typ)
	default:
		return fmt.Errorf("%w: unrecognised weight file extension %q", ErrInvalidFormat, filepath.Ext(path))
	}
}

// layerNames extracts sorted layer names from tensor names ending in ".weight".
func layerNames(tensorNames []string) []string {
	var names []string
	for _, n := range tensorNames {
		if base, ok := strings.CutSuffix(n, weightSuffix); ok {
			names = append(names, base)
		}
	}
	slices.Sort(names)
	return names
}

// newKernel checks decoded tensors and assembles a Kernel.
func newKernel(name string, weights *tensor.Tensor, bias []float32, cfg LayerConfig) (*Kernel, error) {
	if weights.Rank() != 4 {
		return nil, fmt.Errorf("%w: %s%s must be rank 4 (kh, kw, C, M), got %v", ErrInvalidFormat, name, weightSuffix, weights.Shape)
	}
	if cfg.DepthMultiplier == 0 {
		cfg.DepthMultiplier = weights.Dim(3)
	}
	if m := weights.Dim(3); cfg.DepthMultiplier != m {
		return nil, fmt.Errorf("%w: %s depth_multiplier %d disagrees with weight shape %v", ErrInvalidFormat, name, cfg.DepthMultiplier, weights.Shape)
	}
	if bias != nil && len(bias) != weights.Dim(2)*weights.Dim(3) {
		return nil, fmt.Errorf("%w: %s%s has %d values, want %d", ErrInvalidFormat, name, biasSuffix, len(bias), weights.Dim(2)*weights.Dim(3))
	}
	cfg.UseBias = bias != nil
	return &Kernel{Name: name, Weights: weights, Bias: bias, Config: cfg}, nil
}
