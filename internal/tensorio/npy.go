// Package tensorio reads and writes tensors and verification cases on disk.
package tensorio

import (
	"fmt"
	"io"
	"os"

	dense "github.com/pdevine/tensor"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// ReadNpy decodes a little-endian float32 or float64 .npy array.
func ReadNpy(r io.Reader) (*tensor.Tensor, error) {
	d := new(dense.Dense)
	if err := d.ReadNpy(r); err != nil {
		return nil, fmt.Errorf("read npy: %w", err)
	}
	return tensor.FromDense(d)
}

// LoadNpy reads the .npy file at path.
func LoadNpy(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadNpy(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteNpy encodes t as a float32 .npy array.
func WriteNpy(w io.Writer, t *tensor.Tensor) error {
	return t.Dense().WriteNpy(w)
}

// SaveNpy writes t to a .npy file at path.
func SaveNpy(path string, t *tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteNpy(f, t); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
