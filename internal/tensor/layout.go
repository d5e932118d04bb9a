package tensor

import "fmt"

// NCHWToNHWC reorders a channels-first image tensor to channels-last.
func NCHWToNHWC(t *Tensor) (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("%w: NCHW tensor must be rank 4, got %v", ErrShape, t.Shape)
	}
	return permute(t, 0, 2, 3, 1)
}

// NHWCToNCHW reorders a channels-last image tensor to channels-first.
func NHWCToNCHW(t *Tensor) (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("%w: NHWC tensor must be rank 4, got %v", ErrShape, t.Shape)
	}
	return permute(t, 0, 3, 1, 2)
}

// OIHWToHWIO converts grouped depthwise weights laid out as (C*M, 1, kh, kw),
// the channels-first convention, into (kh, kw, C, M).
func OIHWToHWIO(t *Tensor, multiplier int) (*Tensor, error) {
	if t.Rank() != 4 || t.Dim(1) != 1 {
		return nil, fmt.Errorf("%w: depthwise OIHW weights must be (C*M, 1, kh, kw), got %v", ErrShape, t.Shape)
	}
	if multiplier <= 0 || t.Dim(0)%multiplier != 0 {
		return nil, fmt.Errorf("%w: %d output channels not divisible by multiplier %d", ErrShape, t.Dim(0), multiplier)
	}
	c := t.Dim(0) / multiplier
	grouped, err := FromData(t.Data, c, multiplier, t.Dim(2), t.Dim(3))
	if err != nil {
		return nil, err
	}
	return permute(grouped, 2, 3, 0, 1)
}

// permute returns a materialised copy of t with its axes reordered.
func permute(t *Tensor, axes ...int) (*Tensor, error) {
	d := t.Dense()
	if err := d.T(axes...); err != nil {
		return nil, err
	}
	if err := d.Transpose(); err != nil {
		return nil, err
	}
	return FromDense(d)
}
