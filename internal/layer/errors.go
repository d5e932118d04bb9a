package layer

// layerError is a constant error kind reported by the depthwise kernel.
type layerError string

func (e layerError) Error() string { return string(e) }

// Errors reported synchronously by Forward. Details are wrapped around them,
// so compare with errors.Is.
const (
	ErrShapeMismatch        = layerError("shape mismatch")
	ErrInvalidConfiguration = layerError("invalid configuration")
)
