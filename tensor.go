package yolopv2

import (
	"fmt"
)

// Tensor holds a raw model output buffer together with its dimensions.
// Buffers are flat float32 slices in row-major order, the same layout the
// inference runtimes return them in, so kernels index them directly without
// any per element call overhead.
type Tensor struct {
	// Data is the flat buffer of tensor values
	Data []float32
	// Dims are the tensor dimensions, eg: NCHW order for segmentation
	// outputs or (batch, candidates, attributes) for detection outputs
	Dims []int
}

// NewTensor creates a Tensor from the given buffer and dimensions.  The
// number of elements in the buffer must match the product of the dimensions
// or an error is returned, a wrong sized buffer indicates the caller wired
// up the model outputs incorrectly.
func NewTensor(data []float32, dims ...int) (*Tensor, error) {

	if len(dims) == 0 {
		return nil, fmt.Errorf("tensor requires at least one dimension")
	}

	elems := 1

	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("invalid tensor dimension %d", d)
		}

		elems *= d
	}

	if len(data) != elems {
		return nil, fmt.Errorf("tensor buffer has %d elements, dimensions %v require %d",
			len(data), dims, elems)
	}

	return &Tensor{
		Data: data,
		Dims: dims,
	}, nil
}

// NewTensorFromFloat16 creates a Tensor from a raw float16 buffer as output
// by models compiled with half precision.  Values are converted to float32
// using the precomputed lookup table.
func NewTensorFromFloat16(data []uint16, dims ...int) (*Tensor, error) {
	return NewTensor(DecodeFloat16(data), dims...)
}

// NDims returns the number of tensor dimensions
func (t *Tensor) NDims() int {
	return len(t.Dims)
}

// Size returns the length of the given dimension
func (t *Tensor) Size(axis int) int {

	if axis < 0 || axis >= len(t.Dims) {
		return 0
	}

	return t.Dims[axis]
}

// Elems returns the total number of elements in the tensor buffer
func (t *Tensor) Elems() int {
	return len(t.Data)
}

// Frame returns the sub buffer for the given batch element.  The first
// dimension is treated as the batch axis.
func (t *Tensor) Frame(idx int) ([]float32, error) {

	if len(t.Dims) < 2 {
		return nil, fmt.Errorf("tensor has no batch axis")
	}

	if idx < 0 || idx >= t.Dims[0] {
		return nil, fmt.Errorf("batch index %d out of range, batch size is %d",
			idx, t.Dims[0])
	}

	stride := 1

	for _, d := range t.Dims[1:] {
		stride *= d
	}

	return t.Data[idx*stride : (idx+1)*stride], nil
}
