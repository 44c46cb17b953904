package yolopv2

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// DecodeFloat16 converts a raw float16 buffer into float32 values using the
// precomputed lookup table, which is faster than converting each element
// through the float16 package when decoding whole model output tensors.
func DecodeFloat16(buf []uint16) []float32 {

	out := make([]float32, len(buf))

	for i, val := range buf {
		out[i] = f16LookupTable[val]
	}

	return out
}
