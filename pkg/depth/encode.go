package depth

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// NewFrame32 packs samples into a tightly strided frame of a 32-bit format.
// len(samples) must equal width*height.
func NewFrame32(format PixelFormat, width, height int, samples []float32) Frame {
	data := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Frame{Format: format, Width: width, Height: height, Data: data}
}

// NewFrame16 packs samples into a tightly strided frame of a half-precision
// format. Values are rounded to the nearest representable half float.
func NewFrame16(format PixelFormat, width, height int, samples []float32) Frame {
	data := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	return Frame{Format: format, Width: width, Height: height, Data: data}
}

// Uniform returns a DepthFloat32 frame in which every pixel reads metres.
func Uniform(width, height int, metres float32) Frame {
	samples := make([]float32, width*height)
	for i := range samples {
		samples[i] = metres
	}
	return NewFrame32(DepthFloat32, width, height, samples)
}
