package depth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnsupportedFormat is returned by [Reducer.Reduce] when the frame's
	// pixel format is not one of the supported encodings. The frame should be
	// dropped.
	ErrUnsupportedFormat = errors.New("depth: unsupported frame format")

	// ErrMalformedFrame is returned when the frame's dimensions do not match
	// the size of its data buffer.
	ErrMalformedFrame = errors.New("depth: malformed frame")
)

// maxPooledSamples bounds the scratch buffers kept in the pool so a single
// oversized frame does not pin memory forever.
const maxPooledSamples = 1 << 20

// Reducer collapses a depth frame into its mean distance. The zero value is
// ready to use and safe for concurrent use.
type Reducer struct {
	pool sync.Pool
}

// Reduce returns the arithmetic mean distance in metres over all valid
// samples of f. Samples that are NaN, infinite, or not strictly positive are
// skipped; disparity samples are inverted to distances first.
//
// When f contains no valid sample the returned distance is NaN and the error
// is nil. Unsupported formats return [ErrUnsupportedFormat]; buffers that are
// too short for the declared dimensions return [ErrMalformedFrame].
func (r *Reducer) Reduce(f Frame) (float64, error) {
	bps := f.Format.BytesPerSample()
	if bps == 0 {
		return 0, fmt.Errorf("%w: %s (%d)", ErrUnsupportedFormat, f.Format, uint32(f.Format))
	}
	if f.Width <= 0 || f.Height <= 0 {
		return 0, fmt.Errorf("%w: dimensions %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	// Dimensions come off the wire, so compare by division: products of
	// hostile values can wrap.
	if f.Width > len(f.Data)/bps {
		return 0, fmt.Errorf("%w: %d bytes, row of %d samples", ErrMalformedFrame, len(f.Data), f.Width)
	}
	rowBytes := f.Width * bps
	stride := f.Stride
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return 0, fmt.Errorf("%w: stride %d shorter than row of %d bytes", ErrMalformedFrame, stride, rowBytes)
	}
	if f.Height-1 > (len(f.Data)-rowBytes)/stride {
		return 0, fmt.Errorf("%w: %d bytes, %d rows of stride %d", ErrMalformedFrame, len(f.Data), f.Height, stride)
	}

	samples := r.buffer(f.Width * f.Height)
	defer r.release(samples)

	disparity := f.Format.IsDisparity()
	for y := range f.Height {
		row := f.Data[y*stride : y*stride+rowBytes]
		for x := range f.Width {
			v := decodeSample(f.Format, row[x*bps:])
			if disparity {
				v = 1 / v
			}
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				continue
			}
			*samples = append(*samples, v)
		}
	}

	if len(*samples) == 0 {
		return math.NaN(), nil
	}
	return floats.Sum(*samples) / float64(len(*samples)), nil
}

// decodeSample reads one little-endian sample from b.
func decodeSample(p PixelFormat, b []byte) float64 {
	switch p {
	case DepthFloat32, DisparityFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
	}
}

func (r *Reducer) buffer(n int) *[]float64 {
	if p, ok := r.pool.Get().(*[]float64); ok && cap(*p) >= n {
		*p = (*p)[:0]
		return p
	}
	s := make([]float64, 0, n)
	return &s
}

func (r *Reducer) release(p *[]float64) {
	if cap(*p) > maxPooledSamples {
		return
	}
	r.pool.Put(p)
}
