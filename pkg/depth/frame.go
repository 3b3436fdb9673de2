// Package depth defines depth frames as delivered by a depth sensor and the
// reducer that collapses a frame into one representative distance.
//
// The two primary abstractions are:
//
//   - [Source] pushes [Frame] values to a [Handler] at the sensor's rate.
//   - [Reducer] turns a [Frame] into a single distance in metres.
//
// Source implementations live in sub-packages (depth/wsource,
// depth/synthetic). This package lives under pkg/ because capture adapters
// for other sensors are expected to implement [Source].
package depth

import (
	"context"
	"fmt"
	"time"
)

// PixelFormat identifies the sample encoding of a [Frame].
type PixelFormat uint32

const (
	// FormatUnknown is the zero value and is never accepted by the reducer.
	FormatUnknown PixelFormat = iota

	// DepthFloat32 holds little-endian float32 distances in metres.
	DepthFloat32

	// DepthFloat16 holds little-endian IEEE 754 half-precision distances in metres.
	DepthFloat16

	// DisparityFloat32 holds little-endian float32 disparity values (1/m).
	DisparityFloat32

	// DisparityFloat16 holds little-endian half-precision disparity values (1/m).
	DisparityFloat16
)

// String returns the human-readable name of the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case DepthFloat32:
		return "depth_float32"
	case DepthFloat16:
		return "depth_float16"
	case DisparityFloat32:
		return "disparity_float32"
	case DisparityFloat16:
		return "disparity_float16"
	default:
		return "unknown"
	}
}

// ParsePixelFormat parses a name as returned by [PixelFormat.String].
func ParsePixelFormat(s string) (PixelFormat, error) {
	for p := DepthFloat32; p <= DisparityFloat16; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return FormatUnknown, fmt.Errorf("depth: unknown pixel format %q", s)
}

// BytesPerSample returns the size of one sample for p, or 0 if p is not a
// supported format.
func (p PixelFormat) BytesPerSample() int {
	switch p {
	case DepthFloat32, DisparityFloat32:
		return 4
	case DepthFloat16, DisparityFloat16:
		return 2
	default:
		return 0
	}
}

// IsDisparity reports whether samples of p are inverse distances.
func (p PixelFormat) IsDisparity() bool {
	return p == DisparityFloat32 || p == DisparityFloat16
}

// Frame is one depth map as captured by the sensor. Frames are treated as
// immutable and are not retained by the pipeline after the handler returns.
type Frame struct {
	// Format identifies the sample encoding of Data.
	Format PixelFormat

	// Width and Height give the frame dimensions in pixels.
	Width  int
	Height int

	// Stride is the number of bytes per row. Zero means rows are tightly
	// packed (Width * Format.BytesPerSample()).
	Stride int

	// Data holds Height rows of Stride bytes each.
	Data []byte

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Handler consumes frames pushed by a [Source]. OnFrame is called
// synchronously from the source's delivery goroutine and must return quickly;
// there is no buffering between source and handler.
type Handler interface {
	OnFrame(f Frame)
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(f Frame)

// OnFrame calls fn(f).
func (fn HandlerFunc) OnFrame(f Frame) { fn(f) }

// Source delivers depth frames to a handler until ctx is cancelled or the
// underlying capture fails.
//
// Implementations must be safe to Run exactly once.
type Source interface {
	// Run pushes frames to h until ctx is done. It returns ctx.Err() on a
	// clean shutdown and a non-nil error when capture fails.
	Run(ctx context.Context, h Handler) error
}
