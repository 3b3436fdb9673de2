package wsource

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/theremin/pkg/depth"
)

// Message is the wire form of one depth frame. Each websocket binary message
// carries exactly one msgpack-encoded Message.
type Message struct {
	Format    uint32 `msgpack:"format"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Stride    int    `msgpack:"stride,omitempty"`
	Data      []byte `msgpack:"data"`
	Timestamp int64  `msgpack:"ts,omitempty"` // nanoseconds, sensor clock
}

// Encode serialises f into a binary websocket payload.
func Encode(f depth.Frame) ([]byte, error) {
	data, err := msgpack.Marshal(Message{
		Format:    uint32(f.Format),
		Width:     f.Width,
		Height:    f.Height,
		Stride:    f.Stride,
		Data:      f.Data,
		Timestamp: int64(f.Timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("wsource: encode frame: %w", err)
	}
	return data, nil
}

// Decode parses a binary websocket payload into a frame. It validates only
// the envelope; pixel-level validation is left to the reducer.
func Decode(b []byte) (depth.Frame, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return depth.Frame{}, fmt.Errorf("wsource: decode frame: %w", err)
	}
	return depth.Frame{
		Format:    depth.PixelFormat(m.Format),
		Width:     m.Width,
		Height:    m.Height,
		Stride:    m.Stride,
		Data:      m.Data,
		Timestamp: time.Duration(m.Timestamp),
	}, nil
}
