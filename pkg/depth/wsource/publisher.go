package wsource

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"github.com/MrWong99/theremin/pkg/depth"
)

// Publisher is the client side of a [Source]: it streams frames to a remote
// /frames endpoint. A Publisher is not safe for concurrent Send calls.
type Publisher struct {
	conn *websocket.Conn
}

// Dial connects to the websocket frame endpoint at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Publisher, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsource: dial: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Send encodes and writes one frame.
func (p *Publisher) Send(ctx context.Context, f depth.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := p.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("wsource: send: %w", err)
	}
	return nil
}

// Close performs a normal websocket close.
func (p *Publisher) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "done")
}
