package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Disconnect signals that the client socket is gone. The engine matches on
// it and ends the run cleanly instead of catching write errors layer by
// layer.
type Disconnect struct {
	Cause error
}

func (d *Disconnect) Error() string {
	return fmt.Sprintf("client disconnected: %v", d.Cause)
}

func (d *Disconnect) Unwrap() error { return d.Cause }

// Emitter is what the engine emits events through. Implementations must
// return *Disconnect once the peer is gone and keep failing afterwards.
type Emitter interface {
	Emit(ctx context.Context, event string, fields map[string]any) error
}

// transport abstracts the raw socket so the bus can be tested without a
// network connection.
type transport interface {
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// wsTransport adapts a coder/websocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// Bus is the per-session event emitter. Single producer; sends are
// serialized under a mutex and stamped with a monotonic sequence id so the
// client can re-order-check the stream.
type Bus struct {
	mu           sync.Mutex
	transport    transport
	writeTimeout time.Duration
	seq          int
	closed       bool
}

// NewBus wraps a WebSocket connection.
func NewBus(conn *websocket.Conn, writeTimeout time.Duration) *Bus {
	return &Bus{transport: &wsTransport{conn: conn}, writeTimeout: writeTimeout}
}

// newBusWithTransport is the test seam.
func newBusWithTransport(t transport, writeTimeout time.Duration) *Bus {
	return &Bus{transport: t, writeTimeout: writeTimeout}
}

// Emit sends one event. The envelope fields type, sequence_id, and
// timestamp are injected here; fields must not contain them.
func (b *Bus) Emit(ctx context.Context, event string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Probe before building the payload: once the socket errored, every
	// later send fails the same way.
	if b.closed {
		return &Disconnect{Cause: fmt.Errorf("bus already closed")}
	}

	b.seq++
	envelope := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		envelope[k] = v
	}
	envelope["type"] = event
	envelope["sequence_id"] = b.seq
	envelope["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	writeCtx := ctx
	var cancel context.CancelFunc
	if b.writeTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
	}
	if err := b.transport.Write(writeCtx, data); err != nil {
		b.closed = true
		return &Disconnect{Cause: err}
	}
	return nil
}

// Close sends a close frame with an explicit code and short reason.
// Ambiguous client-side closures come from missing close codes, so every
// shutdown path goes through here. Idempotent.
func (b *Bus) Close(code websocket.StatusCode, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	_ = b.transport.Close(code, reason)
}
