package hub

import "context"

// Connection represents one bidirectional channel to a single viewer
// (SSE, WebSocket, etc.).
type Connection interface {
	ID() string
	Type() string
	Send(ctx context.Context, event *Event) error
	Close() error
	IsClosed() bool
	Context() context.Context
}
