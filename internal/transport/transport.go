package transport

import "context"

// Transport carries raw protocol bytes to and from a radio over one link.
// Read returns chunks exactly as the link delivers them: in order, without
// duplication, but with arbitrary framing: a chunk can hold a fragment of
// a frame or several frames back to back.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
}
