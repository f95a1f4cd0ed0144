package audio

import (
	"context"
	"fmt"
	"log/slog"

	"benshigo/internal/link"
	"benshigo/internal/metrics"
	"benshigo/internal/protocol"
	"benshigo/internal/transport"
)

// Conn is the audio side channel connection. Outbound fragments are
// acknowledged individually; inbound traffic (received audio, errors) fans
// out to event handlers.
type Conn struct {
	logger *slog.Logger
	conn   *link.Conn
}

func NewConn(logger *slog.Logger, tr transport.Transport, m *metrics.Metrics) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		logger: logger,
		conn:   link.New(logger, tr, Registry(), m),
	}
}

func (c *Conn) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) Connected() bool {
	return c.conn.Connected()
}

func (c *Conn) Done() <-chan struct{} {
	return c.conn.Done()
}

// SendAudioData writes one SBC fragment and waits for the radio's Ack.
// Fragments larger than one frame body must be split by the caller.
func (c *Conn) SendAudioData(ctx context.Context, sbc []byte) error {
	if _, err := link.SendAndAwaitReply[Ack](ctx, c.conn, Data{SBC: sbc}); err != nil {
		return fmt.Errorf("send audio fragment: %w", err)
	}

	return nil
}

// SendAudioEnd marks the end of the outbound transmission. The radio does
// not acknowledge it.
func (c *Conn) SendAudioEnd(ctx context.Context) error {
	if err := c.conn.Send(ctx, End{}); err != nil {
		return fmt.Errorf("send audio end: %w", err)
	}

	return nil
}

// RegisterEventHandler registers fn for inbound audio traffic. Acks are
// consumed by SendAudioData and filtered out here.
func (c *Conn) RegisterEventHandler(fn func(protocol.Message)) (unregister func()) {
	return c.conn.RegisterHandler(func(msg protocol.Message) {
		if _, ok := msg.(Ack); ok {
			return
		}
		fn(msg)
	})
}
