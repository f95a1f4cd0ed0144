// Package link layers call/response semantics and event fan-out on top of
// a decoded protocol message stream. The control and audio channels both
// instantiate it unchanged; only the transport and variant registry differ.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"benshigo/internal/metrics"
	"benshigo/internal/protocol"
	"benshigo/internal/transport"
)

// Handler receives every decoded inbound message. Handlers must treat the
// message as immutable; decoded values are shared across handlers.
type Handler func(protocol.Message)

type handlerEntry struct {
	fn Handler
}

// Conn owns one live radio connection. It pumps transport chunks through a
// per-direction stream decoder and fans decoded messages out to registered
// handlers in registration order.
type Conn struct {
	logger   *slog.Logger
	tr       transport.Transport
	registry *protocol.Registry
	metrics  *metrics.Metrics

	mu       sync.Mutex
	handlers []*handlerEntry

	slotMu sync.Mutex
	slots  map[reflect.Type]chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func New(logger *slog.Logger, tr transport.Transport, registry *protocol.Registry, m *metrics.Metrics) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		logger:   logger,
		tr:       tr,
		registry: registry,
		metrics:  m,
		slots:    make(map[reflect.Type]chan struct{}),
	}
}

// Connect opens the transport and starts the reader loop. Connecting an
// already connected Conn is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return nil
	}
	if err := c.tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s transport: %w", c.tr.Name(), err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	dec := protocol.NewStreamDecoder(c.logger, c.registry)
	go c.run(runCtx, dec, done)

	return nil
}

// Close tears the connection down. When it returns, the reader loop has
// stopped and no handler will fire again.
func (c *Conn) Close() error {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := c.tr.Close()
	<-done

	return err
}

func (c *Conn) Connected() bool {
	return c.tr.Connected()
}

// Done returns a channel closed when the reader loop stops, either through
// Close or after a transport or decode failure. A disconnected Conn yields
// an already closed channel.
func (c *Conn) Done() <-chan struct{} {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.done == nil {
		closed := make(chan struct{})
		close(closed)

		return closed
	}

	return c.done
}

func (c *Conn) run(ctx context.Context, dec *protocol.StreamDecoder, done chan struct{}) {
	defer close(done)

	var lastResyncs uint64
	for {
		chunk, err := c.tr.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("transport read failed", "transport", c.tr.Name(), "error", err)
			}

			return
		}
		c.metrics.AddBytesRead(len(chunk))

		msgs, err := dec.Feed(chunk)
		if n := dec.Resyncs(); n != lastResyncs {
			c.metrics.AddStreamResyncs(n - lastResyncs)
			lastResyncs = n
		}
		for _, msg := range msgs {
			c.dispatch(msg)
		}
		c.metrics.AddFramesDecoded(len(msgs))
		if err != nil {
			// Desync past the start flag is unrecoverable here; drop the
			// connection and let the owner decide whether to reconnect.
			c.metrics.IncDecodeErrors()
			c.logger.Error("decode inbound stream failed", "error", err)

			return
		}
	}
}

func (c *Conn) dispatch(msg protocol.Message) {
	c.mu.Lock()
	entries := make([]*handlerEntry, len(c.handlers))
	copy(entries, c.handlers)
	c.mu.Unlock()

	for _, e := range entries {
		c.invoke(e.fn, msg)
	}
}

// invoke isolates a handler failure from the dispatch loop and the other
// handlers.
func (c *Conn) invoke(fn Handler, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncHandlerPanics()
			c.logger.Error("message handler panicked", "msg_type", protocol.TypeName(msg), "panic", r)
		}
	}()

	fn(msg)
}

// RegisterHandler appends fn to the handler list and returns a function
// that unregisters it. Every decoded message is delivered to every handler
// registered at dispatch time, in registration order.
func (c *Conn) RegisterHandler(fn Handler) (unregister func()) {
	e := &handlerEntry{fn: fn}
	c.mu.Lock()
	c.handlers = append(c.handlers, e)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, cur := range c.handlers {
			if cur == e {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)

				return
			}
		}
	}
}

// Send encodes msg and writes the frame to the transport.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", protocol.TypeName(msg), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.tr.Write(ctx, frame); err != nil {
		return fmt.Errorf("write %s frame: %w", protocol.TypeName(msg), err)
	}
	c.metrics.AddBytesWritten(len(frame))

	return nil
}

// SendAndAwaitReply sends req and blocks until the first inbound message of
// type R arrives. Matching is type-based only; the wire format carries no
// request id, so a per-reply-type slot serializes callers that would
// otherwise race over the same reply type. Only messages dispatched after
// the call registers its handler can satisfy it. There is no internal
// timeout; bound the wait through ctx.
func SendAndAwaitReply[R protocol.Message](ctx context.Context, c *Conn, req protocol.Message) (R, error) {
	var zero R

	release, err := c.acquireReplySlot(ctx, reflect.TypeOf((*R)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	defer release()

	replyCh := make(chan R, 1)
	unregister := c.RegisterHandler(func(msg protocol.Message) {
		if reply, ok := msg.(R); ok {
			select {
			case replyCh <- reply:
			default:
			}
		}
	})
	defer unregister()

	if err := c.Send(ctx, req); err != nil {
		return zero, err
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case reply := <-replyCh:
		c.metrics.IncRepliesMatched()

		return reply, nil
	}
}

func (c *Conn) acquireReplySlot(ctx context.Context, t reflect.Type) (func(), error) {
	c.slotMu.Lock()
	slot, ok := c.slots[t]
	if !ok {
		slot = make(chan struct{}, 1)
		c.slots[t] = slot
	}
	c.slotMu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
