// Package radio provides the control-channel client for Benshi handheld
// radios and a reconnecting service that publishes radio traffic on the
// message bus.
package radio

import (
	"context"
	"fmt"
	"log/slog"

	"benshigo/internal/link"
	"benshigo/internal/metrics"
	"benshigo/internal/protocol"
	"benshigo/internal/transport"
)

// Client is the control-channel client. It owns one correlation-layer
// connection over the radio's BLE link and exposes the typed operations
// the protocol supports.
type Client struct {
	logger *slog.Logger
	conn   *link.Conn
}

func NewClient(logger *slog.Logger, tr transport.Transport, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		logger: logger,
		conn:   link.New(logger, tr, protocol.ControlRegistry(), m),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// Done is closed when the underlying connection stops.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// ChannelInfo requests one channel's settings blob and waits for the
// radio's response. Bound the wait through ctx.
func (c *Client) ChannelInfo(ctx context.Context, channelID uint8) (protocol.ChannelInfoResponse, error) {
	resp, err := link.SendAndAwaitReply[protocol.ChannelInfoResponse](
		ctx, c.conn, protocol.ChannelInfoRequest{ChannelID: channelID})
	if err != nil {
		return protocol.ChannelInfoResponse{}, fmt.Errorf("get channel %d info: %w", channelID, err)
	}

	return resp, nil
}

// HydrateChannels fetches channels 0..count-1 sequentially.
func (c *Client) HydrateChannels(ctx context.Context, count int) ([]protocol.ChannelInfoResponse, error) {
	channels := make([]protocol.ChannelInfoResponse, 0, count)
	for i := 0; i < count; i++ {
		resp, err := c.ChannelInfo(ctx, uint8(i))
		if err != nil {
			return channels, err
		}
		channels = append(channels, resp)
	}

	return channels, nil
}

// SetDigitalMessageUpdates toggles unsolicited digital message events. The
// radio does not acknowledge the setting.
func (c *Client) SetDigitalMessageUpdates(ctx context.Context, enabled bool) error {
	if err := c.conn.Send(ctx, protocol.SetDigitalMessageUpdates{Enabled: enabled}); err != nil {
		return fmt.Errorf("set digital message updates: %w", err)
	}

	return nil
}

// Send writes an arbitrary protocol message, for tooling and tests.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	return c.conn.Send(ctx, msg)
}

// RegisterEventHandler registers fn for unsolicited messages. Replies to
// in-flight channel info requests are filtered out; everything else,
// including unknown messages, is an event.
func (c *Client) RegisterEventHandler(fn func(protocol.Message)) (unregister func()) {
	return c.conn.RegisterHandler(func(msg protocol.Message) {
		if _, ok := msg.(protocol.ChannelInfoResponse); ok {
			return
		}
		fn(msg)
	})
}
