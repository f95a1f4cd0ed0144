package radio

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"benshigo/internal/bus"
	"benshigo/internal/events"
	"benshigo/internal/metrics"
	"benshigo/internal/protocol"
	"benshigo/internal/transport"
)

const (
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 15 * time.Second
)

// Options carries the service's connection settings.
type Options struct {
	// ChannelCount is how many channels to hydrate after connecting. Zero
	// disables hydration.
	ChannelCount int
	// DigitalMessageUpdates asks the radio to push digital message events.
	DigitalMessageUpdates bool
}

// Service keeps one radio connection alive and republishes its traffic on
// the message bus. On connection loss it reconnects with capped exponential
// backoff.
type Service struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	tr      transport.Transport
	metrics *metrics.Metrics
	opts    Options
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, m *metrics.Metrics, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		logger:  logger,
		bus:     b,
		tr:      tr,
		metrics: m,
		opts:    opts,
	}
}

// Run blocks until ctx is cancelled, connecting and reconnecting as needed.
func (s *Service) Run(ctx context.Context) error {
	delay := reconnectInitialDelay
	firstAttempt := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state := events.ConnectionStateConnecting
		if !firstAttempt {
			state = events.ConnectionStateReconnecting
		}
		s.publishStatus(state, nil)

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.publishStatus(events.ConnectionStateDisconnected, nil)
			return ctx.Err()
		}

		s.publishStatus(events.ConnectionStateDisconnected, err)
		if err != nil {
			s.logger.Warn("radio session ended", "error", err, "retry_in", delay)
		} else {
			s.logger.Warn("radio session ended", "retry_in", delay)
		}

		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
		firstAttempt = false
	}
}

// runOnce owns one connection attempt and session. It returns when the
// session ends, with the error that ended it.
func (s *Service) runOnce(ctx context.Context) error {
	client := NewClient(s.logger, s.tr, s.metrics)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.logger.Debug("close radio client", "error", err)
		}
	}()

	unregister := client.RegisterEventHandler(s.publishMessage)
	defer unregister()

	s.publishStatus(events.ConnectionStateConnected, nil)
	s.logger.Info("radio connected", "transport", s.tr.Name())

	if s.opts.DigitalMessageUpdates {
		if err := client.SetDigitalMessageUpdates(ctx, true); err != nil {
			return err
		}
	}

	if s.opts.ChannelCount > 0 {
		if err := s.hydrate(ctx, client); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		return nil
	}
}

func (s *Service) hydrate(ctx context.Context, client *Client) error {
	hydrateCtx, cancel := context.WithTimeout(ctx, time.Duration(s.opts.ChannelCount)*2*time.Second)
	defer cancel()

	channels, err := client.HydrateChannels(hydrateCtx, s.opts.ChannelCount)
	for _, ch := range channels {
		s.bus.Publish(events.TopicChannelInfo, ch)
	}
	if err != nil {
		s.logger.Warn("channel hydration incomplete", "fetched", len(channels), "want", s.opts.ChannelCount, "error", err)
		// Hydration failure is not fatal as long as the link is up.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	s.logger.Info("channels hydrated", "count", len(channels))

	return nil
}

func (s *Service) publishMessage(msg protocol.Message) {
	s.bus.Publish(events.TopicMessage, msg)

	switch m := msg.(type) {
	case protocol.AprsChunk:
		s.bus.Publish(events.TopicAprsChunk, m)
	case protocol.Unknown:
		s.logger.Debug("unknown radio message",
			"type_id", m.ID.String(),
			"body", hex.EncodeToString(m.Data))
	}
}

func (s *Service) publishStatus(state events.ConnectionState, err error) {
	status := events.ConnStatus{
		State:         state,
		TransportName: s.tr.Name(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(events.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
