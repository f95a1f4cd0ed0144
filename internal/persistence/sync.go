package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"benshigo/internal/bus"
	"benshigo/internal/events"
	"benshigo/internal/protocol"
)

// Sync subscribes to radio traffic on the bus and records it through the
// writer queue: hydrated channels into the channels table, everything else
// into the capture log.
type Sync struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	writer   *WriterQueue
	channels *ChannelRepo
	messages *MessageLogRepo
}

func NewSync(logger *slog.Logger, b bus.MessageBus, writer *WriterQueue, channels *ChannelRepo, messages *MessageLogRepo) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		logger:   logger,
		bus:      b,
		writer:   writer,
		channels: channels,
		messages: messages,
	}
}

// Start begins consuming bus events until ctx is cancelled.
func (s *Sync) Start(ctx context.Context) {
	sub := s.bus.Subscribe(events.TopicMessage, events.TopicChannelInfo)
	go func() {
		defer s.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				s.record(raw)
			}
		}
	}()
}

func (s *Sync) record(raw any) {
	switch msg := raw.(type) {
	case protocol.ChannelInfoResponse:
		rec := ChannelRecord{
			ChannelID: msg.ChannelID,
			ActionID:  msg.ActionID,
			Data:      append([]byte(nil), msg.ChannelData...),
			UpdatedAt: time.Now(),
		}
		s.writer.Enqueue("upsert_channel", func(ctx context.Context) error {
			return s.channels.Upsert(ctx, rec)
		})
	case protocol.Message:
		rec := MessageRecord{
			Direction: "radio->phone",
			MsgType:   protocol.TypeName(msg),
			TypeID:    msg.TypeID().String(),
			Body:      msg.EncodeBody(),
			At:        time.Now(),
		}
		s.writer.Enqueue("append_message", func(ctx context.Context) error {
			return s.messages.Append(ctx, rec)
		})
	default:
		s.logger.Debug("ignoring non-protocol bus payload", "payload_type", fmt.Sprintf("%T", raw))
	}
}
