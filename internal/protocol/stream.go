package protocol

import (
	"bytes"
	"log/slog"
)

// StreamDecoder turns an arbitrarily chunked byte stream into complete
// messages. It buffers partial frames across Feed calls and recovers from
// stream misalignment by discarding bytes until the next start flag.
//
// One instance serves exactly one traffic direction; it is not safe for
// concurrent Feed calls.
type StreamDecoder struct {
	logger   *slog.Logger
	registry *Registry
	buf      []byte
	resyncs  uint64
	dropped  uint64
}

func NewStreamDecoder(logger *slog.Logger, registry *Registry) *StreamDecoder {
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamDecoder{logger: logger, registry: registry}
}

// Feed appends data to the internal buffer and decodes as many complete
// messages as possible. Partial data persists until the next call.
//
// Desync on the start flag is recovered locally: the decoder logs a
// diagnostic and discards up to the next 0xFF. Any other header or body
// malformation stops decoding and propagates immediately; messages decoded
// before the failure are still returned.
func (d *StreamDecoder) Feed(data []byte) ([]Message, error) {
	d.buf = append(d.buf, data...)

	var msgs []Message
	for len(d.buf) >= headerLen {
		if d.buf[0] != startFlag {
			d.resync()
			continue
		}

		msg, rest, err := DecodeOne(d.registry, d.buf)
		if err != nil {
			d.buf = rest

			return msgs, err
		}
		if msg == nil {
			break
		}
		d.buf = rest
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// resync discards buffered bytes up to (excluding) the next start flag, or
// all of them if none is present.
func (d *StreamDecoder) resync() {
	idx := bytes.IndexByte(d.buf[1:], startFlag)

	var discarded int
	if idx < 0 {
		discarded = len(d.buf)
		d.buf = nil
	} else {
		discarded = idx + 1
		d.buf = d.buf[discarded:]
	}

	d.resyncs++
	d.dropped += uint64(discarded)
	d.logger.Warn("stream desync, discarding bytes", "discarded", discarded, "buffered", len(d.buf))
}

// Resyncs reports how many desync recoveries have happened so far.
func (d *StreamDecoder) Resyncs() uint64 { return d.resyncs }

// DroppedBytes reports the total bytes discarded during resync.
func (d *StreamDecoder) DroppedBytes() uint64 { return d.dropped }

// Buffered reports the bytes currently held for an incomplete frame.
func (d *StreamDecoder) Buffered() int { return len(d.buf) }
