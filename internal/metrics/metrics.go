package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the radio link. All observer
// methods accept a nil receiver as a no-op so tests and short-lived tools
// can opt out of registration.
type Metrics struct {
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	FramesDecoded  prometheus.Counter
	DecodeErrors   prometheus.Counter
	StreamResyncs  prometheus.Counter
	RepliesMatched prometheus.Counter
	HandlerPanics  prometheus.Counter
}

// New creates and registers the link metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		BytesRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_bytes_read_total",
			Help: "Total raw bytes received from the radio link",
		}),
		BytesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_bytes_written_total",
			Help: "Total raw bytes written to the radio link",
		}),
		FramesDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_frames_decoded_total",
			Help: "Total protocol messages decoded from the inbound stream",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_decode_errors_total",
			Help: "Total header or body decode failures on the inbound stream",
		}),
		StreamResyncs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_stream_resyncs_total",
			Help: "Total stream desync recoveries on the inbound stream",
		}),
		RepliesMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_replies_matched_total",
			Help: "Total replies delivered to waiting send-and-await callers",
		}),
		HandlerPanics: promauto.NewCounter(prometheus.CounterOpts{
			Name: "benshi_link_handler_panics_total",
			Help: "Total panics recovered from message handlers",
		}),
	}
}

func (m *Metrics) AddBytesRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) AddBytesWritten(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) AddFramesDecoded(n int) {
	if m == nil {
		return
	}
	m.FramesDecoded.Add(float64(n))
}

func (m *Metrics) IncDecodeErrors() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) AddStreamResyncs(n uint64) {
	if m == nil {
		return
	}
	m.StreamResyncs.Add(float64(n))
}

func (m *Metrics) IncRepliesMatched() {
	if m == nil {
		return
	}
	m.RepliesMatched.Inc()
}

func (m *Metrics) IncHandlerPanics() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}
