package radio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"benshigo/internal/protocol"
)

// fakeRadio is a transport that behaves like a radio: channel info request
// frames written to it produce channel info response frames on the inbound
// side.
type fakeRadio struct {
	mu        sync.Mutex
	connected bool
	writes    [][]byte
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	channelData func(id uint8) []byte
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
		channelData: func(id uint8) []byte {
			return []byte{0xA0 | id, 0x42}
		},
	}
}

func (f *fakeRadio) Name() string { return "fake" }

func (f *fakeRadio) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeRadio) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeRadio) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRadio) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("transport is closed")
	case chunk := <-f.inbound:
		return chunk, nil
	}
}

func (f *fakeRadio) Write(_ context.Context, payload []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), payload...))
	f.mu.Unlock()

	// React to channel info requests the way the radio does: respond with
	// the matching channel blob under the receive-side type id.
	msg, rest, err := protocol.DecodeOne(protocol.ControlRegistry(), payload)
	if err != nil || msg == nil || len(rest) != 0 {
		return nil
	}
	req, ok := msg.(protocol.ChannelInfoRequest)
	if !ok {
		return nil
	}

	f.inbound <- responseFrame(req.ChannelID, f.channelData(req.ChannelID))
	return nil
}

func (f *fakeRadio) push(chunk []byte) {
	f.inbound <- chunk
}

func (f *fakeRadio) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// responseFrame builds a channel info response frame as the radio would
// send it, under the 0x800D receive-side type id.
func responseFrame(channelID uint8, data []byte) []byte {
	body := append([]byte{0x00, channelID}, data...)
	frame := []byte{0xFF, 0x01, 0x00, byte(len(body)), 0x00, 0x02}
	frame = append(frame, protocol.TypeIDChannelInfoResponseRecv[0], protocol.TypeIDChannelInfoResponseRecv[1])
	return append(frame, body...)
}

func TestClientChannelInfo(t *testing.T) {
	tr := newFakeRadio()
	client := NewClient(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	resp, err := client.ChannelInfo(ctx, 3)
	if err != nil {
		t.Fatalf("ChannelInfo: %v", err)
	}
	if resp.ChannelID != 3 {
		t.Fatalf("channel id = %d, want 3", resp.ChannelID)
	}
	if !bytes.Equal(resp.ChannelData, []byte{0xA3, 0x42}) {
		t.Fatalf("channel data = %x, want a342", resp.ChannelData)
	}
}

func TestClientHydrateChannels(t *testing.T) {
	tr := newFakeRadio()
	client := NewClient(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	channels, err := client.HydrateChannels(ctx, 4)
	if err != nil {
		t.Fatalf("HydrateChannels: %v", err)
	}
	if len(channels) != 4 {
		t.Fatalf("got %d channels, want 4", len(channels))
	}
	for i, ch := range channels {
		if ch.ChannelID != uint8(i) {
			t.Fatalf("channels[%d].ChannelID = %d", i, ch.ChannelID)
		}
	}
}

func TestClientSetDigitalMessageUpdates(t *testing.T) {
	tr := newFakeRadio()
	client := NewClient(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.SetDigitalMessageUpdates(ctx, true); err != nil {
		t.Fatalf("SetDigitalMessageUpdates: %v", err)
	}

	tr.mu.Lock()
	got := tr.writes[len(tr.writes)-1]
	tr.mu.Unlock()

	want := []byte{0xFF, 0x01, 0x00, 0x01, 0x00, 0x02, 0x00, 0x06, 0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("wrote %x, want %x", got, want)
	}
}

func TestClientEventHandlerFiltersReplies(t *testing.T) {
	tr := newFakeRadio()
	client := NewClient(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	eventCh := make(chan protocol.Message, 8)
	unregister := client.RegisterEventHandler(func(msg protocol.Message) {
		eventCh <- msg
	})
	defer unregister()

	// A reply consumed by ChannelInfo must not surface as an event.
	if _, err := client.ChannelInfo(ctx, 1); err != nil {
		t.Fatalf("ChannelInfo: %v", err)
	}

	// An unsolicited APRS chunk must.
	tr.push([]byte{0xFF, 0x01, 0x00, 0x03, 0x00, 0x02, 0x00, 0x09, 0x02, 0x81, 0x41})

	select {
	case msg := <-eventCh:
		chunk, ok := msg.(protocol.AprsChunk)
		if !ok {
			t.Fatalf("event = %T, want AprsChunk", msg)
		}
		if chunk.ChunkNum != 1 || !chunk.IsFinal {
			t.Fatalf("chunk = %+v", chunk)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	select {
	case msg := <-eventCh:
		t.Fatalf("unexpected extra event: %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
