package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"benshigo/internal/protocol"
)

type fakeAudioLink struct {
	mu        sync.Mutex
	connected bool
	writes    [][]byte
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	ackWrites bool
}

func newFakeAudioLink(ackWrites bool) *fakeAudioLink {
	return &fakeAudioLink{
		inbound:   make(chan []byte, 16),
		closed:    make(chan struct{}),
		ackWrites: ackWrites,
	}
}

func (f *fakeAudioLink) Name() string { return "fake-audio" }

func (f *fakeAudioLink) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeAudioLink) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeAudioLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAudioLink) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("transport is closed")
	case chunk := <-f.inbound:
		return chunk, nil
	}
}

func (f *fakeAudioLink) Write(_ context.Context, payload []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), payload...))
	ack := f.ackWrites
	f.mu.Unlock()

	if !ack {
		return nil
	}

	msg, _, err := protocol.DecodeOne(Registry(), payload)
	if err != nil || msg == nil {
		return nil
	}
	if _, isData := msg.(Data); isData {
		f.inbound <- ackFrame()
	}
	return nil
}

func ackFrame() []byte {
	return []byte{0xFF, 0x01, 0x00, 0x00, 0x00, 0x02, TypeIDAck[0], TypeIDAck[1]}
}

func TestAudioMessageRoundTrips(t *testing.T) {
	reg := Registry()
	cases := []protocol.Message{
		Data{SBC: []byte{0x9C, 0x00, 0x11}},
		Ack{},
		End{},
		Error{Message: "squelch open"},
	}

	for _, msg := range cases {
		frame, err := protocol.Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%s): %v", TypeName(msg), err)
		}
		decoded, rest, err := protocol.DecodeOne(reg, frame)
		if err != nil {
			t.Fatalf("DecodeOne(%s): %v", TypeName(msg), err)
		}
		if len(rest) != 0 {
			t.Fatalf("DecodeOne(%s): %d trailing bytes", TypeName(msg), len(rest))
		}
		if TypeName(decoded) != TypeName(msg) {
			t.Fatalf("decoded %s, want %s", TypeName(decoded), TypeName(msg))
		}
	}
}

func TestAudioAckRejectsNonEmptyBody(t *testing.T) {
	frame := []byte{0xFF, 0x01, 0x00, 0x01, 0x00, 0x02, TypeIDAck[0], TypeIDAck[1], 0x00}
	_, _, err := protocol.DecodeOne(Registry(), frame)

	var bodyErr *protocol.BodyDecodeError
	if !errors.As(err, &bodyErr) {
		t.Fatalf("err = %v, want BodyDecodeError", err)
	}
	if bodyErr.MessageType != "audio_ack" {
		t.Fatalf("message type = %q", bodyErr.MessageType)
	}
}

func TestSendAudioDataAwaitsAck(t *testing.T) {
	tr := newFakeAudioLink(true)
	conn := NewConn(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if err := conn.SendAudioData(ctx, []byte{0x9C, 0x01}); err != nil {
		t.Fatalf("SendAudioData: %v", err)
	}

	tr.mu.Lock()
	got := tr.writes[0]
	tr.mu.Unlock()
	want := []byte{0xFF, 0x01, 0x00, 0x02, 0x00, 0x02, 0x00, 0x20, 0x9C, 0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("wrote %x, want %x", got, want)
	}
}

func TestSendAudioDataTimesOutWithoutAck(t *testing.T) {
	tr := newFakeAudioLink(false)
	conn := NewConn(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	err := conn.SendAudioData(ctx, []byte{0x9C})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestAudioEventHandlerFiltersAcks(t *testing.T) {
	tr := newFakeAudioLink(true)
	conn := NewConn(nil, tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	eventCh := make(chan protocol.Message, 8)
	unregister := conn.RegisterEventHandler(func(msg protocol.Message) {
		eventCh <- msg
	})
	defer unregister()

	if err := conn.SendAudioData(ctx, []byte{0x9C}); err != nil {
		t.Fatalf("SendAudioData: %v", err)
	}

	// Inbound audio from the radio surfaces as an event.
	dataFrame, err := protocol.Encode(Data{SBC: []byte{0x9C, 0xAA}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tr.inbound <- dataFrame

	select {
	case msg := <-eventCh:
		data, ok := msg.(Data)
		if !ok {
			t.Fatalf("event = %T, want Data", msg)
		}
		if !bytes.Equal(data.SBC, []byte{0x9C, 0xAA}) {
			t.Fatalf("data = %x", data.SBC)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	select {
	case msg := <-eventCh:
		t.Fatalf("ack leaked to event handler: %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
