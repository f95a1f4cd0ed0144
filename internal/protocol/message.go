// Package protocol implements the Benshi radio wire protocol: the framed
// binary codec, the typed message variants, and a resynchronizing stream
// decoder that turns arbitrarily chunked transport bytes into messages.
package protocol

import "fmt"

// TypeID is the 2-byte message type identifier carried in the frame header.
type TypeID [2]byte

func (id TypeID) String() string {
	return fmt.Sprintf("0x%02X%02X", id[0], id[1])
}

// Message is one tagged case of the protocol message union.
type Message interface {
	// TypeID returns the identifier written to the frame header on encode.
	TypeID() TypeID
	// EncodeBody serializes the variant payload without the frame header.
	EncodeBody() []byte
}

// Control-channel type ids. Channel info responses are asymmetric: the
// radio sends them under TypeIDChannelInfoResponseRecv, but they re-encode
// under TypeIDChannelInfoResponse, matching the reference implementation.
var (
	TypeIDAprsChunk                = TypeID{0x00, 0x09}
	TypeIDSetDigitalMessageUpdates = TypeID{0x00, 0x06}
	TypeIDChannelInfoRequest       = TypeID{0x00, 0x0D}
	TypeIDChannelInfoResponse      = TypeID{0x00, 0x0E}
	TypeIDChannelInfoResponseRecv  = TypeID{0x80, 0x0D}
)

// AprsDecodeStatus reports whether the radio decoded a received APRS
// payload successfully.
type AprsDecodeStatus uint8

const (
	AprsDecodeError AprsDecodeStatus = 0x01
	AprsDecodeOK    AprsDecodeStatus = 0x02
)

// AprsChunk is one chunk of APRS packet data received over the air. Chunks
// expose sequencing fields; reassembly belongs to a higher layer.
type AprsChunk struct {
	ChunkData    []byte
	ChunkNum     uint8 // 0..127
	IsFinal      bool
	DecodeStatus AprsDecodeStatus
}

func (AprsChunk) TypeID() TypeID { return TypeIDAprsChunk }

func (m AprsChunk) EncodeBody() []byte {
	chunkInfo := m.ChunkNum & 0x7F
	if m.IsFinal {
		chunkInfo |= 0x80
	}
	body := make([]byte, 0, 2+len(m.ChunkData))
	body = append(body, byte(m.DecodeStatus), chunkInfo)

	return append(body, m.ChunkData...)
}

func decodeAprsChunk(body []byte) (Message, error) {
	if len(body) < 2 {
		return nil, &BodyDecodeError{
			MessageType: "radio_received_aprs_chunk",
			Reason:      fmt.Sprintf("expected at least 2 bytes, got %d", len(body)),
			Body:        body,
		}
	}

	var status AprsDecodeStatus
	switch body[0] {
	case byte(AprsDecodeError):
		status = AprsDecodeError
	case byte(AprsDecodeOK):
		status = AprsDecodeOK
	default:
		return nil, &BodyDecodeError{
			MessageType: "radio_received_aprs_chunk",
			Reason:      fmt.Sprintf("unknown decode status 0x%02X", body[0]),
			Body:        body,
		}
	}

	return AprsChunk{
		ChunkData:    append([]byte(nil), body[2:]...),
		ChunkNum:     body[1] & 0x7F,
		IsFinal:      body[1]&0x80 != 0,
		DecodeStatus: status,
	}, nil
}

// ChannelInfoRequest asks the radio for one channel's settings blob.
type ChannelInfoRequest struct {
	ChannelID uint8
}

func (ChannelInfoRequest) TypeID() TypeID { return TypeIDChannelInfoRequest }

func (m ChannelInfoRequest) EncodeBody() []byte { return []byte{m.ChannelID} }

func decodeChannelInfoRequest(body []byte) (Message, error) {
	if len(body) != 1 {
		return nil, &BodyDecodeError{
			MessageType: "channel_info_request",
			Reason:      fmt.Sprintf("expected body length 1, got %d", len(body)),
			Body:        body,
		}
	}

	return ChannelInfoRequest{ChannelID: body[0]}, nil
}

// ChannelInfoResponse carries one channel's raw settings blob.
//
// The encoder deliberately writes a hardcoded 0x00 action byte instead of
// ActionID, reproducing the reference implementation's behavior so captures
// round-trip identically.
type ChannelInfoResponse struct {
	ActionID    uint8
	ChannelID   uint8
	ChannelData []byte
}

func (ChannelInfoResponse) TypeID() TypeID { return TypeIDChannelInfoResponse }

func (m ChannelInfoResponse) EncodeBody() []byte {
	body := make([]byte, 0, 2+len(m.ChannelData))
	body = append(body, 0x00, m.ChannelID)

	return append(body, m.ChannelData...)
}

func decodeChannelInfoResponse(body []byte) (Message, error) {
	if len(body) < 2 {
		return nil, &BodyDecodeError{
			MessageType: "channel_info_response",
			Reason:      fmt.Sprintf("expected at least 2 bytes, got %d", len(body)),
			Body:        body,
		}
	}

	return ChannelInfoResponse{
		ActionID:    body[0],
		ChannelID:   body[1],
		ChannelData: append([]byte(nil), body[2:]...),
	}, nil
}

// SetDigitalMessageUpdates toggles unsolicited digital message events.
type SetDigitalMessageUpdates struct {
	Enabled bool
}

func (SetDigitalMessageUpdates) TypeID() TypeID { return TypeIDSetDigitalMessageUpdates }

func (m SetDigitalMessageUpdates) EncodeBody() []byte {
	if m.Enabled {
		return []byte{0x01}
	}

	return []byte{0x00}
}

func decodeSetDigitalMessageUpdates(body []byte) (Message, error) {
	if len(body) != 1 {
		return nil, &BodyDecodeError{
			MessageType: "set_digital_message_updates",
			Reason:      fmt.Sprintf("expected body length 1, got %d", len(body)),
			Body:        body,
		}
	}
	if body[0] != 0x00 && body[0] != 0x01 {
		return nil, &BodyDecodeError{
			MessageType: "set_digital_message_updates",
			Reason:      fmt.Sprintf("expected 0x00 or 0x01, got 0x%02X", body[0]),
			Body:        body,
		}
	}

	return SetDigitalMessageUpdates{Enabled: body[0] == 0x01}, nil
}

// Unknown preserves messages with unrecognized type ids so they re-encode
// byte for byte.
type Unknown struct {
	ID   TypeID
	Data []byte
}

func (m Unknown) TypeID() TypeID { return m.ID }

func (m Unknown) EncodeBody() []byte { return append([]byte(nil), m.Data...) }

// TypeName returns the stable name of a message variant, used in logs and
// replay output.
func TypeName(m Message) string {
	switch m.(type) {
	case AprsChunk:
		return "radio_received_aprs_chunk"
	case ChannelInfoRequest:
		return "channel_info_request"
	case ChannelInfoResponse:
		return "channel_info_response"
	case SetDigitalMessageUpdates:
		return "set_digital_message_updates"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("%T", m)
	}
}
