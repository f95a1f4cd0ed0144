// Package audio implements the audio side channel. It reuses the control
// channel's framing and correlation layer with its own message set, carried
// over the radio's RFCOMM serial link.
package audio

import (
	"fmt"

	"benshigo/internal/protocol"
)

// Audio-channel type ids. They share the frame format with the control
// channel but live in a separate registry, so the two channels never
// confuse each other's messages.
var (
	TypeIDData  = protocol.TypeID{0x00, 0x20}
	TypeIDAck   = protocol.TypeID{0x00, 0x21}
	TypeIDEnd   = protocol.TypeID{0x00, 0x22}
	TypeIDError = protocol.TypeID{0x00, 0x23}
)

// Data carries one SBC-encoded audio fragment.
type Data struct {
	SBC []byte
}

func (Data) TypeID() protocol.TypeID { return TypeIDData }

func (m Data) EncodeBody() []byte { return append([]byte(nil), m.SBC...) }

func decodeData(body []byte) (protocol.Message, error) {
	return Data{SBC: append([]byte(nil), body...)}, nil
}

// Ack confirms receipt of a Data fragment.
type Ack struct{}

func (Ack) TypeID() protocol.TypeID { return TypeIDAck }

func (Ack) EncodeBody() []byte { return nil }

func decodeAck(body []byte) (protocol.Message, error) {
	if len(body) != 0 {
		return nil, &protocol.BodyDecodeError{
			MessageType: "audio_ack",
			Reason:      fmt.Sprintf("expected empty body, got %d bytes", len(body)),
			Body:        body,
		}
	}

	return Ack{}, nil
}

// End marks the end of an audio transmission.
type End struct{}

func (End) TypeID() protocol.TypeID { return TypeIDEnd }

func (End) EncodeBody() []byte { return nil }

func decodeEnd(body []byte) (protocol.Message, error) {
	if len(body) != 0 {
		return nil, &protocol.BodyDecodeError{
			MessageType: "audio_end",
			Reason:      fmt.Sprintf("expected empty body, got %d bytes", len(body)),
			Body:        body,
		}
	}

	return End{}, nil
}

// Error reports an audio channel failure from the radio.
type Error struct {
	Message string
}

func (Error) TypeID() protocol.TypeID { return TypeIDError }

func (m Error) EncodeBody() []byte { return []byte(m.Message) }

func decodeError(body []byte) (protocol.Message, error) {
	return Error{Message: string(body)}, nil
}

// Registry builds the audio-channel variant registry. Unrecognized type ids
// fall back to protocol.Unknown, same as on the control channel.
func Registry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(TypeIDData, decodeData)
	r.Register(TypeIDAck, decodeAck)
	r.Register(TypeIDEnd, decodeEnd)
	r.Register(TypeIDError, decodeError)

	return r
}

// TypeName names audio variants for logs, mirroring protocol.TypeName.
func TypeName(m protocol.Message) string {
	switch m.(type) {
	case Data:
		return "audio_data"
	case Ack:
		return "audio_ack"
	case End:
		return "audio_end"
	case Error:
		return "audio_error"
	default:
		return protocol.TypeName(m)
	}
}
