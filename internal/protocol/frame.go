package protocol

import "fmt"

// Frame layout: an 8-byte header followed by a variable body.
// header[3] is the body length; header[6:8] is the message type id.
const (
	headerLen    = 8
	startFlag    = 0xFF
	constant1    = 0x01
	constant2    = 0x02
	reservedByte = 0x00
	maxBodyLen   = 255
)

// Encode serializes msg as one frame: the fixed header then the body.
func Encode(msg Message) ([]byte, error) {
	body := msg.EncodeBody()
	if len(body) > maxBodyLen {
		return nil, fmt.Errorf("message body too large: %d bytes", len(body))
	}

	id := msg.TypeID()
	frame := make([]byte, 0, headerLen+len(body))
	frame = append(frame,
		startFlag,
		constant1,
		reservedByte,
		byte(len(body)),
		reservedByte,
		constant2,
		id[0],
		id[1],
	)

	return append(frame, body...), nil
}

// headerChecks lists the constant header fields in validation order.
var headerChecks = []struct {
	index int
	field string
	want  byte
}{
	{0, "start_flag", startFlag},
	{1, "constant_1", constant1},
	{2, "reserved_1", reservedByte},
	{4, "reserved_2", reservedByte},
	{5, "constant_2", constant2},
}

// DecodeOne decodes a single frame from the front of buf, dispatching the
// body through reg. It returns the decoded message and the unconsumed
// remainder.
//
// A nil message with a nil error means more bytes are needed; buf is
// returned untouched so the caller can retry once more data arrives. A
// header constant mismatch returns a *HeaderDecodeError without consuming
// anything; the caller must resynchronize before retrying. A body decode
// failure consumes the whole frame for framing bookkeeping and propagates
// the *BodyDecodeError.
func DecodeOne(reg *Registry, buf []byte) (Message, []byte, error) {
	if len(buf) < headerLen {
		return nil, buf, nil
	}

	for _, c := range headerChecks {
		if buf[c.index] != c.want {
			return nil, buf, &HeaderDecodeError{
				Field:    c.field,
				Expected: c.want,
				Actual:   buf[c.index],
				Header:   append([]byte(nil), buf[:headerLen]...),
			}
		}
	}

	bodyLen := int(buf[3])
	if headerLen+bodyLen > len(buf) {
		return nil, buf, nil
	}

	id := TypeID{buf[6], buf[7]}
	body := buf[headerLen : headerLen+bodyLen]
	rest := buf[headerLen+bodyLen:]

	msg, err := reg.DecodeBody(id, body)
	if err != nil {
		return nil, rest, err
	}

	return msg, rest, nil
}
