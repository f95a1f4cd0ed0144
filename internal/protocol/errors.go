package protocol

import "fmt"

// HeaderDecodeError reports a frame header whose constant fields do not
// match the wire format. Start-flag desync is handled by the stream decoder;
// any other mismatch is unrecoverable for the current decode call and the
// caller must resynchronize before retrying.
type HeaderDecodeError struct {
	Field    string
	Expected byte
	Actual   byte
	Header   []byte
}

func (e *HeaderDecodeError) Error() string {
	return fmt.Sprintf("decode frame header: %s: expected 0x%02X, got 0x%02X", e.Field, e.Expected, e.Actual)
}

// BodyDecodeError reports a recognized message type whose body violates a
// shape or range constraint. It carries the offending body bytes.
type BodyDecodeError struct {
	MessageType string
	Reason      string
	Body        []byte
}

func (e *BodyDecodeError) Error() string {
	return fmt.Sprintf("decode %s body: %s", e.MessageType, e.Reason)
}
