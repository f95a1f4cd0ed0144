package protocol

// BodyDecoder turns a message body into a typed variant.
type BodyDecoder func(body []byte) (Message, error)

// Registry maps frame type ids to body decoders. Ids without a registered
// decoder fall back to Unknown, so decoding is total over the id space.
type Registry struct {
	decoders map[TypeID]BodyDecoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[TypeID]BodyDecoder)}
}

func (r *Registry) Register(id TypeID, dec BodyDecoder) {
	r.decoders[id] = dec
}

// DecodeBody dispatches body to the decoder registered for id.
func (r *Registry) DecodeBody(id TypeID, body []byte) (Message, error) {
	if dec, ok := r.decoders[id]; ok {
		return dec(body)
	}

	return Unknown{ID: id, Data: append([]byte(nil), body...)}, nil
}

// ControlRegistry returns a registry for the control channel message set.
// Channel info responses dispatch on the id the radio actually sends,
// TypeIDChannelInfoResponseRecv, not the id they encode under.
func ControlRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeIDAprsChunk, decodeAprsChunk)
	r.Register(TypeIDChannelInfoRequest, decodeChannelInfoRequest)
	r.Register(TypeIDChannelInfoResponseRecv, decodeChannelInfoResponse)
	r.Register(TypeIDSetDigitalMessageUpdates, decodeSetDigitalMessageUpdates)

	return r
}
