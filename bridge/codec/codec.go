package codec

import "encoding/binary"

// Outcome classifies the result of one decode attempt.
type Outcome int

const (
	// NeedMoreData means the buffer does not yet hold a complete packet.
	// The caller must not advance its read cursor and should retry once
	// more bytes arrive.
	NeedMoreData Outcome = iota
	// UnknownType means the header parsed but no registered decoder
	// claims this type code. Forward-compatible: the codec silently
	// drops packets of a type it doesn't recognize rather than raising
	// an error, but since it has no decoder for the type it also cannot
	// determine the body's length — see IoController's handling of this
	// outcome for how the stream is kept from desynchronizing.
	UnknownType
	// Decoded means a packet was fully parsed.
	Decoded
	// Malformed means the type was recognized and the packet fully framed,
	// but its header version is not Version or its body violates the
	// type's encoding (e.g. an Internet URL that is not valid UTF-8).
	Malformed
)

// Result is the outcome of one Codec.Decode call.
type Result struct {
	Outcome  Outcome
	Packet   Packet
	Consumed int
}

// bodyStatus is a decoderFunc's verdict on a packet body.
type bodyStatus int

const (
	bodyNeedMoreData bodyStatus = iota
	bodyOK
	bodyMalformed
)

// decoderFunc parses a packet body (the bytes after the common header,
// i.e. after version+type+sequence) and reports how many body bytes it
// consumed.
type decoderFunc func(seq uint32, body []byte) (Packet, int, bodyStatus)

// Codec decodes packets from a byte stream, dispatching on the header's
// type code to the decoder registered for it. The zero value has no
// decoders; construct with NewCodec, which pre-registers the six built-in
// kinds.
type Codec struct {
	decoders map[byte]decoderFunc
	order    []byte
}

// NewCodec returns a Codec with all six wire-format packet kinds
// registered.
func NewCodec() *Codec {
	c := &Codec{decoders: make(map[byte]decoderFunc)}
	c.register(TypeHandshake, decodeHandshake)
	c.register(TypeUpdate, decodeUpdate)
	c.register(TypeData, decodeData)
	c.register(TypeAck, decodeAck)
	c.register(TypeInternet, decodeInternet)
	c.register(TypeInternetResponse, decodeInternetResponse)
	return c
}

func (c *Codec) register(typ byte, fn decoderFunc) {
	c.decoders[typ] = fn
	c.order = append(c.order, typ)
}

// Decode attempts to parse one packet from the front of buf. It never
// mutates or retains buf.
//
// A version mismatch on an otherwise well-framed packet (its type is
// known and its body parses cleanly) is reported as Malformed with the
// correct Consumed count: the packet is dropped but the stream stays in
// sync, since the type-specific decoder can still establish exactly how
// many bytes it occupied regardless of the version field's value.
func (c *Codec) Decode(buf []byte) Result {
	if len(buf) < HeaderSize {
		return Result{Outcome: NeedMoreData}
	}
	version := buf[0]
	typ := buf[1]
	seq := binary.BigEndian.Uint32(buf[2:6])

	fn, ok := c.decoders[typ]
	if !ok {
		return Result{Outcome: UnknownType}
	}

	body := buf[HeaderSize:]
	pkt, bodyConsumed, status := fn(seq, body)
	if status == bodyNeedMoreData {
		return Result{Outcome: NeedMoreData}
	}

	consumed := HeaderSize + bodyConsumed
	if version != Version || status == bodyMalformed {
		return Result{Outcome: Malformed, Consumed: consumed}
	}
	return Result{Outcome: Decoded, Packet: pkt, Consumed: consumed}
}
