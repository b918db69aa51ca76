// Package codec implements the mesh wire format: six tagged-union packet
// kinds behind a common header (version, type, sequence), and a small
// registry of decoders tried in order. The layout and the parse(d []byte)
// (ok bool) convention are grounded on davidcoles-bgp's message.go, with
// the decode-outcome enum (need more data / unknown type / decoded /
// malformed) added to make partial-stream decoding safe for a stream that
// delivers bytes in arbitrary chunks.
package codec

import (
	"encoding/binary"
	"unicode/utf8"
)

// Version is the only wire version this codec understands. A packet with
// any other version is rejected as Malformed but still consumed whole, so
// the stream stays in sync — see Codec.Decode.
const Version uint8 = 0

// Type codes, matching the wire format table.
const (
	TypeHandshake        byte = 1
	TypeUpdate           byte = 2
	TypeData             byte = 3
	TypeAck              byte = 4
	TypeInternet         byte = 5
	TypeInternetResponse byte = 6
)

// HeaderSize is the fixed-size prefix every packet starts with: version(1)
// + type(1) + sequence(4 BE).
const HeaderSize = 1 + 1 + 4

// Instance mirrors bridge.Instance without importing the bridge package,
// keeping codec a leaf dependency any transport-facing code can import
// without pulling in routing/state logic. bridge.Instance and
// codec.Instance have identical layout and are convertible by the caller.
type Instance [16]byte

// Packet is implemented by every decodable packet body.
type Packet interface {
	// Type returns this packet's wire type code.
	Type() byte
	// Sequence returns the packet's sequence number as carried on the
	// wire (distinct meaning per packet kind; see each type's doc).
	Sequence() uint32
	// encode appends this packet's header and body to dst and returns
	// the result.
	encode(dst []byte) []byte
}

// Handshake advertises the sender's Instance on a newly opened stream.
type Handshake struct {
	Seq      uint32
	Instance Instance
}

func (h Handshake) Type() byte       { return TypeHandshake }
func (h Handshake) Sequence() uint32 { return h.Seq }

func (h Handshake) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeHandshake, h.Seq)
	return append(dst, h.Instance[:]...)
}

func decodeHandshake(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 16 {
		return nil, 0, bodyNeedMoreData
	}
	var h Handshake
	h.Seq = seq
	copy(h.Instance[:], body[:16])
	return h, 16, bodyOK
}

// Update advertises reachability of Destination at HopCount direct hops,
// with InternetHopCount hops to the nearest Internet-capable peer via the
// advertiser (0xFF = none known).
type Update struct {
	Seq              uint32
	Destination      Instance
	HopCount         uint8
	InternetHopCount uint8
}

func (u Update) Type() byte       { return TypeUpdate }
func (u Update) Sequence() uint32 { return u.Seq }

func (u Update) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeUpdate, u.Seq)
	dst = append(dst, u.Destination[:]...)
	return append(dst, u.HopCount, u.InternetHopCount)
}

func decodeUpdate(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 18 {
		return nil, 0, bodyNeedMoreData
	}
	u := Update{Seq: seq}
	copy(u.Destination[:], body[:16])
	u.HopCount = body[16]
	u.InternetHopCount = body[17]
	return u, 18, bodyOK
}

// Data carries an application payload between Origin and Destination.
type Data struct {
	Seq         uint32
	Origin      Instance
	Destination Instance
	WantAck     bool
	Payload     []byte
}

func (d Data) Type() byte       { return TypeData }
func (d Data) Sequence() uint32 { return d.Seq }

func (d Data) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeData, d.Seq)
	dst = append(dst, d.Origin[:]...)
	dst = append(dst, d.Destination[:]...)
	if d.WantAck {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = appendU32(dst, uint32(len(d.Payload)))
	return append(dst, d.Payload...)
}

func decodeData(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 16+16+1+4 {
		return nil, 0, bodyNeedMoreData
	}
	d := Data{Seq: seq}
	copy(d.Origin[:], body[:16])
	copy(d.Destination[:], body[16:32])
	d.WantAck = body[32] != 0
	payloadLen := binary.BigEndian.Uint32(body[33:37])
	consumed := 37 + int(payloadLen)
	if len(body) < consumed {
		return nil, 0, bodyNeedMoreData
	}
	d.Payload = append([]byte(nil), body[37:consumed]...)
	return d, consumed, bodyOK
}

// Acknowledgement confirms delivery of the Data packet bearing the same
// sequence number. Origin/Destination are the acknowledgement's own
// direction: Origin is the original destination, Destination the
// original origin.
type Acknowledgement struct {
	Seq         uint32
	Origin      Instance
	Destination Instance
}

func (a Acknowledgement) Type() byte       { return TypeAck }
func (a Acknowledgement) Sequence() uint32 { return a.Seq }

func (a Acknowledgement) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeAck, a.Seq)
	dst = append(dst, a.Origin[:]...)
	return append(dst, a.Destination[:]...)
}

func decodeAck(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 32 {
		return nil, 0, bodyNeedMoreData
	}
	a := Acknowledgement{Seq: seq}
	copy(a.Origin[:], body[:16])
	copy(a.Destination[:], body[16:32])
	return a, 32, bodyOK
}

// Internet is an HTTP-like request forwarded hop by hop toward a gateway
// peer. TestID is passed through unchanged; its meaning beyond that is
// left to the caller.
type Internet struct {
	Seq      uint32
	Origin   Instance
	HopCount uint8
	TestID   uint8
	URL      string
	Body     []byte
}

func (i Internet) Type() byte       { return TypeInternet }
func (i Internet) Sequence() uint32 { return i.Seq }

func (i Internet) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeInternet, i.Seq)
	dst = append(dst, i.Origin[:]...)
	dst = append(dst, i.HopCount, i.TestID, byte(len(i.URL)))
	dst = append(dst, i.URL...)
	dst = appendU32(dst, uint32(len(i.Body)))
	return append(dst, i.Body...)
}

func decodeInternet(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 16+1+1+1 {
		return nil, 0, bodyNeedMoreData
	}
	i := Internet{Seq: seq}
	copy(i.Origin[:], body[:16])
	i.HopCount = body[16]
	i.TestID = body[17]
	urlLen := int(body[18])
	offset := 19
	if len(body) < offset+urlLen+4 {
		return nil, 0, bodyNeedMoreData
	}
	urlBytes := body[offset : offset+urlLen]
	offset += urlLen
	bodyLen := binary.BigEndian.Uint32(body[offset : offset+4])
	offset += 4
	consumed := offset + int(bodyLen)
	if len(body) < consumed {
		return nil, 0, bodyNeedMoreData
	}
	if !utf8.Valid(urlBytes) {
		return nil, consumed, bodyMalformed
	}
	i.URL = string(urlBytes)
	i.Body = append([]byte(nil), body[offset:consumed]...)
	return i, consumed, bodyOK
}

// InternetResponse carries the result of an Internet request back toward
// its originator, correlated by Seq.
type InternetResponse struct {
	Seq    uint32
	Origin Instance
	Status uint16
	Body   []byte
}

func (r InternetResponse) Type() byte       { return TypeInternetResponse }
func (r InternetResponse) Sequence() uint32 { return r.Seq }

func (r InternetResponse) encode(dst []byte) []byte {
	dst = appendHeader(dst, TypeInternetResponse, r.Seq)
	dst = append(dst, r.Origin[:]...)
	dst = appendU16(dst, r.Status)
	dst = appendU32(dst, uint32(len(r.Body)))
	return append(dst, r.Body...)
}

func decodeInternetResponse(seq uint32, body []byte) (Packet, int, bodyStatus) {
	if len(body) < 16+2+4 {
		return nil, 0, bodyNeedMoreData
	}
	r := InternetResponse{Seq: seq}
	copy(r.Origin[:], body[:16])
	r.Status = binary.BigEndian.Uint16(body[16:18])
	bodyLen := binary.BigEndian.Uint32(body[18:22])
	consumed := 22 + int(bodyLen)
	if len(body) < consumed {
		return nil, 0, bodyNeedMoreData
	}
	r.Body = append([]byte(nil), body[22:consumed]...)
	return r, consumed, bodyOK
}

func appendHeader(dst []byte, typ byte, seq uint32) []byte {
	dst = append(dst, Version, typ)
	return appendU32(dst, seq)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

// Encode serializes p to its wire form, appending to dst (which may be
// nil) and returning the result.
func Encode(dst []byte, p Packet) []byte {
	return p.encode(dst)
}
