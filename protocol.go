// Wire protocol: the fixed 12-byte header shared by every datagram in
// both directions, and the message-type constants from spec.md §6.
package main

import (
	"encoding/binary"
	"math/rand"

	"github.com/pkg/errors"
)

// Message types, as they appear on the wire (spec.md §6, §GLOSSARY).
const (
	TypePushData byte = 0
	TypePushAck  byte = 1
	TypePullData byte = 2
	TypePullResp byte = 3
	TypePullAck  byte = 4
)

// ProtocolVersion is the only version byte this forwarder speaks.
const ProtocolVersion byte = 1

// HeaderSize is the size in bytes of the gateway-originated header
// (PUSH_DATA, PULL_DATA), which carries the gateway EUI.
const HeaderSize = 12

// ShortHeaderSize is the size in bytes of the server-originated header
// (PUSH_ACK, PULL_ACK, PULL_RESP), which omits the EUI: the UDP socket
// it arrives on already identifies the gateway (spec.md §6).
const ShortHeaderSize = 4

// ErrShortDatagram is returned when a datagram is too small to carry a
// header.
var ErrShortDatagram = errors.New("datagram shorter than protocol header")

// ErrBadVersion is returned when a datagram's version byte isn't 1.
var ErrBadVersion = errors.New("unsupported protocol version")

// Header is the 12-byte prefix of a gateway-originated datagram:
// {ver, token_h, token_l, type, gateway_EUI(8)}.
type Header struct {
	Version byte
	Token   uint16
	Type    byte
	EUI     [8]byte
}

// Encode serialises the header to its 12-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = byte(h.Token >> 8)
	buf[2] = byte(h.Token)
	buf[3] = h.Type
	copy(buf[4:], h.EUI[:])
	return buf
}

// DecodeHeader parses a gateway-originated 12-byte header. It does not
// validate the type byte against any particular expected value;
// callers check Type themselves.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortDatagram
	}
	h := Header{
		Version: b[0],
		Token:   uint16(b[1])<<8 | uint16(b[2]),
		Type:    b[3],
	}
	copy(h.EUI[:], b[4:12])
	if h.Version != ProtocolVersion {
		return h, ErrBadVersion
	}
	return h, nil
}

// ShortHeader is the 4-byte prefix of a server-originated datagram:
// {ver, token_h, token_l, type}.
type ShortHeader struct {
	Version byte
	Token   uint16
	Type    byte
}

// Encode serialises the short header to its 4-byte wire form.
func (h ShortHeader) Encode() []byte {
	return []byte{h.Version, byte(h.Token >> 8), byte(h.Token), h.Type}
}

// DecodeShortHeader parses the fixed prefix of a server-originated
// datagram (PUSH_ACK, PULL_ACK, PULL_RESP). spec.md §6's "drop
// datagrams with length < 4" check is this function's length guard.
func DecodeShortHeader(b []byte) (ShortHeader, error) {
	if len(b) < ShortHeaderSize {
		return ShortHeader{}, ErrShortDatagram
	}
	h := ShortHeader{
		Version: b[0],
		Token:   uint16(b[1])<<8 | uint16(b[2]),
		Type:    b[3],
	}
	if h.Version != ProtocolVersion {
		return h, ErrBadVersion
	}
	return h, nil
}

// tokenMatches reports whether an ack's token bytes equal the request's.
func tokenMatches(reqToken, ackToken uint16) bool {
	return reqToken == ackToken
}

// NewToken draws a fresh 16-bit token to pair a request with its
// acknowledgement (spec.md §3 TokenMatch).
func NewToken() uint16 {
	return uint16(rand.Intn(1 << 16))
}

// EUI64FromBytes packs an 8-byte slice into a fixed EUI array,
// big-endian as it appears on the wire.
func EUI64FromBytes(b []byte) (eui [8]byte) {
	copy(eui[:], b)
	return eui
}

// EUI64FromUint64 packs a 64-bit gateway identifier into wire order.
func EUI64FromUint64(v uint64) (eui [8]byte) {
	binary.BigEndian.PutUint64(eui[:], v)
	return eui
}
