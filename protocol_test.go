package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Version: ProtocolVersion, Token: 0xBEEF, Type: TypePushData, EUI: EUI64FromUint64(0x00800000deadbeef)}
	encoded := h.Encode()
	require.Len(t, encoded, HeaderSize)

	decoded, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderShortDatagram(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortDatagram)
}

func TestDecodeHeaderBadVersion(t *testing.T) {
	buf := Header{Version: 9, Type: TypePullData}.Encode()
	_, err := DecodeHeader(buf)
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestShortHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := ShortHeader{Version: ProtocolVersion, Token: 0x1234, Type: TypePullAck}
	encoded := h.Encode()
	require.Len(t, encoded, ShortHeaderSize)

	decoded, err := DecodeShortHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeShortHeaderTooShort(t *testing.T) {
	_, err := DecodeShortHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortDatagram)
}

func TestTokenMatches(t *testing.T) {
	require.True(t, tokenMatches(0x1234, 0x1234))
	require.False(t, tokenMatches(0x1234, 0x1235))
}

func TestEUI64FromBytes(t *testing.T) {
	eui := EUI64FromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, eui)
}
