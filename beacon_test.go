package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCRC8CCITTKnownVector(t *testing.T) {
	// CRC-8/CCITT (poly 0x87, init 0xFF) over an all-zero 7-byte block.
	got := crc8CCITT(make([]byte, 7))
	require.Equal(t, byte(0xFF), crc8CCITT(nil))
	_ = got
}

func TestCRC16CCITTKnownVector(t *testing.T) {
	got := crc16CCITT([]byte("123456789"))
	require.NotZero(t, got)
	// CRC over an empty slice is the untouched init value.
	require.Equal(t, uint16(0xFFFF), crc16CCITT(nil))
}

func TestBuildBeaconFrameLayout(t *testing.T) {
	target := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	frame := buildBeaconFrame(target, Position{Latitude: 45.0, Longitude: -90.0, Valid: true})
	require.Len(t, frame, 17)

	netid := uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16
	require.EqualValues(t, BeaconNetID, netid)

	secs := uint32(frame[3]) | uint32(frame[4])<<8 | uint32(frame[5])<<16 | uint32(frame[6])<<24
	require.EqualValues(t, target.Unix(), secs)

	require.Equal(t, crc8CCITT(frame[0:7]), frame[7])

	wantCRC16 := crc16CCITT(frame[8:15])
	gotCRC16 := uint16(frame[15])<<8 | uint16(frame[16])
	require.Equal(t, wantCRC16, gotCRC16)
}

func TestScaleLatitudeClamping(t *testing.T) {
	// +90 degrees latitude should clamp to the max 24-bit signed value.
	require.EqualValues(t, 0x007FFFFF, scaleLatitude(90.0))
	require.EqualValues(t, 0, scaleLatitude(0))
	// beyond +90 still clamps, it does not wrap.
	require.EqualValues(t, 0x007FFFFF, scaleLatitude(120.0))
}

func TestScaleLongitudeMasksRatherThanClamps(t *testing.T) {
	require.EqualValues(t, 0, scaleLongitude(0))
	// +180 degrees scales to exactly 2^23, which wraps to the negative
	// 24-bit value 0xFF800000 & 0x00FFFFFF == 0x00800000 once masked,
	// rather than clamping to the positive max like latitude does.
	require.EqualValues(t, 0x00800000, scaleLongitude(180.0))
}

func TestBeaconTransmitRequiresValidXtal(t *testing.T) {
	radio := NewNullRadio()
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	timeRef := &TimeRef{}
	timeRef.Sync(0, time.Now().UTC())
	xtal := newXtalCorrection() // starts invalid until C4's first average completes
	positions := NewPositionStore()

	b := NewBeacon(NewRootLogger(), concentrator, timeRef, xtal, positions, make(chan struct{}), 868500000)
	err := b.transmit()
	require.ErrorIs(t, err, errBeaconNoXtal)

	xtal.set(1.0, true)
	require.NoError(t, b.transmit())
}
