// C8: beacon scheduler (spec.md §4.7), promoted to its own task
// triggered by the single-slot channel C3 arms, per spec.md §9's
// redesign note moving beacon handling out of the per-endpoint
// downstream task. Builds the fixed 17-byte beacon frame, submits it
// to C1, and polls for completion. Grounded on the periodic-task shape
// of _examples/Safecast-TTServe/timer.go and the CRC framing idiom of
// _examples/other_examples/xenek-packet_forwarder__gps_HALV1.go's
// beacon builder.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"
)

var errBeaconNoTimeRef = errors.New("beacon: time reference invalid")
var errBeaconNoXtal = errors.New("beacon: XTAL correction invalid")

// Beacon is C8.
type Beacon struct {
	logger       log.Logger
	concentrator *Concentrator
	timeRef      *TimeRef
	xtal         *XtalCorrection
	positions    *PositionStore
	armed        <-chan struct{}

	freqHz uint32
}

// NewBeacon wires C8 to the single-slot channel C3 arms and the
// hardware/time state it needs to build a frame.
func NewBeacon(logger log.Logger, concentrator *Concentrator, timeRef *TimeRef, xtal *XtalCorrection, positions *PositionStore, armed <-chan struct{}, freqHz uint32) *Beacon {
	return &Beacon{
		logger:       logger,
		concentrator: concentrator,
		timeRef:      timeRef,
		xtal:         xtal,
		positions:    positions,
		armed:        armed,
		freqHz:       freqHz,
	}
}

// Run waits for C3's arm signal and transmits one beacon per arming,
// until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.armed:
			if err := b.transmit(); err != nil {
				logWarn(b.logger, "beacon transmit failed", "err", err)
			}
		}
	}
}

// transmit implements spec.md §4.7: build the frame, submit under C1's
// lock, then poll Status() for completion. Requires both GNSS time
// reference and XTAL correction to be valid, per spec.md §4.6's
// "GNSS+XTAL both valid" precondition for beacon handoff.
func (b *Beacon) transmit() error {
	snap := b.timeRef.Snapshot()
	if !snap.Valid {
		return errBeaconNoTimeRef
	}
	xtalMult, ok := b.xtal.Snapshot()
	if !ok {
		return errBeaconNoXtal
	}

	targetUTC := snap.UTC.Truncate(time.Second).Add(time.Second)
	payload := buildBeaconFrame(targetUTC, b.positions.Get())

	pkt := TransmitPacket{
		Mode:            TxOnGPSPPS,
		FreqHz:          uint32(xtalMult*float64(b.freqHz) + 0.5),
		PowerDBm:        14,
		Modulation:      ModLoRa,
		Bandwidth:       BW125,
		DataRate:        DataRate{LoRaSF: 9},
		CodeRate:        CR45,
		InvertPolarity:  true,
		PreambleSymbols: 6,
		NoCRC:           true,
		NoHeader:        true,
		Size:            uint16(len(payload)),
		Payload:         payload,
	}

	reason, err := b.concentrator.Send(pkt)
	if err != nil {
		logWarn(b.logger, "beacon rejected by concentrator", "reason", reason)
		return err
	}

	for i := 0; i < BeaconPollBudget; i++ {
		status, err := b.concentrator.Status()
		if err != nil {
			return err
		}
		if status == StatusFree {
			logDebug(b.logger, "beacon transmitted")
			return nil
		}
		time.Sleep(BeaconPollInterval)
	}
	logWarn(b.logger, "beacon did not complete within poll budget")
	return nil
}

// buildBeaconFrame lays out the 17-byte payload per spec.md §4.7.
func buildBeaconFrame(targetUTC time.Time, pos Position) []byte {
	frame := make([]byte, 17)

	netid := uint32(BeaconNetID)
	frame[0] = byte(netid)
	frame[1] = byte(netid >> 8)
	frame[2] = byte(netid >> 16)

	secs := uint32(targetUTC.Unix())
	frame[3] = byte(secs)
	frame[4] = byte(secs >> 8)
	frame[5] = byte(secs >> 16)
	frame[6] = byte(secs >> 24)

	frame[7] = crc8CCITT(frame[0:7])

	frame[8] = 0 // info field: no additional GPS precision data encoded

	latField := scaleLatitude(pos.Latitude)
	frame[9] = byte(latField)
	frame[10] = byte(latField >> 8)
	frame[11] = byte(latField >> 16)

	lonField := scaleLongitude(pos.Longitude)
	frame[12] = byte(lonField)
	frame[13] = byte(lonField >> 8)
	frame[14] = byte(lonField >> 16)

	crc16 := crc16CCITT(frame[8:15])
	frame[15] = byte(crc16 >> 8)
	frame[16] = byte(crc16)

	return frame
}

// scaleLatitude maps a signed latitude in degrees to its 24-bit beacon
// field, clamped to the 24-bit signed range [0xFF800000, 0x007FFFFF]
// per spec.md §4.7.
func scaleLatitude(degrees float64) uint32 {
	scaled := int64((degrees / 90) * (1 << 23))
	const maxVal = 0x007FFFFF
	const minVal = -0x00800000
	if scaled > maxVal {
		scaled = maxVal
	}
	if scaled < minVal {
		scaled = minVal
	}
	return uint32(scaled) & 0x00FFFFFF
}

// scaleLongitude maps a signed longitude in degrees to its 24-bit
// beacon field, masked (not clamped) to 24 bits per spec.md §4.7 — at
// the ±180° boundary this wraps rather than saturating.
func scaleLongitude(degrees float64) uint32 {
	scaled := int64((degrees / 180) * (1 << 23))
	return uint32(scaled) & 0x00FFFFFF
}

// crc8CCITT implements the poly 0x87, init 0xFF CRC spec.md §4.7 names.
func crc8CCITT(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x87
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc16CCITT implements the poly 0x1021, init 0xFFFF CRC spec.md §4.7
// names, big-endian output.
func crc16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
