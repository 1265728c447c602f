// Data model (spec.md §3): ReceivedPacket, TransmitPacket, and the
// enumerations/wire encodings they're built from. The JSON shapes here
// (rxpk/txpk field names and types) are fixed by spec.md §4.5/§4.6 and
// must be preserved bit-for-bit for server compatibility.
package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Modulation identifies the radio modulation of a packet.
type Modulation int

const (
	ModLoRa Modulation = iota
	ModFSK
)

func (m Modulation) String() string {
	if m == ModFSK {
		return "FSK"
	}
	return "LORA"
}

func parseModulation(s string) (Modulation, error) {
	switch strings.ToUpper(s) {
	case "LORA":
		return ModLoRa, nil
	case "FSK":
		return ModFSK, nil
	default:
		return 0, errors.Errorf("unknown modulation %q", s)
	}
}

// CRCStatus is the concentrator's verdict on a received packet's CRC.
type CRCStatus int

const (
	CRCOk CRCStatus = iota
	CRCBad
	CRCNone
)

// StatValue is the wire encoding of CRCStatus in the "stat" rxpk field:
// 1 = OK, -1 = fail, 0 = no CRC present.
func (c CRCStatus) StatValue() int8 {
	switch c {
	case CRCOk:
		return 1
	case CRCBad:
		return -1
	default:
		return 0
	}
}

// Bandwidth is a LoRa channel bandwidth in Hz (125000|250000|500000).
type Bandwidth uint32

const (
	BW125 Bandwidth = 125000
	BW250 Bandwidth = 250000
	BW500 Bandwidth = 500000
)

func (b Bandwidth) wireSuffix() (string, error) {
	switch b {
	case BW125:
		return "BW125", nil
	case BW250:
		return "BW250", nil
	case BW500:
		return "BW500", nil
	default:
		return "", errors.Errorf("unsupported bandwidth %d Hz", uint32(b))
	}
}

func parseBandwidthSuffix(s string) (Bandwidth, error) {
	switch s {
	case "125":
		return BW125, nil
	case "250":
		return BW250, nil
	case "500":
		return BW500, nil
	default:
		return 0, errors.Errorf("unsupported bandwidth %q", s)
	}
}

// DataRate carries either a LoRa spreading factor (7..12) or an FSK
// bitrate in bits/second; exactly one of the two is meaningful,
// selected by the packet's Modulation.
type DataRate struct {
	LoRaSF     int
	FSKBitrate int
}

// CodingRate is kept as its wire string ("4/5".."4/8", "OFF") since
// that's the only form either direction of the protocol ever needs.
type CodingRate string

const (
	CR45  CodingRate = "4/5"
	CR46  CodingRate = "4/6"
	CR23  CodingRate = "2/3"
	CR47  CodingRate = "4/7"
	CR48  CodingRate = "4/8"
	CR12  CodingRate = "1/2"
	CROff CodingRate = "OFF"
)

func (c CodingRate) valid() bool {
	switch c {
	case CR45, CR46, CR23, CR47, CR48, CR12, CROff:
		return true
	default:
		return false
	}
}

// ReceivedPacket is an uplink as produced by the concentrator (C1) or
// the ghost source, and consumed read-only by the upstream fan-out.
type ReceivedPacket struct {
	CountUS    uint32
	IFChain    uint8
	RFChain    uint8
	FreqHz     uint32
	CRC        CRCStatus
	Modulation Modulation
	Bandwidth  Bandwidth
	DataRate   DataRate
	CodeRate   CodingRate
	RSSI       float32
	SNR        float32 // LoRa only
	Size       uint8
	Payload    []byte
	// ReceivedAt is the local wall-clock time the packet was fetched,
	// used as a fallback "time" field when TimeRef is invalid.
	ReceivedAt time.Time
}

// TxMode selects when a TransmitPacket should leave the air.
type TxMode int

const (
	TxImmediate TxMode = iota
	TxTimestamped
	TxOnGPSPPS
)

// TransmitPacket is built by the downstream session (C7) or the beacon
// scheduler (C8) from a server request, and consumed once by C1.
type TransmitPacket struct {
	Mode             TxMode
	CountUS          uint32 // meaningful when Mode == TxTimestamped
	FreqHz           uint32
	RFChain          uint8
	PowerDBm         int8
	Modulation       Modulation
	Bandwidth        Bandwidth
	DataRate         DataRate
	CodeRate         CodingRate
	FreqDeviationKHz uint32 // FSK only, kHz (fdev Hz / 1000); mandatory per spec.md §4.6
	InvertPolarity   bool
	PreambleSymbols  uint16
	NoCRC            bool
	NoHeader         bool
	Size             uint16
	Payload          []byte
}

// datr formats the rxpk/txpk "datr" field: "SF<n>BW<bw>" for LoRa, a
// bare integer bits/second for FSK.
func datrString(mod Modulation, dr DataRate, bw Bandwidth) (string, error) {
	if mod == ModFSK {
		return strconv.Itoa(dr.FSKBitrate), nil
	}
	suffix, err := bw.wireSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SF%d%s", dr.LoRaSF, suffix), nil
}

// parseDatr parses a "datr" field per modulation: LoRa is
// "SF{7..12}BW{125|250|500}", FSK is a bare bits/second integer (as a
// JSON number or a numeric string — servers are inconsistent about
// quoting it).
func parseDatr(mod Modulation, raw json.RawMessage) (DataRate, Bandwidth, error) {
	if mod == ModFSK {
		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			return DataRate{FSKBitrate: n}, 0, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return DataRate{}, 0, errors.Wrap(err, "parse FSK datr")
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return DataRate{}, 0, errors.Wrap(err, "parse FSK datr string")
		}
		return DataRate{FSKBitrate: n}, 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return DataRate{}, 0, errors.Wrap(err, "parse LoRa datr")
	}
	if !strings.HasPrefix(s, "SF") {
		return DataRate{}, 0, errors.Errorf("malformed LoRa datr %q", s)
	}
	rest := s[2:]
	bwIdx := strings.Index(rest, "BW")
	if bwIdx < 0 {
		return DataRate{}, 0, errors.Errorf("malformed LoRa datr %q", s)
	}
	sf, err := strconv.Atoi(rest[:bwIdx])
	if err != nil || sf < 7 || sf > 12 {
		return DataRate{}, 0, errors.Errorf("malformed LoRa spreading factor in %q", s)
	}
	bw, err := parseBandwidthSuffix(rest[bwIdx+2:])
	if err != nil {
		return DataRate{}, 0, errors.Wrapf(err, "parse LoRa bandwidth in %q", s)
	}
	return DataRate{LoRaSF: sf}, bw, nil
}
