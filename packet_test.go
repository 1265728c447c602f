package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatrStringLoRa(t *testing.T) {
	s, err := datrString(ModLoRa, DataRate{LoRaSF: 9}, BW125)
	require.NoError(t, err)
	require.Equal(t, "SF9BW125", s)
}

func TestDatrStringFSK(t *testing.T) {
	s, err := datrString(ModFSK, DataRate{FSKBitrate: 50000}, 0)
	require.NoError(t, err)
	require.Equal(t, "50000", s)
}

func TestParseDatrLoRa(t *testing.T) {
	dr, bw, err := parseDatr(ModLoRa, json.RawMessage(`"SF7BW125"`))
	require.NoError(t, err)
	require.Equal(t, 7, dr.LoRaSF)
	require.Equal(t, BW125, bw)
}

func TestParseDatrFSKNumber(t *testing.T) {
	dr, _, err := parseDatr(ModFSK, json.RawMessage(`50000`))
	require.NoError(t, err)
	require.Equal(t, 50000, dr.FSKBitrate)
}

func TestParseDatrFSKQuotedNumber(t *testing.T) {
	dr, _, err := parseDatr(ModFSK, json.RawMessage(`"50000"`))
	require.NoError(t, err)
	require.Equal(t, 50000, dr.FSKBitrate)
}

func TestParseDatrMalformedLoRa(t *testing.T) {
	_, _, err := parseDatr(ModLoRa, json.RawMessage(`"SF99BW125"`))
	require.Error(t, err)
}

func TestCodingRateValid(t *testing.T) {
	require.True(t, CR45.valid())
	require.True(t, CROff.valid())
	require.False(t, CodingRate("9/9").valid())
}

func TestCRCStatusValue(t *testing.T) {
	require.EqualValues(t, 1, CRCOk.StatValue())
	require.EqualValues(t, -1, CRCBad.StatValue())
	require.EqualValues(t, 0, CRCNone.StatValue())
}

func TestRxPkFromReceivedLoRa(t *testing.T) {
	pkt := ReceivedPacket{
		CountUS:    3512348611,
		IFChain:    2,
		RFChain:    0,
		FreqHz:     866349812,
		CRC:        CRCOk,
		Modulation: ModLoRa,
		Bandwidth:  BW125,
		DataRate:   DataRate{LoRaSF: 7},
		CodeRate:   CR46,
		RSSI:       -35,
		SNR:        5.1,
		Size:       32,
		Payload:    []byte("FAKE\n"),
	}
	entry, err := rxPkFromReceived(pkt, "2013-03-31T16:21:17.528002Z")
	require.NoError(t, err)
	require.Equal(t, uint32(3512348611), entry.Tmst)
	require.Equal(t, "LORA", entry.Modu)
	require.Equal(t, "4/6", entry.Codr)
	require.InDelta(t, 866.349812, entry.Freq, 1e-6)
	require.EqualValues(t, 1, entry.Stat)

	var datr string
	require.NoError(t, json.Unmarshal(entry.Datr, &datr))
	require.Equal(t, "SF7BW125", datr)
}

func TestRxPkFromReceivedFSKHasNoCodrOrLsnr(t *testing.T) {
	pkt := ReceivedPacket{
		Modulation: ModFSK,
		DataRate:   DataRate{FSKBitrate: 50000},
		CRC:        CRCOk,
		Size:       16,
		Payload:    []byte("TEST_PACKET_1234"),
	}
	entry, err := rxPkFromReceived(pkt, "2013-03-31T16:21:17.530974Z")
	require.NoError(t, err)
	require.Equal(t, "FSK", entry.Modu)
	require.Empty(t, entry.Codr)
	require.Zero(t, entry.Lsnr)
	require.Equal(t, json.RawMessage("50000"), entry.Datr)
}
