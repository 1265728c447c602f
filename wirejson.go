// JSON wire shapes for the PUSH_DATA and PULL_RESP bodies (spec.md
// §4.5/§4.6). Field names, types and units must be preserved
// bit-for-bit for server compatibility (spec.md §6) — grounded
// directly on the "rxpk"/"stat"/"txpk" shapes demonstrated by
// _examples/akhenakh-geottn/gw/packet_json.go and
// _examples/other_examples/brocaar-chirpstack-network-server__packets.go,
// reduced to the exact Semtech field set spec.md names.
package main

import (
	"encoding/json"
)

// RxPkJSON is one element of a PUSH_DATA body's "rxpk" array.
type RxPkJSON struct {
	Tmst uint32          `json:"tmst"`
	Time string          `json:"time,omitempty"`
	Chan uint8           `json:"chan"`
	Rfch uint8           `json:"rfch"`
	Freq float64         `json:"freq"`
	Stat int8            `json:"stat"`
	Modu string          `json:"modu"`
	Datr json.RawMessage `json:"datr"`
	Codr string          `json:"codr,omitempty"`
	Lsnr float64         `json:"lsnr,omitempty"`
	Rssi int              `json:"rssi"`
	Size int              `json:"size"`
	Data []byte           `json:"data"`
}

// StatJSON is a PUSH_DATA body's optional "stat" object (spec.md
// §4.8). Field names follow the Semtech status-report convention.
type StatJSON struct {
	Time string  `json:"time"`
	Lati float64 `json:"lati,omitempty"`
	Long float64 `json:"long,omitempty"`
	Alti float64 `json:"alti,omitempty"`
	Plus string  `json:"plus,omitempty"`

	RxNb  uint32 `json:"rxnb"`
	RxOk  uint32 `json:"rxok"`
	RxFw  uint32 `json:"rxfw"`
	AckR  float64 `json:"ackr"`
	DwNb  uint32 `json:"dwnb"`
	TxNb  uint32 `json:"txnb"`
	DackR float64 `json:"dackr"`

	Pfrm string `json:"pfrm,omitempty"`
	Mail string `json:"mail,omitempty"`
	Desc string `json:"desc,omitempty"`
}

// PushDataBody is the JSON body of a PUSH_DATA datagram.
type PushDataBody struct {
	Rxpk []RxPkJSON `json:"rxpk,omitempty"`
	Stat *StatJSON  `json:"stat,omitempty"`
}

// TxPkJSON is a PULL_RESP body's "txpk" object (spec.md §4.6).
type TxPkJSON struct {
	Imme bool            `json:"imme,omitempty"`
	Tmst *uint32         `json:"tmst,omitempty"`
	Time *string         `json:"time,omitempty"`
	Freq float64         `json:"freq"`
	Rfch uint8           `json:"rfch"`
	Powe *int8           `json:"powe,omitempty"`
	Modu string          `json:"modu"`
	Datr json.RawMessage `json:"datr"`
	Codr string          `json:"codr,omitempty"`
	Fdev *uint32         `json:"fdev,omitempty"`
	Prea *int            `json:"prea,omitempty"`
	Ncrc bool            `json:"ncrc,omitempty"`
	Ipol *bool           `json:"ipol,omitempty"`
	Size int             `json:"size"`
	Data []byte          `json:"data"`
}

// PullRespBody is the JSON body of a PULL_RESP datagram, which starts
// at byte offset 4 of the datagram (spec.md §6).
type PullRespBody struct {
	Txpk TxPkJSON `json:"txpk"`
}

// rxPkFromReceived converts a ReceivedPacket into its wire form,
// applying the freq/datr/lsnr formatting rules of spec.md §4.5.
func rxPkFromReceived(pkt ReceivedPacket, utcTime string) (RxPkJSON, error) {
	datr, err := datrString(pkt.Modulation, pkt.DataRate, pkt.Bandwidth)
	if err != nil {
		return RxPkJSON{}, err
	}
	datrJSON, err := encodeDatr(pkt.Modulation, datr)
	if err != nil {
		return RxPkJSON{}, err
	}

	out := RxPkJSON{
		Tmst: pkt.CountUS,
		Time: utcTime,
		Chan: pkt.IFChain,
		Rfch: pkt.RFChain,
		Freq: float64(pkt.FreqHz) / 1e6,
		Stat: pkt.CRC.StatValue(),
		Modu: pkt.Modulation.String(),
		Datr: datrJSON,
		Rssi: int(pkt.RSSI),
		Size: int(pkt.Size),
		Data: pkt.Payload,
	}
	if pkt.Modulation == ModLoRa {
		out.Codr = string(pkt.CodeRate)
		out.Lsnr = roundTo(float64(pkt.SNR), 1)
	}
	out.Freq = roundTo(out.Freq, 6)
	return out, nil
}

// encodeDatr re-marshals the formatted datr string/number into the
// polymorphic JSON form the wire protocol needs: a quoted string for
// LoRa, a bare number for FSK.
func encodeDatr(mod Modulation, datr string) (json.RawMessage, error) {
	if mod == ModFSK {
		return json.RawMessage(datr), nil
	}
	return json.Marshal(datr)
}

func roundTo(v float64, decimals int) float64 {
	shift := 1.0
	for i := 0; i < decimals; i++ {
		shift *= 10
	}
	return float64(int64(v*shift+sign(v)*0.5)) / shift
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func freqHzFromMHz(mhz float64) uint32 {
	return uint32(mhz*1e6 + 0.5)
}
