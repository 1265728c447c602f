// C7: per-endpoint downstream session (spec.md §4.6). Alternates
// between Polling (send PULL_DATA, wait for PULL_ACK) and Listening
// (wait up to pull_timeout for a PULL_RESP or the next keepalive), and
// turns each accepted PULL_RESP into a TransmitPacket submitted to C1.
// Grounded on the poll/listen state machine of
// _examples/Safecast-TTServe/udp.go generalised from its single fixed
// server to the N-endpoint shape spec.md requires.
package main

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

type downstreamState int

const (
	statePolling downstreamState = iota
	stateListening
)

// Downstream is C7, one instance per server endpoint.
type Downstream struct {
	logger       log.Logger
	endpoint     *Endpoint
	concentrator *Concentrator
	timeRef      *TimeRef
	counters     *DownstreamCounters
	gatewayEUI   [8]byte

	keepalive         time.Duration
	pullTimeout       time.Duration
	autoquitThreshold int

	requestShutdown context.CancelFunc
}

// NewDownstream wires C7 to the endpoint it serves and the hardware it
// schedules transmissions on.
func NewDownstream(logger log.Logger, endpoint *Endpoint, concentrator *Concentrator, timeRef *TimeRef, counters *DownstreamCounters, eui [8]byte, keepalive, pullTimeout time.Duration, autoquitThreshold int, requestShutdown context.CancelFunc) *Downstream {
	return &Downstream{
		logger:            logger,
		endpoint:          endpoint,
		concentrator:      concentrator,
		timeRef:           timeRef,
		counters:          counters,
		gatewayEUI:        eui,
		keepalive:         keepalive,
		pullTimeout:       pullTimeout,
		autoquitThreshold: autoquitThreshold,
		requestShutdown:   requestShutdown,
	}
}

// Run drives the Polling/Listening state machine until ctx is
// cancelled (spec.md §4.6).
func (d *Downstream) Run(ctx context.Context) {
	var (
		token        uint16
		reqAcked     bool
		autoquitN    int
		listenUntil  time.Time
	)
	state := statePolling

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch state {
		case statePolling:
			token = NewToken()
			if err := d.sendPullData(token); err != nil {
				logWarn(d.logger, "PULL_DATA send failed", "endpoint", d.endpoint.Host, "err", err)
			} else {
				d.counters.addPull(1)
			}
			reqAcked = false
			autoquitN++
			if d.autoquitThreshold > 0 && autoquitN >= d.autoquitThreshold {
				logWarn(d.logger, "autoquit threshold reached, requesting shutdown", "endpoint", d.endpoint.Host)
				if d.requestShutdown != nil {
					d.requestShutdown()
				}
				return
			}
			listenUntil = time.Now().Add(d.keepalive)
			state = stateListening

		case stateListening:
			remaining := time.Until(listenUntil)
			if remaining <= 0 {
				state = statePolling
				continue
			}
			if remaining > d.pullTimeout {
				remaining = d.pullTimeout
			}
			datagram, err := d.recv(remaining)
			if err != nil {
				if isTimeout(err) {
					if time.Now().After(listenUntil) {
						state = statePolling
					}
					continue
				}
				logWarn(d.logger, "downstream recv error", "endpoint", d.endpoint.Host, "err", err)
				continue
			}

			hdr, err := DecodeShortHeader(datagram)
			if err != nil {
				logWarn(d.logger, "malformed downstream datagram", "endpoint", d.endpoint.Host, "err", err)
				continue
			}

			switch hdr.Type {
			case TypePullAck:
				if !tokenMatches(token, hdr.Token) || reqAcked {
					logDebug(d.logger, "duplicate or out-of-sync PULL_ACK", "endpoint", d.endpoint.Host)
					continue
				}
				reqAcked = true
				autoquitN = 0
				d.counters.addAck()

			case TypePullResp:
				d.handlePullResp(datagram[ShortHeaderSize:], uint64(len(datagram)))

			default:
				logDebug(d.logger, "unexpected datagram type on downstream socket", "type", hdr.Type, "endpoint", d.endpoint.Host)
			}

			if time.Now().After(listenUntil) {
				state = statePolling
			}
		}
	}
}

func (d *Downstream) sendPullData(token uint16) error {
	hdr := Header{Version: ProtocolVersion, Token: token, Type: TypePullData, EUI: d.gatewayEUI}
	_, err := d.endpoint.DownConn.Write(hdr.Encode())
	return errors.Wrap(err, "write PULL_DATA")
}

func (d *Downstream) recv(timeout time.Duration) ([]byte, error) {
	if err := setReadTimeout(d.endpoint.DownConn, timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 2048)
	n, err := d.endpoint.DownConn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// handlePullResp implements spec.md §4.6's PULL_RESP handling: parse
// the txpk body, validate timing/field requirements, build a
// TransmitPacket, and submit it to C1. A validation failure aborts
// with a warning and no counter movement at all, matching spec.md §8
// scenario 4 ("parse failed before record"); only once a TransmitPacket
// is successfully built does dw_dgram_rcv/dw_network_byte/
// dw_payload_byte and the tx-result counters move (spec.md §4.6).
func (d *Downstream) handlePullResp(body []byte, netBytes uint64) {
	var resp PullRespBody
	if err := json.Unmarshal(body, &resp); err != nil {
		logWarn(d.logger, "PULL_RESP body parse failed", "endpoint", d.endpoint.Host, "err", err)
		return
	}
	tx := resp.Txpk

	pkt, err := d.buildTransmitPacket(tx)
	if err != nil {
		logWarn(d.logger, "PULL_RESP rejected", "endpoint", d.endpoint.Host, "err", err)
		return
	}

	d.counters.addReceived(netBytes, uint64(tx.Size))

	reason, err := d.concentrator.Send(pkt)
	if err != nil {
		logWarn(d.logger, "concentrator rejected TX", "endpoint", d.endpoint.Host, "reason", reason, "err", err)
		d.counters.addTxResult(false)
		return
	}
	d.counters.addTxResult(true)
}

// buildTransmitPacket implements spec.md §4.6's timing/field rules.
func (d *Downstream) buildTransmitPacket(tx TxPkJSON) (TransmitPacket, error) {
	mod, err := parseModulation(tx.Modu)
	if err != nil {
		return TransmitPacket{}, errors.Wrap(err, "parse modulation")
	}
	dr, bw, err := parseDatr(mod, tx.Datr)
	if err != nil {
		return TransmitPacket{}, errors.Wrap(err, "parse datr")
	}

	pkt := TransmitPacket{
		FreqHz:          freqHzFromMHz(tx.Freq),
		RFChain:         tx.Rfch,
		Modulation:      mod,
		Bandwidth:       bw,
		DataRate:        dr,
		NoCRC:           tx.Ncrc,
		Size:            uint16(tx.Size),
		Payload:         tx.Data,
		PreambleSymbols: stdPreamble(mod),
	}
	if tx.Powe != nil {
		pkt.PowerDBm = *tx.Powe
	}
	if tx.Ipol != nil {
		pkt.InvertPolarity = *tx.Ipol
	}
	if tx.Prea != nil {
		prea := uint16(*tx.Prea)
		if floor := minPreamble(mod); prea < floor {
			prea = floor
		}
		pkt.PreambleSymbols = prea
	}
	if mod == ModLoRa {
		pkt.CodeRate = CodingRate(tx.Codr)
		if !pkt.CodeRate.valid() {
			return TransmitPacket{}, errors.Errorf("invalid coding rate %q", tx.Codr)
		}
	} else {
		if tx.Fdev == nil {
			return TransmitPacket{}, errors.New("FSK txpk missing mandatory fdev")
		}
		pkt.FreqDeviationKHz = *tx.Fdev / 1000
	}

	switch {
	case tx.Imme:
		pkt.Mode = TxImmediate
	case tx.Tmst != nil:
		pkt.Mode = TxTimestamped
		pkt.CountUS = *tx.Tmst
	case tx.Time != nil:
		utc, err := time.Parse(time.RFC3339, *tx.Time)
		if err != nil {
			return TransmitPacket{}, errors.Wrap(err, "parse txpk time")
		}
		snap := d.timeRef.Snapshot()
		if !snap.Valid {
			return TransmitPacket{}, errors.New("txpk time requires a valid time reference")
		}
		counter, ok := snap.UTCToCounter(utc, 1.0)
		if !ok {
			return TransmitPacket{}, errors.New("time reference stale")
		}
		pkt.Mode = TxTimestamped
		pkt.CountUS = counter
	default:
		return TransmitPacket{}, errors.New("txpk missing imme/tmst/time")
	}

	return pkt, nil
}

func minPreamble(mod Modulation) uint16 {
	if mod == ModFSK {
		return MinFSKPreamble
	}
	return MinLoRaPreamble
}

func stdPreamble(mod Modulation) uint16 {
	if mod == ModFSK {
		return StdFSKPreamble
	}
	return StdLoRaPreamble
}
