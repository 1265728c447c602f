// C6: upstream fan-out (spec.md §4.5). The single task that drains
// the concentrator, tops up with ghost packets, builds one PUSH_DATA
// body per cycle and fans it out to every live server endpoint,
// matching each PUSH_ACK against the token it sent. Grounded on the
// poll/build/send loop shape of _examples/Safecast-TTServe/udp.go
// combined with the packet-filtering rules of
// _examples/other_examples/xenek-packet_forwarder__uplinks_HALV1.go.
package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Upstream is C6.
type Upstream struct {
	logger       log.Logger
	concentrator *Concentrator
	timeRef      *TimeRef
	endpoints    []*Endpoint
	ghost        GhostSource
	report       *StatusReport
	counters     *UpstreamCounters
	gatewayEUI   [8]byte

	forwardCRCValid    bool
	forwardCRCError    bool
	forwardCRCDisabled bool

	pushTimeout time.Duration
}

// NewUpstream wires C6 to the components it drains and fans out to.
func NewUpstream(logger log.Logger, concentrator *Concentrator, timeRef *TimeRef, endpoints []*Endpoint, ghost GhostSource, report *StatusReport, counters *UpstreamCounters, eui [8]byte, forwardValid, forwardError, forwardDisabled bool, pushTimeout time.Duration) *Upstream {
	if ghost == nil {
		ghost = NoGhostSource{}
	}
	return &Upstream{
		logger:             logger,
		concentrator:       concentrator,
		timeRef:            timeRef,
		endpoints:          endpoints,
		ghost:              ghost,
		report:             report,
		counters:           counters,
		gatewayEUI:         eui,
		forwardCRCValid:    forwardValid,
		forwardCRCError:    forwardError,
		forwardCRCDisabled: forwardDisabled,
		pushTimeout:        pushTimeout,
	}
}

// Run drives one fetch/build/fan-out cycle every FetchSleep until ctx
// is cancelled (spec.md §4.5 step 1).
func (u *Upstream) Run(ctx context.Context) {
	ticker := time.NewTicker(FetchSleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.cycle(ctx); err != nil {
				logWarn(u.logger, "upstream cycle failed", "err", err)
			}
		}
	}
}

// cycle implements spec.md §4.5 steps 1-6.
func (u *Upstream) cycle(ctx context.Context) error {
	received, err := u.concentrator.Receive(NbPktMax)
	if err != nil {
		return errors.Wrap(err, "receive from concentrator")
	}
	u.counters.addReceived(uint32(len(received)))

	snap := u.timeRef.Snapshot()

	var rxpk []RxPkJSON
	var okCount uint32
	var networkBytes, payloadBytes uint64
	for _, pkt := range received {
		if !u.passesFilter(pkt.CRC) {
			continue
		}
		utcStr := ""
		if t, ok := snap.CounterToUTC(pkt.CountUS, 1.0); ok {
			utcStr = t.Format(time.RFC3339Nano)
		} else {
			utcStr = time.Now().UTC().Format(time.RFC3339Nano)
		}
		entry, err := rxPkFromReceived(pkt, utcStr)
		if err != nil {
			logWarn(u.logger, "rxpk encode skipped", "err", err)
			continue
		}
		rxpk = append(rxpk, entry)
		okCount++
		payloadBytes += uint64(entry.Size)
		networkBytes += uint64(entry.Size) + HeaderSize
	}

	remaining := NbPktMax - len(rxpk)
	if remaining > 0 {
		ghostPkts, err := u.ghost.Fetch(ctx, remaining)
		if err != nil {
			logWarn(u.logger, "ghost fetch failed", "err", err)
		}
		rxpk = append(rxpk, ghostPkts...)
	}

	u.counters.addForwarded(okCount, uint32(len(rxpk)), networkBytes, payloadBytes)

	body := PushDataBody{Rxpk: rxpk}
	if stat := u.report.Take(); stat != nil {
		body.Stat = stat
	}
	if len(body.Rxpk) == 0 && body.Stat == nil {
		return nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal PUSH_DATA body")
	}

	token := NewToken()
	var sent, acked uint32
	for _, ep := range u.endpoints {
		if !ep.Live() {
			continue
		}
		if err := u.sendOne(ep, token, payload); err != nil {
			logWarn(u.logger, "PUSH_DATA send failed", "endpoint", ep.Host, "err", err)
			continue
		}
		sent++
		if u.awaitAck(ep) {
			acked++
		}
	}
	u.counters.addSent(sent, acked)
	return nil
}

// passesFilter applies spec.md §4.5's forward_crc_valid/_error/_disabled
// status flags (refined per SPEC_FULL.md §4 item 2).
func (u *Upstream) passesFilter(status CRCStatus) bool {
	switch status {
	case CRCOk:
		return u.forwardCRCValid
	case CRCBad:
		return u.forwardCRCError
	case CRCNone:
		return u.forwardCRCDisabled
	default:
		return false
	}
}

// sendOne writes one PUSH_DATA datagram to ep's up-socket, using the
// token drawn once per cycle so every live endpoint receives an
// identical token for this iteration (spec.md §4.5 invariant).
func (u *Upstream) sendOne(ep *Endpoint, token uint16, body []byte) error {
	hdr := Header{Version: ProtocolVersion, Token: token, Type: TypePushData, EUI: u.gatewayEUI}
	datagram := append(hdr.Encode(), body...)
	if _, err := ep.UpConn.Write(datagram); err != nil {
		return errors.Wrap(err, "write PUSH_DATA")
	}
	ep.lastPushToken = hdr.Token
	return nil
}

// awaitAck reads up to two datagrams within half the push timeout
// looking for a matching PUSH_ACK, per spec.md §4.5 step 5's double-
// receive ack matching window.
func (u *Upstream) awaitAck(ep *Endpoint) bool {
	deadline := u.pushTimeout / 2
	if deadline <= 0 {
		deadline = 50 * time.Millisecond
	}
	buf := make([]byte, 16)
	for attempt := 0; attempt < 2; attempt++ {
		if err := setReadTimeout(ep.UpConn, deadline); err != nil {
			return false
		}
		n, err := ep.UpConn.Read(buf)
		if err != nil {
			return false
		}
		hdr, err := DecodeShortHeader(buf[:n])
		if err != nil {
			continue
		}
		if hdr.Type == TypePushAck && tokenMatches(hdr.Token, ep.lastPushToken) {
			return true
		}
	}
	return false
}
