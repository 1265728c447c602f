package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRadio struct {
	packets []ReceivedPacket
}

func (f *fakeRadio) Start() error { return nil }
func (f *fakeRadio) Stop() error  { return nil }
func (f *fakeRadio) Receive(maxPackets int) ([]ReceivedPacket, error) {
	if len(f.packets) > maxPackets {
		return f.packets[:maxPackets], nil
	}
	return f.packets, nil
}
func (f *fakeRadio) Send(TransmitPacket) (TxRejectReason, error) { return TxRejectNone, nil }
func (f *fakeRadio) Status() (ConcentratorStatus, error)         { return StatusFree, nil }
func (f *fakeRadio) TriggerCount() (uint32, error)               { return 0, nil }

type fakeGhost struct {
	fetch func(ctx context.Context, max int) ([]RxPkJSON, error)
}

func (f fakeGhost) Fetch(ctx context.Context, max int) ([]RxPkJSON, error) {
	return f.fetch(ctx, max)
}

func makeReceivedPacket() ReceivedPacket {
	return ReceivedPacket{
		FreqHz:     868100000,
		CRC:        CRCOk,
		Modulation: ModLoRa,
		Bandwidth:  BW125,
		DataRate:   DataRate{LoRaSF: 7},
		CodeRate:   CR45,
		Size:       4,
		Payload:    []byte("test"),
	}
}

// newLiveEndpointPair returns an endpoint whose UpConn is dialled to a
// loopback listener, and the listener itself, so a test can capture what
// upstream.cycle actually puts on the wire.
func newLiveEndpointPair(t *testing.T) (*Endpoint, *net.UDPConn) {
	t.Helper()
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	upConn, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	ep := &Endpoint{Host: "127.0.0.1", UpConn: upConn, logger: NewRootLogger()}
	ep.live.Store(true)
	return ep, listener
}

func TestPassesFilterMatrix(t *testing.T) {
	u := &Upstream{forwardCRCValid: true, forwardCRCError: false, forwardCRCDisabled: true}
	require.True(t, u.passesFilter(CRCOk))
	require.False(t, u.passesFilter(CRCBad))
	require.True(t, u.passesFilter(CRCNone))
}

func TestUpstreamCycleTruncatesToNbPktMax(t *testing.T) {
	packets := make([]ReceivedPacket, NbPktMax+3)
	for i := range packets {
		packets[i] = makeReceivedPacket()
	}
	radio := &fakeRadio{packets: packets}
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	ep, listener := newLiveEndpointPair(t)
	defer listener.Close()
	defer ep.UpConn.Close()

	counters := &UpstreamCounters{}
	u := NewUpstream(NewRootLogger(), concentrator, &TimeRef{}, []*Endpoint{ep}, NoGhostSource{}, &StatusReport{}, counters, [8]byte{}, true, false, false, 20*time.Millisecond)

	require.NoError(t, u.cycle(context.Background()))

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 8192)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Greater(t, n, HeaderSize)

	var body PushDataBody
	require.NoError(t, json.Unmarshal(buf[HeaderSize:n], &body))
	require.Len(t, body.Rxpk, NbPktMax)
}

func TestUpstreamCycleGhostTopUp(t *testing.T) {
	radio := &fakeRadio{packets: []ReceivedPacket{makeReceivedPacket(), makeReceivedPacket()}}
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	ep, listener := newLiveEndpointPair(t)
	defer listener.Close()
	defer ep.UpConn.Close()

	ghostCalls := 0
	ghost := fakeGhost{fetch: func(ctx context.Context, max int) ([]RxPkJSON, error) {
		ghostCalls++
		require.Equal(t, NbPktMax-2, max)
		out := make([]RxPkJSON, max)
		for i := range out {
			out[i] = RxPkJSON{Modu: "LORA", Datr: json.RawMessage(`"SF7BW125"`)}
		}
		return out, nil
	}}

	counters := &UpstreamCounters{}
	u := NewUpstream(NewRootLogger(), concentrator, &TimeRef{}, []*Endpoint{ep}, ghost, &StatusReport{}, counters, [8]byte{}, true, false, false, 20*time.Millisecond)

	require.NoError(t, u.cycle(context.Background()))
	require.Equal(t, 1, ghostCalls)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 8192)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	var body PushDataBody
	require.NoError(t, json.Unmarshal(buf[HeaderSize:n], &body))
	require.Len(t, body.Rxpk, NbPktMax)
}

func TestUpstreamCycleUsesIdenticalTokenAcrossEndpoints(t *testing.T) {
	radio := &fakeRadio{packets: []ReceivedPacket{makeReceivedPacket()}}
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	ep1, listener1 := newLiveEndpointPair(t)
	defer listener1.Close()
	defer ep1.UpConn.Close()
	ep2, listener2 := newLiveEndpointPair(t)
	defer listener2.Close()
	defer ep2.UpConn.Close()

	counters := &UpstreamCounters{}
	u := NewUpstream(NewRootLogger(), concentrator, &TimeRef{}, []*Endpoint{ep1, ep2}, NoGhostSource{}, &StatusReport{}, counters, [8]byte{}, true, false, false, 20*time.Millisecond)

	require.NoError(t, u.cycle(context.Background()))

	require.NoError(t, listener1.SetReadDeadline(time.Now().Add(time.Second)))
	buf1 := make([]byte, 8192)
	n1, _, err := listener1.ReadFromUDP(buf1)
	require.NoError(t, err)

	require.NoError(t, listener2.SetReadDeadline(time.Now().Add(time.Second)))
	buf2 := make([]byte, 8192)
	n2, _, err := listener2.ReadFromUDP(buf2)
	require.NoError(t, err)

	hdr1, err := DecodeHeader(buf1[:n1])
	require.NoError(t, err)
	hdr2, err := DecodeHeader(buf2[:n2])
	require.NoError(t, err)
	require.Equal(t, hdr1.Token, hdr2.Token)
	require.Equal(t, buf1[HeaderSize:n1], buf2[HeaderSize:n2])
}

func TestUpstreamCycleDropsCRCBadWhenFilterDisabled(t *testing.T) {
	bad := makeReceivedPacket()
	bad.CRC = CRCBad
	radio := &fakeRadio{packets: []ReceivedPacket{bad}}
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	ep, listener := newLiveEndpointPair(t)
	defer listener.Close()
	defer ep.UpConn.Close()

	counters := &UpstreamCounters{}
	u := NewUpstream(NewRootLogger(), concentrator, &TimeRef{}, []*Endpoint{ep}, NoGhostSource{}, &StatusReport{}, counters, [8]byte{}, true, false, false, 20*time.Millisecond)

	require.NoError(t, u.cycle(context.Background()))

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	buf := make([]byte, 8192)
	_, _, err := listener.ReadFromUDP(buf)
	require.Error(t, err) // nothing forwarded: no rxpk and no stat means no datagram at all
}
