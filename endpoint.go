// C5: server endpoint (spec.md §4.4). One UDP up-socket and one UDP
// down-socket per configured server, dialled at startup; a failed
// endpoint stays configured but unused (spec.md §7 "Endpoint errors").
package main

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Endpoint is C5: EndpointState from spec.md §3.
type Endpoint struct {
	Host     string
	UpPort   int
	DownPort int

	UpConn   *net.UDPConn
	DownConn *net.UDPConn

	live   atomic.Bool
	logger log.Logger

	lastPushToken uint16
}

// NewEndpoint constructs an endpoint in the not-yet-dialled state.
func NewEndpoint(host string, upPort, downPort int, logger log.Logger) *Endpoint {
	return &Endpoint{
		Host:     host,
		UpPort:   upPort,
		DownPort: downPort,
		logger:   WithEndpoint(logger, net.JoinHostPort(host, itoa(upPort))),
	}
}

// Dial resolves and connects both sockets. It marks the endpoint live
// only once both succeed (spec.md §4.4); any resolution or connect
// failure is returned for the caller to log and otherwise continue
// with the remaining endpoints (spec.md §7 "Endpoint errors").
func (e *Endpoint) Dial() error {
	upAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(e.Host, itoa(e.UpPort)))
	if err != nil {
		return errors.Wrapf(err, "resolve up address for %s", e.Host)
	}
	downAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(e.Host, itoa(e.DownPort)))
	if err != nil {
		return errors.Wrapf(err, "resolve down address for %s", e.Host)
	}

	upConn, err := net.DialUDP("udp", nil, upAddr)
	if err != nil {
		return errors.Wrapf(err, "dial up socket for %s", e.Host)
	}
	downConn, err := net.DialUDP("udp", nil, downAddr)
	if err != nil {
		upConn.Close()
		return errors.Wrapf(err, "dial down socket for %s", e.Host)
	}

	e.UpConn = upConn
	e.DownConn = downConn
	e.live.Store(true)
	logInfo(e.logger, "endpoint dialled")
	return nil
}

// Live reports whether both sockets are connected.
func (e *Endpoint) Live() bool { return e.live.Load() }

// Close shuts both sockets. Socket-option failures on a live socket
// are fatal per spec.md §6's exit-code table; Close itself never fails
// the process, it only releases resources during shutdown.
func (e *Endpoint) Close() {
	if e.UpConn != nil {
		e.UpConn.Close()
	}
	if e.DownConn != nil {
		e.DownConn.Close()
	}
	e.live.Store(false)
}

// setReadTimeout is the socket-option call spec.md §4.4/§6 names; a
// failure on a live socket is one of the fatal exit conditions.
func setReadTimeout(conn *net.UDPConn, d time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return errors.Wrap(err, "set socket read timeout")
	}
	return nil
}
