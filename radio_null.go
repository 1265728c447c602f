// NullRadio is the only concrete Radio this repository ships: the
// concentrator HAL itself is an external collaborator (spec.md §1),
// reached in production through cgo bindings this module doesn't
// vendor. NullRadio lets the daemon boot and exercise every other
// component end to end without hardware attached — grounded on the
// same "collaborator with a null default" shape as ghost.go's
// NoGhostSource.
package main

import "time"

// NullRadio implements Radio with no hardware behind it: Receive
// always returns nothing, Send always reports ok, Status is always
// FREE, TriggerCount runs off the process's monotonic clock.
type NullRadio struct {
	start time.Time
}

// NewNullRadio constructs a NullRadio with its counter epoch set to
// now.
func NewNullRadio() *NullRadio {
	return &NullRadio{start: time.Now()}
}

func (r *NullRadio) Start() error { return nil }
func (r *NullRadio) Stop() error  { return nil }

func (r *NullRadio) Receive(maxPackets int) ([]ReceivedPacket, error) {
	return nil, nil
}

func (r *NullRadio) Send(pkt TransmitPacket) (TxRejectReason, error) {
	return TxRejectNone, nil
}

func (r *NullRadio) Status() (ConcentratorStatus, error) {
	return StatusFree, nil
}

func (r *NullRadio) TriggerCount() (uint32, error) {
	return uint32(time.Since(r.start).Microseconds()), nil
}
