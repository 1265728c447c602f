// C1: the concentrator gateway (spec.md §4.1). The radio hardware
// abstraction itself is an external collaborator (spec.md §1); this
// file only fixes the interface the core consumes from it and wraps
// every call behind the single coarse mutex the hardware demands.
package main

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// ConcentratorStatus mirrors the four states a TX slot can report
// (spec.md §4.1).
type ConcentratorStatus int

const (
	StatusFree ConcentratorStatus = iota
	StatusEmitting
	StatusScheduled
	StatusUnknown
)

// TxRejectReason refines a failed Send with the scheduling reason the
// original packet forwarder logs (SPEC_FULL.md §4 item 1), without
// changing the ok|err contract spec.md §4.1 specifies.
type TxRejectReason int

const (
	TxRejectNone TxRejectReason = iota
	TxRejectTooLate
	TxRejectTooEarly
	TxRejectAlreadyScheduled
	TxRejectCollision
	TxRejectHardware
)

// Radio is the fixed interface the core consumes from the hardware
// abstraction (spec.md §6). A production build backs this with cgo
// bindings to the concentrator's HAL; tests back it with a fake.
type Radio interface {
	Start() error
	Stop() error
	Receive(maxPackets int) ([]ReceivedPacket, error)
	Send(TransmitPacket) (TxRejectReason, error)
	Status() (ConcentratorStatus, error)
	TriggerCount() (uint32, error)
}

// Concentrator serialises all access to the radio behind one mutex
// (spec.md §4.1): "the hardware cannot be safely shared; coarse
// locking is simple and the radio is the bottleneck anyway."
type Concentrator struct {
	mu       sync.Mutex
	radio    Radio
	resetPin gpio.PinIO
	logger   log.Logger
}

// NewConcentrator wraps radio behind the coarse lock. resetPinName may
// be empty, in which case no GPIO reset line is driven (e.g. in tests,
// or on hardware where reset is handled out of process).
func NewConcentrator(radio Radio, resetPinName string, logger log.Logger) *Concentrator {
	c := &Concentrator{radio: radio, logger: logger}
	if resetPinName != "" {
		c.resetPin = gpioreg.ByName(resetPinName)
	}
	return c
}

// Start pulses the reset line (if configured) and starts the radio.
// Failure here is fatal at boot per spec.md §7.
func (c *Concentrator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetPin != nil {
		if err := c.resetPin.Out(gpio.High); err != nil {
			return errors.Wrap(err, "drive concentrator reset line high")
		}
		if err := c.resetPin.Out(gpio.Low); err != nil {
			return errors.Wrap(err, "drive concentrator reset line low")
		}
	}
	if err := c.radio.Start(); err != nil {
		return errors.Wrap(err, "start concentrator")
	}
	logInfo(c.logger, "concentrator started")
	return nil
}

// Stop releases the radio. Called once during orderly shutdown (C10).
func (c *Concentrator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radio.Stop()
}

// Receive fetches up to maxPackets uplinks (spec.md §4.5 step 1).
func (c *Concentrator) Receive(maxPackets int) ([]ReceivedPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radio.Receive(maxPackets)
}

// Send submits one downlink for transmission (spec.md §4.1, §4.6,
// §4.7 — C7 and C8 are the only callers).
func (c *Concentrator) Send(pkt TransmitPacket) (TxRejectReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radio.Send(pkt)
}

// Status reports the current TX slot state, polled by C8 after a
// beacon Send.
func (c *Concentrator) Status() (ConcentratorStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radio.Status()
}

// TriggerCount returns the concentrator's free-running microsecond
// counter.
func (c *Concentrator) TriggerCount() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radio.TriggerCount()
}

// IsSpuriousReset reports whether a TriggerCount() reading is the
// hardware-reset signature the supervisor must terminate on
// (spec.md §4.1, §4.8).
func IsSpuriousReset(counter uint32) bool {
	return counter == SpuriousResetCounter
}

// ProbeHealth is C10's periodic trigger-counter health probe
// (spec.md §4.8): it reads TriggerCount once and reports whether the
// process should terminate.
func (c *Concentrator) ProbeHealth(ctx context.Context) (spurious bool, err error) {
	counter, err := c.TriggerCount()
	if err != nil {
		return false, err
	}
	return IsSpuriousReset(counter), nil
}
