// C4: the XTAL-correction tracker (spec.md §4.2). Runs once a second,
// averaging the initial XTAL error over XerrInitAvg samples and then
// low-pass tracking it, exactly per original_source/poly_pkt_fwd.c's
// xtal_correct bookkeeping (lines ~2645-2690).
package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
)

// XtalCorrection is mutated only by C4 and read by C6/C7/C8 (spec.md
// §3). "valid ⇒ last time-ref was valid at observation."
type XtalCorrection struct {
	mu         sync.RWMutex
	multiplier float64
	valid      bool
}

func newXtalCorrection() *XtalCorrection {
	return &XtalCorrection{multiplier: 1.0}
}

// Snapshot returns the current multiplier and whether it's trustworthy.
func (x *XtalCorrection) Snapshot() (multiplier float64, valid bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.multiplier, x.valid
}

func (x *XtalCorrection) set(multiplier float64, valid bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.multiplier = multiplier
	x.valid = valid
}

// XtalTracker runs the 1 Hz averaging/low-pass loop of spec.md §4.2.
type XtalTracker struct {
	logger  log.Logger
	timeRef *TimeRef
	xtal    *XtalCorrection

	acc   float64
	count int
}

// NewXtalTracker wires the tracker to the TimeRef it reads and the
// XtalCorrection it owns and mutates.
func NewXtalTracker(logger log.Logger, timeRef *TimeRef, xtal *XtalCorrection) *XtalTracker {
	return &XtalTracker{logger: logger, timeRef: timeRef, xtal: xtal}
}

// Run ticks once a second until ctx is cancelled.
func (xt *XtalTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			xt.tick()
		}
	}
}

// tick implements spec.md §4.2 steps 1-5.
func (xt *XtalTracker) tick() {
	snap := xt.timeRef.Snapshot()

	if !snap.Valid {
		xt.xtal.set(1.0, false)
		xt.acc = 0
		xt.count = 0
		return
	}

	if xt.count < XerrInitAvg {
		xt.acc += snap.XtalErr
		xt.count++
		if xt.count == XerrInitAvg {
			multiplier := float64(XerrInitAvg) / xt.acc
			xt.xtal.set(multiplier, true)
			logInfo(xt.logger, "xtal correction initialised", "multiplier", multiplier)
		}
		return
	}

	current, _ := xt.xtal.Snapshot()
	next := current*(1-XtalLowPassWeight) + (1/snap.XtalErr)*XtalLowPassWeight
	xt.xtal.set(next, true)
}
