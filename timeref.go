// C2: the time reference (spec.md §3, §4.2). Holds the affine
// counter<->UTC mapping GNSS ingest (C3) establishes, plus the
// instantaneous XTAL error measured between successive syncs that the
// XTAL tracker (C4) consumes.
package main

import (
	"sync"
	"time"
)

// TimeRefSnapshot is the atomically-obtained pair of fields spec.md
// §4.2 requires consumers to read together before checking freshness.
type TimeRefSnapshot struct {
	Valid   bool
	SysTime time.Time // local wall clock at the last sync
	Counter uint32     // concentrator counter at the last sync
	UTC     time.Time  // server UTC at the last sync
	XtalErr float64    // instantaneous XTAL error measured at this sync
}

// TimeRef is mutated only by C3 and read by C4, C6, C7 (spec.md §3).
type TimeRef struct {
	mu sync.RWMutex

	sysTime time.Time
	counter uint32
	utc     time.Time
	xtalErr float64

	hasPrev     bool
	prevCounter uint32
	prevUTC     time.Time
}

// Sync records a new (counter, UTC) anchor, as C3 calls on every
// completed RMC sentence. The instantaneous XTAL error is derived from
// the delta against the previous anchor: actual counter ticks per
// nominal microsecond, which should sit at ~1.0 on a well-behaved
// oscillator.
func (t *TimeRef) Sync(counter uint32, utc time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasPrev {
		deltaUTC := utc.Sub(t.prevUTC).Seconds()
		if deltaUTC > 0 {
			deltaCounter := counter - t.prevCounter // wraps correctly, mod 2^32
			t.xtalErr = float64(deltaCounter) / (deltaUTC * 1e6)
		}
	}

	t.prevCounter = counter
	t.prevUTC = utc
	t.hasPrev = true

	t.sysTime = time.Now()
	t.counter = counter
	t.utc = utc
}

// Snapshot returns the current mapping and whether it is still fresh
// (spec.md §3: "systime - now <= GPS_REF_MAX_AGE (30s) => valid").
func (t *TimeRef) Snapshot() TimeRefSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	valid := !t.sysTime.IsZero() && time.Since(t.sysTime) <= GPSRefMaxAge
	return TimeRefSnapshot{
		Valid:   valid,
		SysTime: t.sysTime,
		Counter: t.counter,
		UTC:     t.utc,
		XtalErr: t.xtalErr,
	}
}

// CounterToUTC converts a concentrator counter reading to UTC using
// this snapshot's anchor and the supplied XTAL multiplier. Returns
// false if the snapshot itself isn't valid.
func (s TimeRefSnapshot) CounterToUTC(counter uint32, xtalMultiplier float64) (time.Time, bool) {
	if !s.Valid {
		return time.Time{}, false
	}
	deltaUS := int32(counter - s.Counter)
	nominalSeconds := float64(deltaUS) / 1e6
	return s.UTC.Add(time.Duration(nominalSeconds * xtalMultiplier * float64(time.Second))), true
}

// UTCToCounter is the inverse of CounterToUTC, used to schedule a
// server-specified UTC transmit time onto the concentrator's counter.
func (s TimeRefSnapshot) UTCToCounter(utc time.Time, xtalMultiplier float64) (uint32, bool) {
	if !s.Valid || xtalMultiplier == 0 {
		return 0, false
	}
	realSeconds := utc.Sub(s.UTC).Seconds()
	nominalUS := realSeconds / xtalMultiplier * 1e6
	return s.Counter + uint32(int32(nominalUS)), true
}
