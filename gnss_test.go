package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGNSSIngest(beaconPeriod, beaconOffset int) (*GNSSIngest, chan struct{}) {
	radio := NewNullRadio()
	concentrator := NewConcentrator(radio, "", NewRootLogger())
	arm := make(chan struct{}, 1)
	g := &GNSSIngest{
		logger:       NewRootLogger(),
		concentrator: concentrator,
		timeRef:      &TimeRef{},
		positions:    NewPositionStore(),
		beaconArm:    arm,
		counters:     &GpsCounters{},
		beaconPeriod: beaconPeriod,
		beaconOffset: beaconOffset,
	}
	return g, arm
}

// TestProcessSentenceArmsOnAbsoluteEpochSeconds pins spec.md §4.3's
// "(utc.sec + 1) mod beacon_period" to Unix epoch seconds, not the
// seconds-of-minute field: with beacon_period=128, the seconds-of-
// minute value never reaches 128, so only the epoch computation can
// ever arm the beacon.
func TestProcessSentenceArmsOnAbsoluteEpochSeconds(t *testing.T) {
	g, arm := newTestGNSSIngest(128, 0)

	// Pick a UTC whose Unix epoch second, plus one, is an exact
	// multiple of the beacon period.
	target := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for (target.Unix()+1)%128 != 0 {
		target = target.Add(time.Second)
	}

	line := rmcLineForUTC(target)
	require.NoError(t, g.processSentence(line))

	select {
	case <-arm:
	default:
		t.Fatal("beacon was not armed at the epoch-second boundary")
	}
}

func TestProcessSentenceDoesNotArmOffCycle(t *testing.T) {
	g, arm := newTestGNSSIngest(128, 0)

	armed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for (armed.Unix()+1)%128 != 0 {
		armed = armed.Add(time.Second)
	}
	// One second off an armed boundary can never itself be a boundary
	// when the period is >1.
	target := armed.Add(-time.Second)

	line := rmcLineForUTC(target)
	require.NoError(t, g.processSentence(line))

	select {
	case <-arm:
		t.Fatal("beacon armed off the configured cycle boundary")
	default:
	}
}

func rmcLineForUTC(t time.Time) string {
	return "$GPRMC," + t.Format("150405") + ",A,4807.038,N,01131.000,E,022.4,084.4," + t.Format("020106") + ",003.1,W*6A"
}
