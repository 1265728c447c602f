package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestXtalTrackerInvalidResetsAverage(t *testing.T) {
	tr := &TimeRef{}
	xtal := newXtalCorrection()
	xt := NewXtalTracker(NewRootLogger(), tr, xtal)
	xt.acc, xt.count = 42, 5

	xt.tick()

	mult, valid := xtal.Snapshot()
	require.False(t, valid)
	require.Equal(t, 1.0, mult)
	require.Zero(t, xt.acc)
	require.Zero(t, xt.count)
}

func TestXtalTrackerInitialAverageAt128Samples(t *testing.T) {
	tr := &TimeRef{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Sync(0, base)
	tr.Sync(1_000_200, base.Add(time.Second)) // xtalErr = 1.0002

	xtal := newXtalCorrection()
	xt := NewXtalTracker(NewRootLogger(), tr, xtal)

	for i := 0; i < XerrInitAvg-1; i++ {
		xt.tick()
		_, valid := xtal.Snapshot()
		require.False(t, valid)
	}
	xt.tick()

	mult, valid := xtal.Snapshot()
	require.True(t, valid)
	require.InDelta(t, 1.0/1.0002, mult, 1e-9)
}

func TestXtalTrackerLowPassAfterInitialAverage(t *testing.T) {
	tr := &TimeRef{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Sync(0, base)
	tr.Sync(1_000_000, base.Add(time.Second))

	xtal := newXtalCorrection()
	xt := NewXtalTracker(NewRootLogger(), tr, xtal)
	for i := 0; i < XerrInitAvg; i++ {
		xt.tick()
	}
	before, _ := xtal.Snapshot()

	tr.Sync(2_001_000, base.Add(2 * time.Second))
	xt.tick()

	after, valid := xtal.Snapshot()
	require.True(t, valid)
	expected := before*(1-XtalLowPassWeight) + (1/1.001)*XtalLowPassWeight
	require.InDelta(t, expected, after, 1e-9)
}
