package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeRefSnapshotInvalidBeforeAnySync(t *testing.T) {
	tr := &TimeRef{}
	snap := tr.Snapshot()
	require.False(t, snap.Valid)
}

func TestTimeRefSnapshotValidJustAfterSync(t *testing.T) {
	tr := &TimeRef{}
	tr.Sync(1000, time.Now().UTC())
	snap := tr.Snapshot()
	require.True(t, snap.Valid)
}

func TestTimeRefXtalErrDerivedFromSecondSync(t *testing.T) {
	tr := &TimeRef{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Sync(0, base)
	tr.Sync(2_000_000, base.Add(2*time.Second))
	snap := tr.Snapshot()
	require.InDelta(t, 1.0, snap.XtalErr, 1e-9)
}

func TestCounterToUTCRequiresValidSnapshot(t *testing.T) {
	snap := TimeRefSnapshot{Valid: false}
	_, ok := snap.CounterToUTC(100, 1.0)
	require.False(t, ok)
}

func TestCounterToUTCAndBackRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := TimeRefSnapshot{Valid: true, Counter: 1000, UTC: base}

	utc, ok := snap.CounterToUTC(1_001_000, 1.0)
	require.True(t, ok)
	require.WithinDuration(t, base.Add(time.Second), utc, time.Millisecond)

	counter, ok := snap.UTCToCounter(base.Add(time.Second), 1.0)
	require.True(t, ok)
	require.Equal(t, uint32(1_001_000), counter)
}
