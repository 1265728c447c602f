package main

import "time"

// Tunables named directly in spec.md §4, given the same names so the
// cross-reference back to the spec text is obvious.
const (
	// NbPktMax is the per-datagram uplink packet cap (spec.md §4.5).
	NbPktMax = 8

	// FetchSleep is the upstream idle-poll interval (spec.md §4.5).
	FetchSleep = 10 * time.Millisecond

	// PullTimeoutMSDefault is pull_timeout's default when unconfigured.
	PullTimeoutMSDefault = 200

	// GPSRefMaxAge is the TimeRef freshness window (spec.md §3, §4.2).
	GPSRefMaxAge = 30 * time.Second

	// XerrInitAvg is the XTAL tracker's initial averaging window
	// (spec.md §4.2; original_source/poly_pkt_fwd.c XERR_INIT_AVG).
	XerrInitAvg = 128

	// XtalLowPassWeight is the low-pass filter's new-sample weight
	// after the initial average (spec.md §4.2 step 5).
	XtalLowPassWeight = 1.0 / 256.0

	// BeaconPollInterval and BeaconPollBudget bound how long C8 waits
	// for the concentrator to report FREE after a beacon Send
	// (spec.md §4.7).
	BeaconPollInterval = 50 * time.Millisecond
	BeaconPollBudget   = 30

	// MinLoRaPreamble/StdLoRaPreamble and MinFSKPreamble/StdFSKPreamble
	// are the PULL_RESP "prea" clamp/default values (spec.md §4.6).
	MinLoRaPreamble = 6
	StdLoRaPreamble = 8
	MinFSKPreamble  = 3
	StdFSKPreamble  = 4

	// SpuriousResetCounter is the TriggerCounter() value that signals a
	// spurious hardware reset (spec.md §4.1).
	SpuriousResetCounter uint32 = 0x7E000000

	// BeaconNetID is the fixed NetID embedded in every beacon frame
	// (spec.md §4.7).
	BeaconNetID = 0xC0FFEE
)
