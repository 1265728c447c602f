// Ghost packet source (spec.md §4.5 "ghost packets"): an optional
// external collaborator that supplies already-formed rxpk entries to
// merge into the next PUSH_DATA body, outside the concentrator lock
// per SPEC_FULL.md's Open Question decision #2. The core only depends
// on this interface; no concrete transport is specified, so the
// default implementation is a no-op, grounded on the same
// interface-with-null-implementation shape this module already uses
// for the Radio/NullRadio pair in concentrator.go/radio_null.go.
package main

import "context"

// GhostSource supplies ghost rxpk entries to append to an upstream
// fan-out cycle. Fetch must return promptly; a slow or failing source
// must never stall the upstream task (spec.md §4.5).
type GhostSource interface {
	Fetch(ctx context.Context, max int) ([]RxPkJSON, error)
}

// NoGhostSource is the default GhostSource: it never contributes any
// packets. Used whenever ghoststream is disabled (spec.md §6).
type NoGhostSource struct{}

func (NoGhostSource) Fetch(ctx context.Context, max int) ([]RxPkJSON, error) {
	return nil, nil
}
