// C3: GNSS ingest (spec.md §4.3). Blocking-reads the GNSS serial
// device, parses NMEA RMC sentences, re-synchronises the time
// reference (C2), and pre-arms the beacon scheduler (C8) on the second
// preceding a target PPS. In fake-GPS mode this component is never
// started; SPEC_FULL.md's Open Question decision #1 applies.
package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	olc "github.com/google/open-location-code/go"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Position is a gateway location, real (from GNSS) or faked (from
// config), enriched with a Plus Code for the status report.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	PlusCode  string
	Valid     bool
}

// PositionStore is the single-writer(C3)/many-reader position the
// status report (C9) and beacon (C8) consume. Grounded on
// _examples/other_examples/xenek-packet_forwarder__uplinks_HALV1.go's
// coordinatesMutex-guarded GPSCoordinates global.
type PositionStore struct {
	mu  sync.RWMutex
	pos Position
}

func NewPositionStore() *PositionStore {
	return &PositionStore{}
}

// Set records a new position, encoding it as an Open Location Code
// (Plus Code) when it's a real fix.
func (s *PositionStore) Set(p Position) {
	if p.Valid {
		p.PlusCode = olc.Encode(p.Latitude, p.Longitude, 10)
	}
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

func (s *PositionStore) Get() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// GNSSIngest is C3.
type GNSSIngest struct {
	logger       log.Logger
	ttyPath      string
	baud         int
	concentrator *Concentrator
	timeRef      *TimeRef
	positions    *PositionStore
	beaconArm    chan<- struct{}
	counters     *GpsCounters

	beaconPeriod int
	beaconOffset int

	openPort func(path string, mode *serial.Mode) (serial.Port, error)
}

// NewGNSSIngest wires C3 to the components it drives.
func NewGNSSIngest(logger log.Logger, ttyPath string, baud int, concentrator *Concentrator, timeRef *TimeRef, positions *PositionStore, beaconArm chan<- struct{}, counters *GpsCounters, beaconPeriod, beaconOffset int) *GNSSIngest {
	return &GNSSIngest{
		logger:       logger,
		ttyPath:      ttyPath,
		baud:         baud,
		concentrator: concentrator,
		timeRef:      timeRef,
		positions:    positions,
		beaconArm:    beaconArm,
		counters:     counters,
		beaconPeriod: beaconPeriod,
		beaconOffset: beaconOffset,
		openPort:     serial.Open,
	}
}

// Run opens the serial device and processes RMC sentences until ctx is
// cancelled. Any single cycle's failure is logged and skipped — the
// task itself is never killed by a bad read or a bad parse
// (spec.md §4.3).
func (g *GNSSIngest) Run(ctx context.Context) error {
	port, err := g.openPort(g.ttyPath, &serial.Mode{BaudRate: g.baud})
	if err != nil {
		return errors.Wrapf(err, "open GNSS serial device %s", g.ttyPath)
	}
	defer port.Close()

	// A short per-read timeout makes the otherwise-blocking serial read
	// interruptible against ctx without a second goroutine (spec.md
	// §9's "GNSS serial read becomes an interruptible read" redesign
	// note). go.bug.st/serial returns (0, nil) on a read timeout rather
	// than an error.
	if err := port.SetReadTimeout(time.Second); err != nil {
		return errors.Wrap(err, "set GNSS serial read timeout")
	}

	buf := make([]byte, 256)
	var line []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			logWarn(g.logger, "GNSS serial read error", "err", err)
			continue
		}
		for _, b := range buf[:n] {
			switch b {
			case '\n':
				if len(line) > 0 {
					if err := g.processSentence(string(line)); err != nil && err != ErrNotRMC {
						logWarn(g.logger, "GNSS sentence skipped", "err", err)
					}
				}
				line = line[:0]
			case '\r':
				// ignore
			default:
				line = append(line, b)
			}
		}
	}
}

// processSentence implements spec.md §4.3's per-sentence steps a-d.
func (g *GNSSIngest) processSentence(line string) error {
	fix, err := ParseRMC(line)
	if err != nil {
		return err
	}
	if !fix.Valid {
		g.counters.addFix(false)
		return nil
	}
	g.counters.addFix(true)

	secOfCycle := int(fix.UTC.Unix()+1) % g.beaconPeriod
	if secOfCycle == g.beaconOffset {
		select {
		case g.beaconArm <- struct{}{}:
		default:
			// single-slot channel already armed; the previous arm
			// hasn't been consumed yet.
		}
	}

	counter, err := g.concentrator.TriggerCount()
	if err != nil {
		g.counters.addSync(false)
		return errors.Wrap(err, "read trigger counter for GNSS sync")
	}

	g.timeRef.Sync(counter, fix.UTC)
	g.counters.addSync(true)
	g.positions.Set(Position{Latitude: fix.Latitude, Longitude: fix.Longitude, Valid: true})
	return nil
}
