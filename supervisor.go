// C10: the supervisor (spec.md §4.8, §5). Installs signal handlers,
// wires and launches every other component as a goroutine, and probes
// the concentrator's trigger counter once per reporting cycle for the
// spurious-reset signature. Grounded on the goroutine-fan-out-plus-
// signal-handler shape of _examples/Safecast-TTServe/main.go, adapted
// from its HTTP-server lifecycle to this daemon's component set.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
)

// Supervisor is C10.
type Supervisor struct {
	logger log.Logger
	config *Config
	ghost  GhostSource

	concentrator *Concentrator
	timeRef      *TimeRef
	xtal         *XtalCorrection
	positions    *PositionStore
	endpoints    []*Endpoint

	upCounters   *UpstreamCounters
	downCounters *DownstreamCounters
	gpsCounters  *GpsCounters

	stats *Stats

	instanceID string
}

// NewSupervisor constructs C10 and every component it owns, wiring
// them to cfg (spec.md §6). It does not start anything yet.
func NewSupervisor(logger log.Logger, cfg *Config, radio Radio, ghost GhostSource) *Supervisor {
	concentrator := NewConcentrator(radio, "", WithComponent(logger, "concentrator"))
	timeRef := &TimeRef{}
	xtal := newXtalCorrection()
	positions := NewPositionStore()

	eui := cfg.GatewayEUI()
	gw := cfg.Gateway

	var endpoints []*Endpoint
	for _, sc := range gw.resolvedServers() {
		if !sc.enabled() {
			continue
		}
		endpoints = append(endpoints, NewEndpoint(sc.Address, sc.PortUp, sc.PortDown, WithComponent(logger, "down")))
	}

	var fakePos Position
	if gw.fakeGPSEnabled() {
		fakePos = Position{Latitude: gw.RefLatitude, Longitude: gw.RefLongitude, Altitude: gw.RefAltitude, Valid: true}
	}

	upCounters := &UpstreamCounters{}
	downCounters := &DownstreamCounters{}
	gpsCounters := &GpsCounters{}

	stats := NewStats(WithComponent(logger, "stat"), gw.statInterval(), upCounters, downCounters, gpsCounters, positions, fakePos, eui, gw.Platform, gw.ContactEmail, gw.Description, gw.MetricsAddr)

	return &Supervisor{
		logger:       logger,
		config:       cfg,
		ghost:        ghost,
		concentrator: concentrator,
		timeRef:      timeRef,
		xtal:         xtal,
		positions:    positions,
		endpoints:    endpoints,
		upCounters:   upCounters,
		downCounters: downCounters,
		gpsCounters:  gpsCounters,
		stats:        stats,
		instanceID:   uuid.NewString(),
	}
}

// Run starts the concentrator, launches every component, and blocks
// until a signal or a component-requested shutdown. It returns the
// exit code spec.md §7's table names: 0 for orderly exit, 1 for a
// fatal startup failure.
func (s *Supervisor) Run() int {
	if err := s.concentrator.Start(); err != nil {
		logError(s.logger, "concentrator start failed", "err", err)
		return 1
	}
	defer s.concentrator.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGQUIT {
				logError(s.logger, "SIGQUIT received, exiting immediately")
				os.Exit(1)
			}
			logInfo(s.logger, "signal received, shutting down", "signal", sig)
			cancel()
			return
		}
	}()

	var wg sync.WaitGroup
	gw := s.config.Gateway
	eui := s.config.GatewayEUI()

	for _, ep := range s.endpoints {
		if err := ep.Dial(); err != nil {
			logWarn(s.logger, "endpoint dial failed, skipping", "endpoint", ep.Host, "err", err)
		}
	}

	if gw.upstreamEnabled() {
		ghost := s.ghost
		if !gw.ghoststreamEnabled() {
			ghost = NoGhostSource{}
		}
		up := NewUpstream(WithComponent(s.logger, "up"), s.concentrator, s.timeRef, s.endpoints, ghost, s.stats.Report(), s.upCounters, eui, gw.forwardCRCValid(), gw.forwardCRCError(), gw.forwardCRCDisabled(), gw.pushTimeout())
		wg.Add(1)
		go func() { defer wg.Done(); up.Run(ctx) }()
	}

	if gw.downstreamEnabled() {
		for _, ep := range s.endpoints {
			ep := ep
			down := NewDownstream(WithComponent(s.logger, "down"), ep, s.concentrator, s.timeRef, s.downCounters, eui, gw.keepaliveInterval(), gw.pullTimeout(), gw.AutoquitThreshold, cancel)
			wg.Add(1)
			go func() { defer wg.Done(); down.Run(ctx) }()
		}
	}

	var beaconArm chan struct{}
	if gw.beaconEnabled() {
		beaconArm = make(chan struct{}, 1)
	}

	if gw.gpsEnabled() && !gw.fakeGPSEnabled() {
		gnss := NewGNSSIngest(WithComponent(s.logger, "gps"), gw.GPSTTYPath, 4800, s.concentrator, s.timeRef, s.positions, beaconArm, s.gpsCounters, gw.BeaconPeriod, gw.BeaconOffset)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gnss.Run(ctx); err != nil {
				logError(s.logger, "GNSS ingest stopped", "err", err)
			}
		}()

		xt := NewXtalTracker(WithComponent(s.logger, "gps"), s.timeRef, s.xtal)
		wg.Add(1)
		go func() { defer wg.Done(); xt.Run(ctx) }()
	}

	if gw.beaconEnabled() && beaconArm != nil {
		beacon := NewBeacon(WithComponent(s.logger, "beacon"), s.concentrator, s.timeRef, s.xtal, s.positions, beaconArm, uint32(gw.BeaconFreqHz))
		wg.Add(1)
		go func() { defer wg.Done(); beacon.Run(ctx) }()
	}

	wg.Add(1)
	go func() { defer wg.Done(); s.stats.Run(ctx) }()

	if gw.monitorEnabled() {
		monitor, err := NewMonitor(WithComponent(s.logger, "monitor"), gw.MonitorBrokerURL, gw.MonitorTopic, s.instanceID, s.stats.Report(), gw.statInterval())
		if err != nil {
			logWarn(s.logger, "monitor disabled: connect failed", "err", err)
		} else {
			wg.Add(1)
			go func() { defer wg.Done(); monitor.Run(ctx) }()
		}
	}

	wg.Add(1)
	go func() { defer wg.Done(); s.healthProbe(ctx, gw.statInterval(), cancel) }()

	<-ctx.Done()
	for _, ep := range s.endpoints {
		ep.Close()
	}
	wg.Wait()
	return 0
}

// healthProbe implements spec.md §4.8's "probes TriggerCounter() ==
// 0x7E000000 once per reporting cycle and terminates on that
// signature."
func (s *Supervisor) healthProbe(ctx context.Context, interval time.Duration, cancel context.CancelFunc) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			spurious, err := s.concentrator.ProbeHealth(ctx)
			if err != nil {
				logWarn(s.logger, "health probe failed", "err", err)
				continue
			}
			if spurious {
				logError(s.logger, "spurious concentrator reset detected, terminating")
				cancel()
				return
			}
		}
	}
}
