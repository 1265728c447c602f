// C9: statistics and report (spec.md §4.8). Four counter families,
// each behind its own leaf mutex (spec.md §5's "meas_up, meas_dw,
// meas_gps, stat_report" lock discipline); a periodic task snapshots
// and zeroes them, builds the human report and the JSON "stat" body
// C6 embeds in its next PUSH_DATA, and mirrors the same numbers onto
// Prometheus. Grounded on the counter-family/periodic-snapshot idiom
// of _examples/Safecast-TTServe/config-defs.go's TTServeCounts plus
// the metrics-mirroring pattern of _examples/akhenakh-geottn/metrics
// and _examples/markuslindenberg-tc4400_exporter.
package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/host"
)

// UpstreamCounters is C9's meas_up family (spec.md §3).
type UpstreamCounters struct {
	mu sync.Mutex

	RxNb uint32 // packets received from the radio
	RxOk uint32 // packets that passed CRC/filtering
	RxFw uint32 // packets actually forwarded (post ghost top-up, post filter)

	UpDgramSent uint32
	UpAckRcv    uint32

	// Supplemented byte-rate counters (SPEC_FULL.md §4 item 4), carried
	// symmetrically with DownstreamCounters' own.
	UpNetworkByte  uint64
	UpPayloadByte  uint64
}

func (c *UpstreamCounters) snapshot() UpstreamCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := UpstreamCounters{
		RxNb: c.RxNb, RxOk: c.RxOk, RxFw: c.RxFw,
		UpDgramSent: c.UpDgramSent, UpAckRcv: c.UpAckRcv,
		UpNetworkByte: c.UpNetworkByte, UpPayloadByte: c.UpPayloadByte,
	}
	c.RxNb, c.RxOk, c.RxFw = 0, 0, 0
	c.UpDgramSent, c.UpAckRcv = 0, 0
	c.UpNetworkByte, c.UpPayloadByte = 0, 0
	return snap
}

func (c *UpstreamCounters) addReceived(n uint32) {
	c.mu.Lock()
	c.RxNb += n
	c.mu.Unlock()
}

func (c *UpstreamCounters) addForwarded(ok, fw uint32, networkBytes, payloadBytes uint64) {
	c.mu.Lock()
	c.RxOk += ok
	c.RxFw += fw
	c.UpNetworkByte += networkBytes
	c.UpPayloadByte += payloadBytes
	c.mu.Unlock()
}

func (c *UpstreamCounters) addSent(sent, acked uint32) {
	c.mu.Lock()
	c.UpDgramSent += sent
	c.UpAckRcv += acked
	c.mu.Unlock()
}

// DownstreamCounters is C9's meas_dw family (spec.md §3/§4.6).
type DownstreamCounters struct {
	mu sync.Mutex

	DwPullSent uint32
	DwAckRcv   uint32
	DwDgramRcv uint32
	NbTxOk     uint32
	NbTxFail   uint32

	DwNetworkByte uint64
	DwPayloadByte uint64
}

func (c *DownstreamCounters) snapshot() DownstreamCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := DownstreamCounters{
		DwPullSent: c.DwPullSent, DwAckRcv: c.DwAckRcv, DwDgramRcv: c.DwDgramRcv,
		NbTxOk: c.NbTxOk, NbTxFail: c.NbTxFail,
		DwNetworkByte: c.DwNetworkByte, DwPayloadByte: c.DwPayloadByte,
	}
	c.DwPullSent, c.DwAckRcv, c.DwDgramRcv = 0, 0, 0
	c.NbTxOk, c.NbTxFail = 0, 0
	c.DwNetworkByte, c.DwPayloadByte = 0, 0
	return snap
}

func (c *DownstreamCounters) addPull(sent uint32) {
	c.mu.Lock()
	c.DwPullSent += sent
	c.mu.Unlock()
}

func (c *DownstreamCounters) addAck() {
	c.mu.Lock()
	c.DwAckRcv++
	c.mu.Unlock()
}

func (c *DownstreamCounters) addReceived(networkBytes, payloadBytes uint64) {
	c.mu.Lock()
	c.DwDgramRcv++
	c.DwNetworkByte += networkBytes
	c.DwPayloadByte += payloadBytes
	c.mu.Unlock()
}

func (c *DownstreamCounters) addTxResult(ok bool) {
	c.mu.Lock()
	if ok {
		c.NbTxOk++
	} else {
		c.NbTxFail++
	}
	c.mu.Unlock()
}

// GpsCounters is C9's meas_gps family.
type GpsCounters struct {
	mu sync.Mutex

	FixOk   uint32
	FixBad  uint32
	SyncOk  uint32
	SyncErr uint32
}

func (c *GpsCounters) snapshot() GpsCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := GpsCounters{FixOk: c.FixOk, FixBad: c.FixBad, SyncOk: c.SyncOk, SyncErr: c.SyncErr}
	c.FixOk, c.FixBad, c.SyncOk, c.SyncErr = 0, 0, 0, 0
	return snap
}

func (c *GpsCounters) addFix(ok bool) {
	c.mu.Lock()
	if ok {
		c.FixOk++
	} else {
		c.FixBad++
	}
	c.mu.Unlock()
}

func (c *GpsCounters) addSync(ok bool) {
	c.mu.Lock()
	if ok {
		c.SyncOk++
	} else {
		c.SyncErr++
	}
	c.mu.Unlock()
}

// StatusReport is C9's stat_report slot: the JSON body C6 picks up on
// its next cycle, single-writer (C9) single-consumer-by-copy (C6).
type StatusReport struct {
	mu    sync.Mutex
	ready bool
	body  *StatJSON
}

func (r *StatusReport) set(body *StatJSON) {
	r.mu.Lock()
	r.body = body
	r.ready = true
	r.mu.Unlock()
}

// Take returns the last report and clears readiness; C6 calls this
// once per upstream cycle.
func (r *StatusReport) Take() *StatJSON {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil
	}
	r.ready = false
	return r.body
}

// Peek returns the last report without clearing readiness, for
// consumers that don't compete with C6 for the single-delivery slot
// (the monitor publisher).
func (r *StatusReport) Peek() *StatJSON {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Stats is C9: the periodic snapshot/report/publish task.
type Stats struct {
	logger   log.Logger
	interval time.Duration

	up   *UpstreamCounters
	down *DownstreamCounters
	gps  *GpsCounters
	report *StatusReport

	positions *PositionStore
	fakePos   Position
	gatewayEUI [8]byte

	platform, contactEmail, description string
	metricsAddr                         string

	promRxNb   prometheus.Counter
	promRxOk   prometheus.Counter
	promRxFw   prometheus.Counter
	promTxOk   prometheus.Counter
	promTxFail prometheus.Counter
	promAckR   prometheus.Gauge
	promDackR  prometheus.Gauge
}

// NewStats wires C9 to the counters and position store it reports on.
func NewStats(logger log.Logger, interval time.Duration, up *UpstreamCounters, down *DownstreamCounters, gps *GpsCounters, positions *PositionStore, fakePos Position, eui [8]byte, platform, contactEmail, description, metricsAddr string) *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		logger:       logger,
		interval:     interval,
		up:           up,
		down:         down,
		gps:          gps,
		report:       &StatusReport{},
		positions:    positions,
		fakePos:      fakePos,
		gatewayEUI:   eui,
		platform:     platform,
		contactEmail: contactEmail,
		description:  description,
		metricsAddr:  metricsAddr,
		promRxNb:     promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "gwfwd_rx_total", Help: "radio packets received"}),
		promRxOk:     promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "gwfwd_rx_ok_total", Help: "radio packets passing filters"}),
		promRxFw:     promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "gwfwd_rx_forwarded_total", Help: "packets forwarded upstream"}),
		promTxOk:     promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "gwfwd_tx_ok_total", Help: "downlinks scheduled successfully"}),
		promTxFail:   promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "gwfwd_tx_fail_total", Help: "downlinks rejected by the concentrator"}),
		promAckR:     promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "gwfwd_push_ack_ratio", Help: "PUSH_DATA ack ratio over the last report interval"}),
		promDackR:    promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "gwfwd_pull_ack_ratio", Help: "PULL_DATA ack ratio over the last report interval"}),
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go http.ListenAndServe(metricsAddr, mux)
	}
	return s
}

// Report exposes the status slot C6 reads from.
func (s *Stats) Report() *StatusReport { return s.report }

// Run snapshots every report interval until ctx is cancelled.
func (s *Stats) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Stats) tick() {
	up := s.up.snapshot()
	down := s.down.snapshot()
	gps := s.gps.snapshot()

	ackRatio := ratio(up.UpAckRcv, up.UpDgramSent)
	pullAckRatio := ratio(down.DwAckRcv, down.DwPullSent)

	s.promRxNb.Add(float64(up.RxNb))
	s.promRxOk.Add(float64(up.RxOk))
	s.promRxFw.Add(float64(up.RxFw))
	s.promTxOk.Add(float64(down.NbTxOk))
	s.promTxFail.Add(float64(down.NbTxFail))
	s.promAckR.Set(ackRatio)
	s.promDackR.Set(pullAckRatio)

	logInfo(s.logger, "stat report",
		"rxnb", up.RxNb, "rxok", up.RxOk, "rxfw", up.RxFw,
		"ackr", ackRatio, "txok", down.NbTxOk, "txfail", down.NbTxFail,
		"dackr", pullAckRatio, "gps_fix_ok", gps.FixOk, "gps_fix_bad", gps.FixBad)

	body := &StatJSON{
		Time:  time.Now().UTC().Format("2006-01-02 15:04:05 GMT"),
		RxNb:  up.RxNb,
		RxOk:  up.RxOk,
		RxFw:  up.RxFw,
		AckR:  ackRatio,
		DwNb:  down.DwPullSent,
		TxNb:  down.NbTxOk,
		DackR: pullAckRatio,
		Pfrm:  s.platformString(),
		Mail:  s.contactEmail,
		Desc:  s.description,
	}

	pos := s.positions.Get()
	if !pos.Valid {
		pos = s.fakePos
	}
	if pos.Valid {
		body.Lati, body.Long, body.Alti, body.Plus = pos.Latitude, pos.Longitude, pos.Altitude, pos.PlusCode
	}

	s.report.set(body)
}

func (s *Stats) platformString() string {
	if s.platform != "" {
		return s.platform
	}
	info, err := host.Info()
	if err != nil {
		return ""
	}
	return info.Platform + " " + info.PlatformVersion
}

func ratio(num, denom uint32) float64 {
	if denom == 0 {
		return 0
	}
	return roundTo(float64(num)/float64(denom), 3)
}
