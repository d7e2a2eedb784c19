// Package monitor polls a counter board and exports what it sees to
// Prometheus: the count itself, read latency and the board clock's drift
// against the host clock.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Reader is the part of the board client the monitor needs
type Reader interface {
	GetCount(ctx context.Context) (uint64, error)
	TicksPerMicro() (uint32, error)
}

// Sample is one count reading
type Sample struct {
	Wall  time.Time     // host time halfway through the exchange
	Ticks uint64        // board count
	RTT   time.Duration // request to response
}

// Monitor polls a Reader at a fixed interval
type Monitor struct {
	r        Reader
	interval time.Duration
	tpm      float64
	now      func() time.Time

	registry *prometheus.Registry
	count    prometheus.Gauge
	micros   prometheus.Gauge
	drift    prometheus.Gauge
	driftAvg prometheus.Gauge
	driftDev prometheus.Gauge
	rtt      prometheus.Histogram
	failures prometheus.Counter
	resets   prometheus.Counter

	mu      sync.Mutex
	last    *Sample
	stats   *welford.Stats
	samples int
}

// New creates a monitor. The tick rate is taken from the reader's dictionary.
func New(r Reader, interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	tpm, err := r.TicksPerMicro()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		r:        r,
		interval: interval,
		tpm:      float64(tpm),
		now:      time.Now,
		registry: prometheus.NewRegistry(),
		stats:    welford.New(),
		count: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "t2count_ticks", Help: "Extended tick count read from the board",
		}),
		micros: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "t2count_micros", Help: "Board time in microseconds",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "t2count_drift_ppm", Help: "Board clock rate error against the host over the last interval",
		}),
		driftAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "t2count_drift_ppm_mean", Help: "Mean drift since start",
		}),
		driftDev: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "t2count_drift_ppm_stddev", Help: "Drift standard deviation since start",
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "t2count_read_seconds",
			Help:    "get_count round trip time",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "t2count_read_failures_total", Help: "Failed count reads",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "t2count_resets_total", Help: "Times the count went backwards",
		}),
	}
	m.registry.MustRegister(m.count, m.micros, m.drift, m.driftAvg, m.driftDev, m.rtt, m.failures, m.resets)
	return m, nil
}

// Registry returns the registry holding the monitor's metrics
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Poll takes one sample and updates the metrics
func (m *Monitor) Poll(ctx context.Context) (Sample, error) {
	start := m.now()
	ticks, err := m.r.GetCount(ctx)
	end := m.now()
	if err != nil {
		m.failures.Inc()
		return Sample{}, err
	}
	s := Sample{Wall: start.Add(end.Sub(start) / 2), Ticks: ticks, RTT: end.Sub(start)}

	m.rtt.Observe(s.RTT.Seconds())
	m.count.Set(float64(ticks))
	m.micros.Set(float64(ticks) / m.tpm)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != nil {
		if ticks < m.last.Ticks {
			log.Infof("count went from %d to %d, board was reset", m.last.Ticks, ticks)
			m.resets.Inc()
		} else if wall := s.Wall.Sub(m.last.Wall); wall > 0 {
			ppm := Drift(ticks-m.last.Ticks, m.tpm, wall)
			m.stats.Add(ppm)
			m.samples++
			m.drift.Set(ppm)
			m.driftAvg.Set(m.stats.Mean())
			if m.samples > 1 {
				m.driftDev.Set(m.stats.Stddev())
			}
		}
	}
	m.last = &s
	return s, nil
}

// Drift returns how far the board's clock ran ahead of the host, in parts per
// million, when ticks elapsed on the board during wall host time.
func Drift(ticks uint64, ticksPerMicro float64, wall time.Duration) float64 {
	boardUs := float64(ticks) / ticksPerMicro
	wallUs := float64(wall) / float64(time.Microsecond)
	return (boardUs - wallUs) / wallUs * 1e6
}

// DriftStats returns the number of drift samples, their mean and standard
// deviation
func (m *Monitor) DriftStats() (n int, mean, stddev float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == 0 {
		return 0, 0, 0
	}
	if m.samples > 1 {
		stddev = m.stats.Stddev()
	}
	return m.samples, m.stats.Mean(), stddev
}

// Run polls until ctx is done. Read failures are logged and counted.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		if s, err := m.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warningf("reading count: %v", err)
		} else {
			log.Debugf("count=%d rtt=%v", s.Ticks, s.RTT)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on port until ctx is done
func (m *Monitor) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("serving metrics on :%d/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
