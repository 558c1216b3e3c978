// Package metrics holds the Prometheus collectors of the bot. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakewatch"

// Metrics registers the collectors on its own registry.
type Metrics struct {
	reg           *prometheus.Registry
	scans         *prometheus.CounterVec
	scanDur       prometheus.Histogram
	wallets       prometheus.Gauge
	fetchAttempts *prometheus.CounterVec
	notifications *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// New returns the collectors registered together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Number of wallet scans by result",
	}, []string{"result"})
	m.scanDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Time spent reconciling all wallets",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), //nolint:gomnd // 0.1s to ~200s
	})
	m.wallets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "wallets",
		Help:      "Number of wallets seen by the last scan",
	})
	m.fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Number of balance source requests by kind and status",
	}, []string{"kind", "status"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Number of balance change notifications by status",
	}, []string{"status"})
	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Number of bot commands handled",
	}, []string{"command"})

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans, m.scanDur, m.wallets, m.fetchAttempts, m.notifications, m.commands,
	)

	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Scan records a finished scan.
func (m *Metrics) Scan(ok bool, wallets int, d time.Duration) {
	if m == nil {
		return
	}

	m.scans.WithLabelValues(status(ok)).Inc()
	m.scanDur.Observe(d.Seconds())
	m.wallets.Set(float64(wallets))
}

// Attempt records one request to the balance source.
func (m *Metrics) Attempt(kind string, ok bool) {
	if m == nil {
		return
	}

	m.fetchAttempts.WithLabelValues(kind, status(ok)).Inc()
}

// Notification records one delivery.
func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}

	m.notifications.WithLabelValues(status(ok)).Inc()
}

// Command records one handled command.
func (m *Metrics) Command(cmd string) {
	if m == nil {
		return
	}

	m.commands.WithLabelValues(cmd).Inc()
}

func status(ok bool) string {
	if ok {
		return "ok"
	}

	return "error"
}
