// Package metrics exposes the bridge's Prometheus collectors. All recording
// methods are nil-receiver safe so wiring metrics stays optional in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartfilterpro/internal/models"
)

type Metrics struct {
	snapshotsTotal  *prometheus.CounterVec
	cyclesTotal     *prometheus.CounterVec
	cycleRuntime    prometheus.Histogram
	telemetrySends  *prometheus.CounterVec
	filterPercent   prometheus.Gauge
	filterToday     prometheus.Gauge
	filterTotal     prometheus.Gauge
	hvacActive      prometheus.Gauge
	sourceConnected prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		snapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartfilterpro_snapshots_total",
			Help: "Climate snapshots handled, labeled processed or skipped.",
		}, []string{"result"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartfilterpro_cycles_total",
			Help: "Completed equipment cycles by mode.",
		}, []string{"mode"}),
		cycleRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartfilterpro_cycle_runtime_seconds",
			Help:    "Distribution of completed cycle runtimes.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}),
		telemetrySends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartfilterpro_telemetry_sends_total",
			Help: "Telemetry delivery attempts, labeled ok, error or dropped.",
		}, []string{"result"}),
		filterPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartfilterpro_filter_percentage_used",
			Help: "Filter usage percentage from the last status poll.",
		}),
		filterToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartfilterpro_filter_today_minutes",
			Help: "Active minutes today from the last status poll.",
		}),
		filterTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartfilterpro_filter_total_minutes",
			Help: "Total active minutes from the last status poll.",
		}),
		hvacActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartfilterpro_hvac_active",
			Help: "1 while the tracked equipment is running, else 0.",
		}),
		sourceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartfilterpro_source_connected",
			Help: "1 while the state source reports the entity reachable.",
		}),
	}

	prometheus.MustRegister(
		m.snapshotsTotal,
		m.cyclesTotal,
		m.cycleRuntime,
		m.telemetrySends,
		m.filterPercent,
		m.filterToday,
		m.filterTotal,
		m.hvacActive,
		m.sourceConnected,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) Snapshot(result string) {
	if m == nil {
		return
	}
	m.snapshotsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) CycleEnded(mode string, runtimeSeconds int64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(mode).Inc()
	m.cycleRuntime.Observe(float64(runtimeSeconds))
}

func (m *Metrics) TelemetrySend(result string) {
	if m == nil {
		return
	}
	m.telemetrySends.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.hvacActive.Set(1)
	} else {
		m.hvacActive.Set(0)
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.sourceConnected.Set(1)
	} else {
		m.sourceConnected.Set(0)
	}
}

func (m *Metrics) SetFilterStatus(st models.FilterStatus) {
	if m == nil {
		return
	}
	if st.PercentageUsed != nil {
		m.filterPercent.Set(*st.PercentageUsed)
	}
	if st.TodayMinutes != nil {
		m.filterToday.Set(*st.TodayMinutes)
	}
	if st.TotalMinutes != nil {
		m.filterTotal.Set(*st.TotalMinutes)
	}
}
