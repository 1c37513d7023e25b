package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总缓存层的 Prometheus 指标。nil *Metrics 上的所有方法都是空操作。
type Metrics struct {
	lookups   *prometheus.CounterVec
	downloads *prometheus.HistogramVec
	fallbacks prometheus.Counter
	evictions *prometheus.CounterVec
	diskBytes prometheus.Gauge
	diskFiles prometheus.Gauge
}

// NewMetrics 在 reg 上注册指标；reg 为 nil 时使用全局默认注册表。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgcache",
			Name:      "lookups_total",
			Help:      "Cached path lookups by result (memory_hit, disk_hit, miss, healed).",
		}, []string{"result"}),
		downloads: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imgcache",
			Name:      "download_attempt_seconds",
			Help:      "Duration of individual download attempts by outcome (ok, retry, failed).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imgcache",
			Name:      "placeholder_fallbacks_total",
			Help:      "Images served from the default placeholder after the primary URL failed.",
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgcache",
			Name:      "evictions_total",
			Help:      "Removed cache entries by reason (age, size, owner, heal).",
		}, []string{"reason"}),
		diskBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "imgcache",
			Name:      "disk_bytes",
			Help:      "Aggregate size of cached files known to the metadata store.",
		}),
		diskFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "imgcache",
			Name:      "disk_files",
			Help:      "Number of metadata records.",
		}),
	}
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDownload(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) evicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) disk(entries map[string]Entry) {
	if m == nil {
		return
	}
	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	m.diskBytes.Set(float64(total))
	m.diskFiles.Set(float64(len(entries)))
}
