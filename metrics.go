package rabbitcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a point-in-time snapshot of a Client's counters, returned
// by Client.Metrics() (spec §4.1, §8). The counter fields are read from
// the underlying atomics; AvgProcessingTimeMs is read under a short mutex.
type Metrics struct {
	MessagesSent       int64
	MessagesReceived   int64
	Errors             int64
	Reconnections      int64
	LastReconnectTime  time.Time
	AvgProcessingTimeMs float64
}

// MetricsRegisterer is the abstract collector-registration sink a
// Client optionally reports to (spec §1: "metrics collector registerer
// (abstract sink)"). It mirrors prometheus.Registerer's shape directly,
// since that is the concrete type every caller in the corpus passes.
type MetricsRegisterer interface {
	Register(prometheus.Collector) error
	Unregister(prometheus.Collector) bool
}

// metricsCollector holds the live atomic counters and exposes both the
// Metrics() snapshot API and a prometheus.Collector view. Grounded on
// the teacher's Metrics struct / updateMetrics / updateAvgProcessingTime
// / GetMetrics / initializeMetricsCollection.
type metricsCollector struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	errors           atomic.Int64
	reconnections    atomic.Int64
	lastReconnectUnix atomic.Int64

	avgMu          sync.Mutex
	avgProcessingMs float64
	hasAvgSample    bool

	sentCounter      prometheus.Counter
	receivedCounter  prometheus.Counter
	errorCounter     prometheus.Counter
	reconnectCounter prometheus.Counter
	avgProcessingGauge prometheus.Gauge
}

func newMetricsCollector(namespace string) *metricsCollector {
	mc := &metricsCollector{
		sentCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total", Help: "Total messages published.",
		}),
		receivedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total", Help: "Total messages delivered to consumers.",
		}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Total operational errors observed.",
		}),
		reconnectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnections_total", Help: "Total successful reconnect cycles.",
		}),
		avgProcessingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "avg_processing_time_ms", Help: "Rolling average consumer handler processing time in milliseconds.",
		}),
	}
	return mc
}

// register attaches mc's collectors to r, if r is non-nil. Registration
// errors (e.g. duplicate collector) are tolerated silently, matching the
// teacher's best-effort metrics registration.
func (mc *metricsCollector) register(r MetricsRegisterer) {
	if r == nil {
		return
	}
	_ = r.Register(mc.sentCounter)
	_ = r.Register(mc.receivedCounter)
	_ = r.Register(mc.errorCounter)
	_ = r.Register(mc.reconnectCounter)
	_ = r.Register(mc.avgProcessingGauge)
}

func (mc *metricsCollector) IncMessagesSent() {
	mc.messagesSent.Add(1)
	mc.sentCounter.Inc()
}

func (mc *metricsCollector) IncMessagesReceived() {
	mc.messagesReceived.Add(1)
	mc.receivedCounter.Inc()
}

func (mc *metricsCollector) IncErrors() {
	mc.errors.Add(1)
	mc.errorCounter.Inc()
}

func (mc *metricsCollector) IncReconnections() {
	mc.reconnections.Add(1)
	mc.reconnectCounter.Inc()
	mc.lastReconnectUnix.Store(time.Now().Unix())
}

// ObserveProcessingTime folds d into the rolling average processing
// time using the teacher's updateAvgProcessingTime recurrence:
// avg = (prev + elapsed) / 2, seeded with the first observed elapsed
// time rather than zero.
func (mc *metricsCollector) ObserveProcessingTime(d time.Duration) {
	elapsedMs := float64(d) / float64(time.Millisecond)

	mc.avgMu.Lock()
	if !mc.hasAvgSample {
		mc.avgProcessingMs = elapsedMs
		mc.hasAvgSample = true
	} else {
		mc.avgProcessingMs = (mc.avgProcessingMs + elapsedMs) / 2
	}
	avg := mc.avgProcessingMs
	mc.avgMu.Unlock()

	mc.avgProcessingGauge.Set(avg)
}

// Snapshot returns the current counter values as a Metrics value.
func (mc *metricsCollector) Snapshot() Metrics {
	var last time.Time
	if u := mc.lastReconnectUnix.Load(); u != 0 {
		last = time.Unix(u, 0)
	}
	mc.avgMu.Lock()
	avg := mc.avgProcessingMs
	mc.avgMu.Unlock()
	return Metrics{
		MessagesSent:        mc.messagesSent.Load(),
		MessagesReceived:    mc.messagesReceived.Load(),
		Errors:              mc.errors.Load(),
		Reconnections:       mc.reconnections.Load(),
		LastReconnectTime:   last,
		AvgProcessingTimeMs: avg,
	}
}
