package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeResent  = "resent"

	metricsSubsystem = "dispatch"
)

// DispatchMetrics exposes scheduler activity as Prometheus collectors. A nil
// *DispatchMetrics records nothing.
type DispatchMetrics struct {
	mu sync.Mutex

	messagesTotal    *prometheus.CounterVec
	resendsTotal     *prometheus.CounterVec
	overrunsTotal    *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	cycleDuration    *prometheus.HistogramVec
	batchSize        *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newDispatchCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newDispatchHistogramVec(namespace, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewDispatchMetrics creates the collectors. A nil registerer uses the
// Prometheus default registerer.
func NewDispatchMetrics(namespace string, registerer prometheus.Registerer) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "romeways"
	}
	queueLabels := []string{"connector", "queue"}

	return &DispatchMetrics{
		registerer:       registerer,
		messagesTotal:    newDispatchCounterVec(namespace, "messages_total", "Total number of dispatched messages by outcome", []string{"connector", "queue", "outcome"}),
		resendsTotal:     newDispatchCounterVec(namespace, "resends_total", "Total number of messages pushed back to their queue", queueLabels),
		overrunsTotal:    newDispatchCounterVec(namespace, "overruns_total", "Total number of poll cycles that took longer than the queue frequency", queueLabels),
		callbackDuration: newDispatchHistogramVec(namespace, "callback_duration_seconds", "Duration of callback invocations", prometheus.DefBuckets, queueLabels),
		cycleDuration:    newDispatchHistogramVec(namespace, "cycle_duration_seconds", "Duration of a pull and dispatch cycle", prometheus.DefBuckets, queueLabels),
		batchSize:        newDispatchHistogramVec(namespace, "batch_size", "Number of messages returned by one pull", []float64{0, 1, 2, 5, 10, 20, 50, 100, 500}, queueLabels),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DispatchMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.resendsTotal,
		m.overrunsTotal,
		m.callbackDuration,
		m.cycleDuration,
		m.batchSize,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *DispatchMetrics) recordOutcome(connectorName, queue, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(connectorName, queue, outcome).Inc()
	m.callbackDuration.WithLabelValues(connectorName, queue).Observe(d.Seconds())
}

func (m *DispatchMetrics) recordResend(connectorName, queue string) {
	if m == nil {
		return
	}
	m.resendsTotal.WithLabelValues(connectorName, queue).Inc()
}

func (m *DispatchMetrics) recordOverrun(connectorName, queue string) {
	if m == nil {
		return
	}
	m.overrunsTotal.WithLabelValues(connectorName, queue).Inc()
}

func (m *DispatchMetrics) observeBatch(connectorName, queue string, size int) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues(connectorName, queue).Observe(float64(size))
}

func (m *DispatchMetrics) observeCycle(connectorName, queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(connectorName, queue).Observe(d.Seconds())
}

// Reset resets all collectors (useful for testing).
func (m *DispatchMetrics) Reset() {
	m.messagesTotal.Reset()
	m.resendsTotal.Reset()
	m.overrunsTotal.Reset()
	m.callbackDuration.Reset()
	m.cycleDuration.Reset()
	m.batchSize.Reset()
}
