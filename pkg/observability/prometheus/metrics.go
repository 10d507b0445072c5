// Package prometheus exposes pipeline metrics. The conservation property of
// the router (one upstream demand signal per delivered item) is directly
// observable: pacer_demand_signals_total tracks pacer_items_delivered_total
// within one initial seed signal.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the registry served by the /metrics endpoint.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer wraps DefaultRegistry with the service label.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "pacer"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Router
	ItemsDelivered prometheus.Counter
	DemandSignals  prometheus.Counter
	PendingItems   prometheus.Gauge
	PendingDemand  prometheus.Gauge

	// Producer
	SourcePolls   *prometheus.CounterVec // result: item | empty | error
	ItemsProduced prometheus.Counter
	ProducerState prometheus.Gauge // 0 = standby, 1 = polling

	// Workers
	WorkerItems *prometheus.CounterVec // worker, outcome: ok | error
}

// GetMetrics returns the process-wide metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a metrics collection registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		ItemsDelivered: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "pacer_items_delivered_total",
			Help: "Items handed to a worker by the router",
		}),
		DemandSignals: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "pacer_demand_signals_total",
			Help: "Demand signals sent upstream to the producer",
		}),
		PendingItems: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "pacer_pending_items",
			Help: "Items buffered in the router awaiting a worker",
		}),
		PendingDemand: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "pacer_pending_demand",
			Help: "Workers queued in the router awaiting an item",
		}),
		SourcePolls: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "pacer_source_polls_total",
			Help: "Source polls by result",
		}, []string{"result"}),
		ItemsProduced: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "pacer_items_produced_total",
			Help: "Items forwarded from the producer to the router",
		}),
		ProducerState: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "pacer_producer_polling",
			Help: "Producer state: 0 standby, 1 polling",
		}),
		WorkerItems: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "pacer_worker_items_total",
			Help: "Items processed by workers, by outcome",
		}, []string{"worker", "outcome"}),
	}
}

// RecordDelivery records one item leaving router custody.
func (m *Metrics) RecordDelivery() {
	m.ItemsDelivered.Inc()
}

// RecordDemandSignal records one demand signal sent to the producer.
func (m *Metrics) RecordDemandSignal() {
	m.DemandSignals.Inc()
}

// SetQueueDepths updates the router surplus gauges.
func (m *Metrics) SetQueueDepths(pendingItems, pendingDemand int) {
	m.PendingItems.Set(float64(pendingItems))
	m.PendingDemand.Set(float64(pendingDemand))
}

// RecordPoll records one source poll with its result.
func (m *Metrics) RecordPoll(result string) {
	m.SourcePolls.WithLabelValues(result).Inc()
}

// RecordProduced records one item forwarded downstream.
func (m *Metrics) RecordProduced() {
	m.ItemsProduced.Inc()
}

// SetProducerPolling flips the producer state gauge.
func (m *Metrics) SetProducerPolling(polling bool) {
	if polling {
		m.ProducerState.Set(1)
	} else {
		m.ProducerState.Set(0)
	}
}

// RecordWorkerItem records one processed item for a worker.
func (m *Metrics) RecordWorkerItem(worker string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.WorkerItems.WithLabelValues(worker, outcome).Inc()
}
