// Package metrics owns the Prometheus collectors for the sync engine.
//
// Every recording method is safe to call on a nil *Collector so that services built
// without metrics (tests, the CLI) need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
type Collector struct {
	registry *prometheus.Registry

	storeOperations        *prometheus.CounterVec
	storeDuration          *prometheus.HistogramVec
	requestTransitions     *prometheus.CounterVec
	partialWrites          *prometheus.CounterVec
	notificationsDelivered *prometheus.CounterVec
	messagesSent           prometheus.Counter
	reconcileTicks         *prometheus.CounterVec
	activeSessions         prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		storeOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_operations_total",
			Help:      "Partition store operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partition_operation_duration_seconds",
			Help:      "Partition store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		requestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_request_transitions_total",
			Help:      "Connection request lifecycle calls by transition and outcome.",
		}, []string{"transition", "outcome"}),
		partialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_writes_total",
			Help:      "Multi-partition writes where only the primary half landed.",
		}, []string{"operation"}),
		notificationsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Notifications written into a target partition.",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Direct messages sent.",
		}),
		reconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_ticks_total",
			Help:      "Reconciliation ticks by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_active_sessions",
			Help:      "Reconciliation sessions currently running.",
		}),
	}

	c.registry.MustRegister(
		c.storeOperations,
		c.storeDuration,
		c.requestTransitions,
		c.partialWrites,
		c.notificationsDelivered,
		c.messagesSent,
		c.reconcileTicks,
		c.activeSessions,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveStore(op, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.storeOperations.WithLabelValues(op, outcome).Inc()
	c.storeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) RequestTransition(transition, outcome string) {
	if c == nil {
		return
	}
	c.requestTransitions.WithLabelValues(transition, outcome).Inc()
}

func (c *Collector) PartialWrite(operation string) {
	if c == nil {
		return
	}
	c.partialWrites.WithLabelValues(operation).Inc()
}

func (c *Collector) NotificationDelivered(kind string) {
	if c == nil {
		return
	}
	c.notificationsDelivered.WithLabelValues(kind).Inc()
}

func (c *Collector) MessageSent() {
	if c == nil {
		return
	}
	c.messagesSent.Inc()
}

func (c *Collector) ReconcileTick(outcome string) {
	if c == nil {
		return
	}
	c.reconcileTicks.WithLabelValues(outcome).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionStopped() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
