package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "video_pipeline"

// Metrics groups the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	dispatchAttempts     *prometheus.CounterVec
	dispatchOutcomes     *prometheus.CounterVec
	ledgerOperations     *prometheus.CounterVec
	ledgerCredits        *prometheus.CounterVec
	webhooks             *prometheus.CounterVec
	liveConnections      prometheus.Gauge
	pushDeliveries       *prometheus.CounterVec
	heartbeatReaped      prometheus.Counter
	notificationRetries  *prometheus.CounterVec
	notificationsDeleted prometheus.Counter
	sweepDuration        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_dispatch_attempts_total",
			Help:      "Publish attempts to the processing queue.",
		}, []string{"result"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_dispatch_outcomes_total",
			Help:      "Final job dispatch status after retries.",
		}, []string{"status"}),
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_ledger_operations_total",
			Help:      "Ledger operations by kind and result.",
		}, []string{"kind", "result"}),
		ledgerCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_ledger_credits_total",
			Help:      "Credits moved through the ledger by kind.",
		}, []string{"kind"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Worker webhooks by event and outcome.",
		}, []string{"event", "outcome"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_connections",
			Help:      "Registered live push connections.",
		}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push writes by event name and result.",
		}, []string{"event", "result"}),
		heartbeatReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_heartbeat_reaped_total",
			Help:      "Connections removed because a heartbeat write failed.",
		}),
		notificationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Redelivery attempts of failed notifications.",
		}, []string{"result"}),
		notificationsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deleted_total",
			Help:      "Notifications removed by the retention sweep.",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.dispatchAttempts,
			m.dispatchOutcomes,
			m.ledgerOperations,
			m.ledgerCredits,
			m.webhooks,
			m.liveConnections,
			m.pushDeliveries,
			m.heartbeatReaped,
			m.notificationRetries,
			m.notificationsDeleted,
			m.sweepDuration,
		)
	}
	return m
}

func (m *Metrics) DispatchAttempt(result string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) DispatchOutcome(status string) {
	if m == nil {
		return
	}
	m.dispatchOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) LedgerOperation(kind string, amount int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ledgerOperations.WithLabelValues(kind, "error").Inc()
		return
	}
	m.ledgerOperations.WithLabelValues(kind, "ok").Inc()
	m.ledgerCredits.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) Webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.liveConnections.Set(float64(n))
}

func (m *Metrics) PushDelivery(event string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "undelivered"
	}
	m.pushDeliveries.WithLabelValues(event, result).Inc()
}

func (m *Metrics) HeartbeatReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.heartbeatReaped.Add(float64(n))
}

func (m *Metrics) NotificationRetry(delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.notificationRetries.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationsDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsDeleted.Add(float64(n))
}

func (m *Metrics) ObserveSweep(name string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(name).Observe(seconds)
}
