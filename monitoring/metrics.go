package monitoring

import (
	"time"

	"github.com/fuentelabs/invoicer/build"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "invoicer"

// Metrics holds the counters updated by the daemon's subsystems. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ordersCreated  prometheus.Counter
	transitions    *prometheus.CounterVec
	watchers       prometheus.Gauge
	watcherExits   *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	notesSent      prometheus.Counter
	notesReceived  *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	interventions  prometheus.Counter
	relaysOnline   prometheus.Gauge
	presignsDenied prometheus.Counter
}

// NewMetrics creates the daemon metrics and registers them, together with
// static build information, with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Number of orders for which escrow was issued.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order progress changes by resulting status.",
		}, []string{"payment_status", "order_status"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payment_watchers",
			Help:      "Number of running payment watchers.",
		}),
		watcherExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_watcher_exits_total",
			Help:      "Payment watcher exits by reason.",
		}, []string{"reason"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Merchant payouts by result.",
		}, []string{"result"}),
		notesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_broadcast_total",
			Help:      "Number of notes handed to the relay pool.",
		}),
		notesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_received_total",
			Help:      "Inbound notes by message type.",
		}, []string{"message"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Failed inbound note handling by message type.",
		}, []string{"message"}),
		interventions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Failures that need operator attention.",
		}),
		relaysOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_connected",
			Help:      "Number of connected relays.",
		}),
		presignsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presign_rate_limited_total",
			Help:      "Upload presign requests dropped by the limiter.",
		}),
	}

	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version",
			Help:      "Version of the daemon running.",
		},
		[]string{"version", "commit"})
	versionGauge.WithLabelValues(build.Version(), build.Commit).Set(1)

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Uptime of the daemon in seconds.",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		})

	reg.MustRegister(
		m.ordersCreated, m.transitions, m.watchers, m.watcherExits,
		m.payouts, m.notesSent, m.notesReceived, m.handlerErrors,
		m.interventions, m.relaysOnline, m.presignsDenied,
		versionGauge, uptime,
	)

	return m
}

// OrderCreated counts a newly escrowed order.
func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// Transition counts an order progress change.
func (m *Metrics) Transition(paymentStatus, orderStatus string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(paymentStatus, orderStatus).Inc()
}

// WatcherStarted tracks a new payment watcher.
func (m *Metrics) WatcherStarted() {
	if m == nil {
		return
	}
	m.watchers.Inc()
}

// WatcherExited tracks the exit of a payment watcher.
func (m *Metrics) WatcherExited(reason string) {
	if m == nil {
		return
	}
	m.watchers.Dec()
	m.watcherExits.WithLabelValues(reason).Inc()
}

// Payout counts a merchant payout attempt.
func (m *Metrics) Payout(success bool) {
	if m == nil {
		return
	}

	result := "failure"
	if success {
		result = "success"
	}
	m.payouts.WithLabelValues(result).Inc()
}

// NotesBroadcast counts outbound notes.
func (m *Metrics) NotesBroadcast(n int) {
	if m == nil {
		return
	}
	m.notesSent.Add(float64(n))
}

// NoteReceived counts an inbound note by message type.
func (m *Metrics) NoteReceived(message string) {
	if m == nil {
		return
	}
	m.notesReceived.WithLabelValues(message).Inc()
}

// HandlerError counts a failed inbound note.
func (m *Metrics) HandlerError(message string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(message).Inc()
}

// Intervention counts a failure recorded for the operator.
func (m *Metrics) Intervention() {
	if m == nil {
		return
	}
	m.interventions.Inc()
}

// RelaysConnected sets the number of connected relays.
func (m *Metrics) RelaysConnected(n int) {
	if m == nil {
		return
	}
	m.relaysOnline.Set(float64(n))
}

// PresignDenied counts a rate limited presign request.
func (m *Metrics) PresignDenied() {
	if m == nil {
		return
	}
	m.presignsDenied.Inc()
}

// registryCollector exports the registry's sizes on every scrape.
type registryCollector struct {
	reg *registry.Registry

	ordersDesc    *prometheus.Desc
	liveDesc      *prometheus.Desc
	commercesDesc *prometheus.Desc
	rateDesc      *prometheus.Desc
}

// NewRegistryCollector returns a collector reporting order and merchant
// counts and the configured exchange rate.
func NewRegistryCollector(reg *registry.Registry) prometheus.Collector {
	return &registryCollector{
		reg: reg,
		ordersDesc: prometheus.NewDesc(
			namespace+"_orders",
			"Number of orders seen since start.",
			nil, nil),
		liveDesc: prometheus.NewDesc(
			namespace+"_live_orders",
			"Number of orders that are neither completed nor canceled.",
			nil, nil),
		commercesDesc: prometheus.NewDesc(
			namespace+"_commerces",
			"Number of merchants that published a profile or menu.",
			nil, nil),
		rateDesc: prometheus.NewDesc(
			namespace+"_exchange_rate",
			"Configured fiat units per BTC.",
			nil, nil),
	}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ordersDesc
	ch <- c.liveDesc
	ch <- c.commercesDesc
	ch <- c.rateDesc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.ordersDesc,
		prometheus.GaugeValue, float64(c.reg.NumOrders()))
	ch <- prometheus.MustNewConstMetric(c.liveDesc,
		prometheus.GaugeValue, float64(len(c.reg.LiveOrders())))
	ch <- prometheus.MustNewConstMetric(c.commercesDesc,
		prometheus.GaugeValue, float64(c.reg.NumCommerces()))
	ch <- prometheus.MustNewConstMetric(c.rateDesc,
		prometheus.GaugeValue, c.reg.ExchangeRate())
}
