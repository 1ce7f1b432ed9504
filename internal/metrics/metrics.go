package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for relayed messages.
const (
	DropRoomGone      = "room_gone"
	DropNotMember     = "not_member"
	DropNoRecipient   = "no_recipient"
	DropQueueFull     = "queue_full"
	DropRateLimited   = "rate_limited"
	DropMalformed     = "malformed"
	DropUnknownTarget = "unknown_target"
)

// Room destruction reasons.
const (
	ReasonGrace    = "grace_expired"
	ReasonLifetime = "lifetime_expired"
	ReasonShutdown = "shutdown"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	roomsActive         prometheus.Gauge
	roomsCreated        prometheus.Counter
	roomsDestroyed      *prometheus.CounterVec
	joins               prometheus.Counter
	leaves              prometheus.Counter
	connections         prometheus.Gauge
	relayed             *prometheus.CounterVec
	dropped             *prometheus.CounterVec
	translationFailures *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Name: "rooms_active",
			Help: "Rooms currently held by the registry.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Name: "rooms_created_total",
			Help: "Rooms created.",
		}),
		roomsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "rooms_destroyed_total",
			Help: "Rooms destroyed, by reason.",
		}, []string{"reason"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Name: "room_joins_total",
			Help: "Successful room joins.",
		}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Name: "room_leaves_total",
			Help: "Room leaves, voluntary or by disconnect.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Name: "ws_connections",
			Help: "Open WebSocket connections.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "relayed_messages_total",
			Help: "Messages delivered to recipients, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "dropped_messages_total",
			Help: "Messages dropped, by reason.",
		}, []string{"reason"}),
		translationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Name: "translation_failures_total",
			Help: "Translator calls that failed and fell back to the original text.",
		}, []string{"lang"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.roomsActive, m.roomsCreated, m.roomsDestroyed,
		m.joins, m.leaves, m.connections,
		m.relayed, m.dropped, m.translationFailures,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) RoomCreated() {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
	m.roomsActive.Inc()
}

func (m *Metrics) RoomDestroyed(reason string) {
	if m == nil {
		return
	}
	m.roomsDestroyed.WithLabelValues(reason).Inc()
	m.roomsActive.Dec()
}

func (m *Metrics) Joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) Left() {
	if m != nil {
		m.leaves.Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Relayed(kind string, recipients int) {
	if m != nil && recipients > 0 {
		m.relayed.WithLabelValues(kind).Add(float64(recipients))
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) TranslationFailed(lang string) {
	if m != nil {
		m.translationFailures.WithLabelValues(lang).Inc()
	}
}
