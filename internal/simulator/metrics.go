package simulator

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of the simulator's traffic
// counters, for in-test assertions that should not scrape /metrics.
type Stats struct {
	SessionsOpened  int64 `json:"sessions_opened"`
	EventsStored    int64 `json:"events_stored"`
	EventsPublished int64 `json:"events_published"`
	FramesDelivered int64 `json:"frames_delivered"`
	MalformedFrames int64 `json:"malformed_frames"`
}

// metrics mirrors every counter twice: atomics for Stats snapshots and
// Prometheus counters for the standalone binary's /metrics endpoint.
// Observability only; nothing here is correctness-bearing.
type metrics struct {
	registry *prometheus.Registry

	sessionsOpened  atomic.Int64
	eventsStored    atomic.Int64
	eventsPublished atomic.Int64
	framesDelivered atomic.Int64
	malformedFrames atomic.Int64

	promSessionsOpened  prometheus.Counter
	promEventsStored    prometheus.Counter
	promEventsPublished prometheus.Counter
	promFramesDelivered prometheus.Counter
	promMalformedFrames prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		promSessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysim_sessions_opened_total",
			Help: "Intercepted connections turned into sessions.",
		}),
		promEventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysim_events_stored_total",
			Help: "Events inserted into the store (seeded, injected or captured).",
		}),
		promEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysim_events_published_total",
			Help: "Client-originated EVENT frames captured.",
		}),
		promFramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysim_frames_delivered_total",
			Help: "EVENT frames delivered to subscriptions (backlog and live).",
		}),
		promMalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaysim_malformed_frames_total",
			Help: "Client frames answered with a NOTICE instead of being handled.",
		}),
	}
	m.registry.MustRegister(
		m.promSessionsOpened,
		m.promEventsStored,
		m.promEventsPublished,
		m.promFramesDelivered,
		m.promMalformedFrames,
	)
	return m
}

func (m *metrics) sessionOpened() {
	m.sessionsOpened.Add(1)
	m.promSessionsOpened.Inc()
}

func (m *metrics) eventStored() {
	m.eventsStored.Add(1)
	m.promEventsStored.Inc()
}

func (m *metrics) eventPublished() {
	m.eventsPublished.Add(1)
	m.promEventsPublished.Inc()
}

func (m *metrics) frameDelivered() {
	m.framesDelivered.Add(1)
	m.promFramesDelivered.Inc()
}

func (m *metrics) malformedFrame() {
	m.malformedFrames.Add(1)
	m.promMalformedFrames.Inc()
}

func (m *metrics) snapshot() Stats {
	return Stats{
		SessionsOpened:  m.sessionsOpened.Load(),
		EventsStored:    m.eventsStored.Load(),
		EventsPublished: m.eventsPublished.Load(),
		FramesDelivered: m.framesDelivered.Load(),
		MalformedFrames: m.malformedFrames.Load(),
	}
}
