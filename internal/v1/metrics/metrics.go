package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the transport server.
//
// Naming convention: namespace_subsystem_name
// - namespace: transport_server (application-level grouping)
// - subsystem: websocket, room, signaling, sweeper (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms)
// - Counter: cumulative events (messages routed, broadcasts, evictions)

var (
	// ActiveConnections tracks live WebSocket connections per service.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "transport_server",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	}, []string{"service"})

	// ActiveRooms tracks live rooms per service.
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "transport_server",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	}, []string{"service"})

	// MessagesRouted counts inbound WebSocket frames by service and tag.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total WebSocket messages routed",
	}, []string{"service", "type"})

	// BroadcastsSent counts outbound fan-out sends by service.
	BroadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "websocket",
		Name:      "broadcast_sends_total",
		Help:      "Total messages fanned out to room participants",
	}, []string{"service"})

	// ParticipantEvictions counts forced removals of participants.
	ParticipantEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "websocket",
		Name:      "participant_evictions_total",
		Help:      "Total participants evicted after send failures or room deletion",
	}, []string{"service", "reason"})

	// SignalsRelayed counts WebRTC signaling messages by kind and outcome.
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "signaling",
		Name:      "relayed_total",
		Help:      "Total WebRTC signaling messages relayed",
	}, []string{"kind", "status"})

	// SweeperEvictions counts rooms evicted for inactivity.
	SweeperEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "sweeper",
		Name:      "rooms_evicted_total",
		Help:      "Total rooms evicted by the inactivity sweeper",
	}, []string{"service"})

	// RateLimitRequests counts requests that passed the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked by the rate limiter",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_server",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"endpoint", "limit_type"})
)
