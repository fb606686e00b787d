// Package metrics holds the prometheus collectors of the participant and the gateway.
// A nil collector set is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicemesh"

// Negotiation results.
const (
	ResultStable    = "stable"
	ResultMismatch  = "mismatch"
	ResultStale     = "stale"
	ResultFailed    = "failed"
	ResultExhausted = "exhausted"
)

type Mesh struct {
	sessions       prometheus.Gauge
	negotiations   *prometheus.CounterVec
	renegotiations prometheus.Counter
	activity       *prometheus.CounterVec
}

func NewMesh(reg prometheus.Registerer) *Mesh {
	f := promauto.With(reg)
	return &Mesh{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_sessions",
			Help:      "Live peer sessions of the local participant.",
		}),
		negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Negotiation outcomes per result.",
		}, []string{"result"}),
		renegotiations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renegotiations_scheduled_total",
			Help:      "Retries scheduled after a failed or mismatched negotiation.",
		}),
		activity: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_activity_events_total",
			Help:      "Local voice activity events emitted.",
		}, []string{"speaking"}),
	}
}

func (m *Mesh) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Mesh) Negotiation(result string) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(result).Inc()
}

func (m *Mesh) RenegotiationScheduled() {
	if m == nil {
		return
	}
	m.renegotiations.Inc()
}

func (m *Mesh) Activity(speaking bool) {
	if m == nil {
		return
	}
	label := "false"
	if speaking {
		label = "true"
	}
	m.activity.WithLabelValues(label).Inc()
}

type Gateway struct {
	members  prometheus.Gauge
	relayed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	kicked   prometheus.Counter
}

func NewGateway(reg prometheus.Registerer) *Gateway {
	f := promauto.With(reg)
	return &Gateway{
		members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "voice_members",
			Help:      "Members currently joined to any voice room.",
		}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "messages_relayed_total",
			Help:      "Signaling messages delivered, by type.",
		}, []string{"type"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "joins_rejected_total",
			Help:      "Join attempts rejected, by reason.",
		}, []string{"reason"}),
		kicked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "members_kicked_total",
			Help:      "Members removed by the backpressure policy.",
		}),
	}
}

func (g *Gateway) MemberJoined() {
	if g == nil {
		return
	}
	g.members.Inc()
}

func (g *Gateway) MemberLeft() {
	if g == nil {
		return
	}
	g.members.Dec()
}

func (g *Gateway) Relayed(msgType string) {
	if g == nil {
		return
	}
	g.relayed.WithLabelValues(msgType).Inc()
}

func (g *Gateway) Rejected(reason string) {
	if g == nil {
		return
	}
	g.rejected.WithLabelValues(reason).Inc()
}

func (g *Gateway) Kicked() {
	if g == nil {
		return
	}
	g.kicked.Inc()
}
