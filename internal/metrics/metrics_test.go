package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMeshCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMesh(reg)

	m.SetSessions(3)
	m.Negotiation(ResultMismatch)
	m.Negotiation(ResultMismatch)
	m.Activity(true)

	if got := testutil.ToFloat64(m.sessions); got != 3 {
		t.Fatalf("sessions = %v", got)
	}
	if got := testutil.ToFloat64(m.negotiations.WithLabelValues(ResultMismatch)); got != 2 {
		t.Fatalf("mismatch count = %v", got)
	}
	if got := testutil.ToFloat64(m.activity.WithLabelValues("true")); got != 1 {
		t.Fatalf("activity = %v", got)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var m *Mesh
	m.SetSessions(1)
	m.Negotiation(ResultStable)
	m.RenegotiationScheduled()
	m.Activity(false)

	var g *Gateway
	g.MemberJoined()
	g.Relayed("webrtc_offer")
	g.Kicked()
}
