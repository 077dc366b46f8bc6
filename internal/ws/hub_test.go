package ws

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

type capturedPublish struct {
	node, conn string
	payload    []byte
}

type fakeRelay struct {
	published []capturedPublish
}

func (f *fakeRelay) Publish(_ context.Context, nodeID, connID string, payload []byte) error {
	f.published = append(f.published, capturedPublish{nodeID, connID, payload})
	return nil
}

func TestNodeOf(t *testing.T) {
	assert.Equal(t, "n1", NodeOf("n1.5f0c"))
	assert.Equal(t, "n1", NodeOf("n1.a.b"))
	assert.Equal(t, "", NodeOf("no-node"))
}

func TestHubDeliveryTargets(t *testing.T) {
	relay := &fakeRelay{}
	hub := NewHub("n1", relay, zaptest.NewLogger(t))
	ctx := context.Background()

	err := hub.Deliver(ctx, "n1.missing", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.Empty(t, relay.published)

	msg := &domain.Message{ID: 3, SenderID: "a", ReceiverID: "b", Text: "x"}
	require.NoError(t, hub.DeliverMessage(ctx, "n2.abc", msg, "ref"))
	require.Len(t, relay.published, 1)
	assert.Equal(t, "n2", relay.published[0].node)
	assert.Equal(t, "n2.abc", relay.published[0].conn)
	assert.JSONEq(t, `{"type":"receive_message","client_ref":"ref","message":{"id":3,"conversation_id":0,"sender_id":"a","receiver_id":"b","text":"x","created_at":"0001-01-01T00:00:00Z","is_read":false}}`,
		string(relay.published[0].payload))

	standalone := NewHub("n1", nil, nil)
	assert.ErrorIs(t, standalone.Deliver(ctx, "n2.abc", []byte(`{}`)), ErrUnknownConnection)
}

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			switch {
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.sessionOpened()
	m.sessionOpened()
	m.recordRegistration("alice", "n1.a")
	m.recordRegistration("alice", "n1.a")
	m.recordRoute(OutcomeDelivered, 5*time.Millisecond)
	m.recordRoute(OutcomeStored, 5*time.Millisecond)
	m.recordRoute(OutcomeRejected, 0)
	m.sessionClosed("alice", "n1.a")

	got := gathered(t, reg)
	assert.Equal(t, 1.0, got["dm_sessions_open"])
	assert.Equal(t, 0.0, got["dm_identities_bound"])
	assert.Equal(t, 2.0, got["dm_registrations_total"])
	assert.Equal(t, 1.0, got["dm_messages_routed_total/delivered"])
	assert.Equal(t, 1.0, got["dm_messages_routed_total/rejected"])
	assert.Equal(t, 2.0, got["dm_route_latency_seconds"], "only successful routes are timed")

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.sessionOpened()
		nilMetrics.recordRoute(OutcomeFailed, time.Second)
		nilMetrics.recordRegistration("alice", "n1.a")
		nilMetrics.sessionClosed("alice", "n1.a")
	})
}

func TestDisplacedSessionIsNotCountedAsBound(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	for i := 0; i < 3; i++ {
		m.sessionOpened()
	}
	m.recordRegistration("carol", "n1.tab1")
	m.recordRegistration("dave", "n1.d")
	m.recordRegistration("carol", "n1.tab2")
	assert.Equal(t, 2.0, gathered(t, reg)["dm_identities_bound"], "carol's second tab replaces the first")

	m.sessionClosed("carol", "n1.tab1")
	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["dm_sessions_open"])
	assert.Equal(t, 2.0, got["dm_identities_bound"], "closing the displaced tab keeps carol bound")

	m.sessionClosed("carol", "n1.tab2")
	assert.Equal(t, 1.0, gathered(t, reg)["dm_identities_bound"])

	m.sessionClosed("", "n1.anon")
	got = gathered(t, reg)
	assert.Equal(t, 0.0, got["dm_sessions_open"])
	assert.Equal(t, 1.0, got["dm_identities_bound"])
}
