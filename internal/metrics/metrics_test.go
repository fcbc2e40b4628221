package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SetConnectionState(2)
	m.ReconnectScheduled()
	m.ReconnectScheduled()
	m.Request("slotSubscribe", "ok")
	m.QueueOverflow("drop-oldest")
	m.PolicyRejection("rate_limit")
	m.Gap()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionState))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("slotSubscribe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueOverflows.WithLabelValues("drop-oldest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyRejections.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gaps))
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnectionState(1)
		m.ReconnectScheduled()
		m.ConnectFailed()
		m.Request("x", "ok")
		m.Notification()
		m.HandlerError()
		m.SetActiveSubscriptions(3)
		m.QueueOverflow("reject")
		m.PolicyRejection("max_subscriptions")
		m.Gap()
	})
}
