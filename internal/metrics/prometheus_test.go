package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

func TestPrometheusCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheus(reg)
	require.NoError(t, err)

	m.Staked()
	m.Staked()
	m.Voted(true)
	m.Voted(false)
	m.Voted(true)
	m.Finished(domain.StatusApproved)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stakes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.votes.WithLabelValues("for")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votes.WithLabelValues("against")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("approved")))
}

func TestPrometheusReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheus(reg)
	require.NoError(t, err)
	second, err := NewPrometheus(reg)
	require.NoError(t, err)

	second.Delegated()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.delegations))
}

func TestNilPrometheusIsNoop(t *testing.T) {
	var m *Prometheus
	assert.NotPanics(t, func() {
		m.Staked()
		m.Voted(true)
		m.Finished(domain.StatusRejected)
		m.RecipientCallFailed()
	})
}
