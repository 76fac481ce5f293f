package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilRegistererIsIsolated(t *testing.T) {
	a := New(nil)
	b := New(nil)

	a.Predictions.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Predictions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Predictions))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.EventsConsumed.WithLabelValues("sensor").Inc()
	m.Deliveries.WithLabelValues("ok").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["guardian_events_consumed_total"])
	assert.True(t, names["guardian_broadcast_deliveries_total"])

	assert.Panics(t, func() { New(reg) })
}
