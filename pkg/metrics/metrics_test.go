package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.LocalNodes.Set(3)
	m.Relayed.WithLabelValues("bridged").Inc()
	m.BridgeLinks.WithLabelValues("outbound").Set(1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.LocalNodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Relayed.WithLabelValues("bridged")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["relay_local_nodes"])
	assert.True(t, names["relay_unicast_total"])
	assert.True(t, names["relay_bridge_links"])
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewUnregistered()
		NewUnregistered()
	})
}
