package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	SetBuildInfo("test")
	RecordSessionStatus("active")
	RecordAction("navigate", true, 10*time.Millisecond)
	RecordMessage("Inbound", "Request")
	RecordDecodeFailure()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordAction(t *testing.T) {
	before := testutil.ToFloat64(actions.WithLabelValues("click", "error"))
	RecordAction("click", false, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(actions.WithLabelValues("click", "error")))
}

func TestConnectionGauge(t *testing.T) {
	ConnectionOpened("tcp")
	ConnectionOpened("tcp")
	ConnectionClosed("tcp")
	assert.Equal(t, float64(1), testutil.ToFloat64(liveConnections.WithLabelValues("tcp")))
	ConnectionClosed("tcp")
}
