package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncTransaction(OutcomeVerified)
	pr.IncTransaction(OutcomeRolledBack)
	pr.IncTransaction(OutcomeRolledBack)
	pr.ObserveTransactionDuration(2 * time.Second)
	pr.IncOperation("install_package", ResultSuccess)
	pr.ObserveOperationDuration("install_package", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.transactions.WithLabelValues("rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.operations.WithLabelValues("install_package", "success")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 4)
}

func TestPrometheusRecorderNilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncTransaction(OutcomeNoop)
		pr.ObserveTransactionDuration(time.Second)
		pr.IncOperation("x", ResultFailed)
		pr.ObserveOperationDuration("x", time.Second)
		require.NoError(t, pr.WriteTextfile("/nonexistent/metrics.prom"))
	})
}

func TestWriteTextfile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncTransaction(OutcomeCommitted)

	path := filepath.Join(t.TempDir(), "flux.prom")
	require.NoError(t, pr.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `flux_transactions_total{outcome="committed"} 1`))
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopRecorder{}, OrNoop(nil))
	pr := NewPrometheusRecorder(nil)
	assert.Same(t, pr, OrNoop(pr))
}
