package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported metric
const Namespace = "flux"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once                sync.Once
	registry            *prom.Registry
	transactions        *prom.CounterVec
	transactionDuration prom.Histogram
	operations          *prom.CounterVec
	operationDuration   *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg, or on a
// fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.transactions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "transactions_total",
			Help:      "Transactions by final outcome",
		}, []string{"outcome"})
		pr.transactionDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: Namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Wall time from begin to cleanup",
			Buckets:   prom.DefBuckets,
		})
		pr.operations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Operation attempts by kind and result",
		}, []string{"kind", "result"})
		pr.operationDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of individual operation attempts",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"})
		reg.MustRegister(pr.transactions, pr.transactionDuration, pr.operations, pr.operationDuration)
	})
	return pr
}

func (p *PrometheusRecorder) IncTransaction(outcome Outcome) {
	if p == nil || p.transactions == nil {
		return
	}
	p.transactions.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveTransactionDuration(d time.Duration) {
	if p == nil || p.transactionDuration == nil {
		return
	}
	p.transactionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncOperation(kind string, result ResultLabel) {
	if p == nil || p.operations == nil {
		return
	}
	p.operations.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveOperationDuration(kind string, d time.Duration) {
	if p == nil || p.operationDuration == nil {
		return
	}
	p.operationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Gatherer exposes the recorder's registry
func (p *PrometheusRecorder) Gatherer() prom.Gatherer {
	return p.registry
}

// WriteTextfile atomically writes the current metrics to path in the
// Prometheus text exposition format.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if p == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot create directory for %s", path)
	}
	if err := prom.WriteToTextfile(path, p.registry); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot write metrics to %s", path)
	}
	return nil
}
