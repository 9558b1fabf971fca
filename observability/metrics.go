package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jobledger/native/common"
)

// MarketMetrics captures request, error and custody metrics for the ledger
// façade.
type MarketMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	custody  *prometheus.GaugeVec
	sequence prometheus.Gauge
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Market returns the lazily-initialised metrics registry used by core.Node.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobledger",
				Subsystem: "ops",
				Name:      "requests_total",
				Help:      "Total ledger operations segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobledger",
				Subsystem: "ops",
				Name:      "errors_total",
				Help:      "Total failed ledger operations segmented by module, operation and error kind.",
			}, []string{"module", "op", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jobledger",
				Subsystem: "ops",
				Name:      "duration_seconds",
				Help:      "Latency distribution for ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "jobledger",
				Subsystem: "custody",
				Name:      "balance",
				Help:      "Funds held by module vault accounts, in base units.",
			}, []string{"vault"}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "jobledger",
				Subsystem: "state",
				Name:      "sequence",
				Help:      "Number of committed state transactions.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.requests,
			marketRegistry.errors,
			marketRegistry.latency,
			marketRegistry.custody,
			marketRegistry.sequence,
		)
	})
	return marketRegistry
}

// Observe records the outcome of one operation.
func (m *MarketMetrics) Observe(module, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	module = label(module)
	op = label(op)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, op, common.Kind(err)).Inc()
	}
	m.requests.WithLabelValues(module, op, outcome).Inc()
	m.latency.WithLabelValues(module, op).Observe(duration.Seconds())
}

// RecordCustody sets the balance gauge for a module vault.
func (m *MarketMetrics) RecordCustody(vault string, balance *big.Int) {
	if m == nil {
		return
	}
	m.custody.WithLabelValues(label(vault)).Set(bigToFloat(balance))
}

// RecordSequence publishes the committed state sequence.
func (m *MarketMetrics) RecordSequence(seq uint64) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(seq))
}

func label(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
