package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the custody engine
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth        prometheus.Gauge
	TransfersTotal    *prometheus.CounterVec
	TransferDuration  prometheus.Histogram
	DepositsCredited  *prometheus.CounterVec
	RefundsTotal      prometheus.Counter
	RefundFailures    prometheus.Counter
	MonitoredWallets  prometheus.Gauge
}

// New creates the metric set on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "withdrawal_queue_depth",
			Help: "Number of withdrawal transactions waiting in the queue",
		}),
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transfers_total",
			Help: "Withdrawal transfer outcomes by chain and result",
		}, []string{"chain", "result"}),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "withdrawal_transfer_duration_seconds",
			Help:    "Wall-clock duration of chain transfer executions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		DepositsCredited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deposits_credited_total",
			Help: "Confirmed inbound deposits credited, by chain",
		}, []string{"chain"}),
		RefundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "withdrawal_refunds_total",
			Help: "Refunds issued for failed withdrawals",
		}),
		RefundFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "withdrawal_refund_failures_total",
			Help: "Refund attempts that themselves failed and require manual intervention",
		}),
		MonitoredWallets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deposit_monitored_wallets",
			Help: "Wallets currently under deposit watch",
		}),
	}
}

// Handler returns the HTTP handler exposing this metric set
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
