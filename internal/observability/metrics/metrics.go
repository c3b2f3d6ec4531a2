package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics captures wallet and billing sweep health signals.
type BillingMetrics struct {
	transactions    *prometheus.CounterVec
	transactionSum  *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobErrors       *prometheus.CounterVec
	jobTimeouts     *prometheus.CounterVec
	vmsBilled       prometheus.Counter
	chargeFailures  prometheus.Counter
	rolloverCredits prometheus.Counter
	alerts          *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_wallet_transactions_total",
		Help: "Wallet ledger transactions by type.",
	}, []string{"type"})
	transactionSum := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_wallet_transaction_cents_total",
		Help: "Absolute cents moved through the wallet ledger by type.",
	}, []string{"type"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walletd_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_scheduler_job_errors_total",
		Help: "Scheduler job failures by name.",
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_scheduler_job_timeouts_total",
		Help: "Scheduler jobs that hit their deadline.",
	}, []string{"job"})
	vmsBilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "walletd_hourly_vms_billed_total",
		Help: "VM hours successfully debited by the hourly cycle.",
	})
	chargeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "walletd_hourly_charge_failures_total",
		Help: "Per-VM hourly charges that failed.",
	})
	rolloverCredits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "walletd_reconciliation_credits_total",
		Help: "Month-end rollover credits applied to wallets.",
	})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_balance_alerts_total",
		Help: "Balance health alerts by type.",
	}, []string{"type"})

	for _, c := range []prometheus.Collector{
		transactions, transactionSum, jobRuns, jobDuration, jobErrors,
		jobTimeouts, vmsBilled, chargeFailures, rolloverCredits, alerts,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &BillingMetrics{
		transactions:    transactions,
		transactionSum:  transactionSum,
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobErrors:       jobErrors,
		jobTimeouts:     jobTimeouts,
		vmsBilled:       vmsBilled,
		chargeFailures:  chargeFailures,
		rolloverCredits: rolloverCredits,
		alerts:          alerts,
	}
}

func (m *BillingMetrics) RecordTransaction(txType string, amountCents int64) {
	if m == nil {
		return
	}
	if amountCents < 0 {
		amountCents = -amountCents
	}
	m.transactions.WithLabelValues(txType).Inc()
	m.transactionSum.WithLabelValues(txType).Add(float64(amountCents))
}

func (m *BillingMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *BillingMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) IncVMBilled() {
	if m == nil {
		return
	}
	m.vmsBilled.Inc()
}

func (m *BillingMetrics) IncChargeFailure() {
	if m == nil {
		return
	}
	m.chargeFailures.Inc()
}

func (m *BillingMetrics) IncRolloverCredit() {
	if m == nil {
		return
	}
	m.rolloverCredits.Inc()
}

func (m *BillingMetrics) IncAlert(alertType string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType).Inc()
}
