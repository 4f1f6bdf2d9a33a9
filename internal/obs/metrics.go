package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pos"

// Metrics holds the Prometheus collectors of the stock core.
//
// Components accept a *Metrics and fall back to an unregistered instance when
// given nil, so tests never collide on the default registry.
type Metrics struct {
	// SalesTotal counts commit outcomes.
	// Labels: status (committed, rejected, rolled_back, inconsistent)
	SalesTotal *prometheus.CounterVec

	// SaleLinesTotal counts committed sale lines.
	SaleLinesTotal prometheus.Counter

	StockDecrementsTotal     prometheus.Counter
	StockOverdraftsTotal     prometheus.Counter
	StockUpdateFailuresTotal prometheus.Counter
	StockConflictsTotal      prometheus.Counter

	// AlertsActive is the number of active alerts per severity.
	AlertsActive       *prometheus.GaugeVec
	AlertsRaisedTotal  *prometheus.CounterVec
	AlertsClearedTotal prometheus.Counter
	AlertsSnoozedTotal prometheus.Counter
	// SnoozeOverridesTotal counts snoozes cleared because stock drifted.
	SnoozeOverridesTotal prometheus.Counter
	SnoozesPurgedTotal   prometheus.Counter

	// StoreCallSeconds measures data-store calls.
	// Labels: table, op, status (ok, error)
	StoreCallSeconds  *prometheus.HistogramVec
	StoreRetriesTotal *prometheus.CounterVec

	// TaskRunsTotal counts scheduled task runs.
	// Labels: task, status (ok, error, skipped)
	TaskRunsTotal *prometheus.CounterVec

	// FeedEventsTotal counts notification feed events by kind.
	FeedEventsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg gets
// a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		SalesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sales", Name: "commits_total",
			Help: "Sale commit outcomes by status",
		}, []string{"status"}),
		SaleLinesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sales", Name: "lines_total",
			Help: "Sale lines persisted",
		}),
		StockDecrementsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "stock", Name: "decrements_total",
			Help: "Successful stock decrements",
		}),
		StockOverdraftsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "stock", Name: "overdrafts_total",
			Help: "Decrements that requested more than the available stock and were clamped at zero",
		}),
		StockUpdateFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "stock", Name: "update_failures_total",
			Help: "Sale lines whose stock update failed after the sale was committed",
		}),
		StockConflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "stock", Name: "cas_conflicts_total",
			Help: "Compare-and-swap stock writes that lost a race",
		}),
		AlertsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "active",
			Help: "Active stock alerts by severity",
		}, []string{"severity"}),
		AlertsRaisedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "raised_total",
			Help: "Stock alerts raised by severity",
		}, []string{"severity"}),
		AlertsClearedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "cleared_total",
			Help: "Stock alerts cleared by recovery or product removal",
		}),
		AlertsSnoozedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "snoozed_total",
			Help: "Stock alerts dismissed into a snooze",
		}),
		SnoozeOverridesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "snooze_overrides_total",
			Help: "Snoozes cleared early because stock drifted",
		}),
		SnoozesPurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "alerts", Name: "snoozes_purged_total",
			Help: "Expired snoozes removed",
		}),
		StoreCallSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "store", Name: "call_duration_seconds",
			Help:    "Data-store call latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"table", "op", "status"}),
		StoreRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "store", Name: "retries_total",
			Help: "Retried data-store reads by table",
		}, []string{"table"}),
		TaskRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "scheduler", Name: "task_runs_total",
			Help: "Scheduled task runs by task and status",
		}, []string{"task", "status"}),
		FeedEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "notify", Name: "events_total",
			Help: "Notification feed events by kind",
		}, []string{"kind"}),
	}
}
