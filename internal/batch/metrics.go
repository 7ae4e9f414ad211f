package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики пакетного процессора
// ============================================================

// ============ Счётчики ============

// AccountsProcessed - обработанные счета по исходу
var AccountsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "accounts_processed_total",
		Help:      "Total number of processed accounts by outcome",
	},
	[]string{"status"}, // succeeded, retried, failed, excluded
)

// AccountRetries - повторные попытки обработки счёта
var AccountRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "account_retries_total",
		Help:      "Total number of account retries by error class",
	},
	[]string{"error_class"},
)

// ViolationsRecorded - новые нарушения по типу правила
var ViolationsRecorded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "violations_recorded_total",
		Help:      "Total number of newly recorded violations by rule type",
	},
	[]string{"rule_type"},
)

// BreakerTrips - срабатывания circuit breaker
var BreakerTrips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "breaker_trips_total",
		Help:      "Total number of circuit breaker trips",
	},
)

// RunsFinished - завершённые прогоны по статусу
var RunsFinished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "runs_finished_total",
		Help:      "Total number of finished batch runs by status",
	},
	[]string{"status"}, // completed, aborted
)

// ============ Латентность ============

// AccountLatency - время обработки счёта, включая retry
var AccountLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "account_latency_ms",
		Help:      "Time to process one account including retries in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
)

// ============ Состояние ============

// BreakerOpen - 1 если диспетчер приостановлен breaker'ом
var BreakerOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "breaker_open",
		Help:      "1 if the circuit breaker is open or half-open",
	},
)

// InFlightAccounts - счета в обработке воркерами
var InFlightAccounts = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "in_flight_accounts",
		Help:      "Current number of accounts being processed by workers",
	},
)

// RunProgress - доля обработанных счетов текущего прогона
var RunProgress = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskengine",
		Subsystem: "batch",
		Name:      "run_progress_ratio",
		Help:      "Share of processed accounts in the current run",
	},
)
