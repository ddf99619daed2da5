package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposed at /metrics by the monitor command:
//
//	propdesk_monitor_ticks_total{result}      ok|failed|skipped_breaker|skipped_busy
//	propdesk_monitor_positions                positions watched on the last tick
//	propdesk_monitor_triggers_total{reason}   TP_HIT|SL_HIT
//	propdesk_monitor_closes_total{result}     closed|raced|failed
//	propdesk_monitor_fetch_failures_total
//	propdesk_monitor_breaker_open             1 while the breaker is open
//	propdesk_monitor_tick_seconds
//	propdesk_snapshots_total{result}
//	propdesk_rollover_unlocked_total
type Metrics struct {
	Ticks         *prometheus.CounterVec
	Positions     prometheus.Gauge
	Triggers      *prometheus.CounterVec
	Closes        *prometheus.CounterVec
	FetchFailures prometheus.Counter
	BreakerOpen   prometheus.Gauge
	TickSeconds   prometheus.Histogram
	Snapshots     *prometheus.CounterVec
	Unlocked      prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propdesk_monitor_ticks_total",
				Help: "Position monitor ticks by result",
			},
			[]string{"result"},
		),
		Positions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "propdesk_monitor_positions",
				Help: "Open positions with a stop-loss or take-profit seen on the last tick",
			},
		),
		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propdesk_monitor_triggers_total",
				Help: "Stop-loss and take-profit triggers",
			},
			[]string{"reason"},
		),
		Closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propdesk_monitor_closes_total",
				Help: "Close commands issued by the monitor by result",
			},
			[]string{"result"},
		),
		FetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "propdesk_monitor_fetch_failures_total",
				Help: "Failed or timed out price fetches",
			},
		),
		BreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "propdesk_monitor_breaker_open",
				Help: "1 while the price fetch circuit breaker is open",
			},
		),
		TickSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "propdesk_monitor_tick_seconds",
				Help:    "Duration of monitor ticks that ran",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		Snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propdesk_snapshots_total",
				Help: "Account revaluations by result",
			},
			[]string{"result"},
		),
		Unlocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "propdesk_rollover_unlocked_total",
				Help: "Daily-locked accounts returned to ACTIVE at day rollover",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.Ticks, m.Positions, m.Triggers, m.Closes, m.FetchFailures,
			m.BreakerOpen, m.TickSeconds, m.Snapshots, m.Unlocked,
		)
	}
	return m
}
