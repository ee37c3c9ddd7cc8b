package health

import (
	ratesvc "hft_bot/internal/modules/ratelimit/service"
	safesvc "hft_bot/internal/modules/safemode/service"
	"hft_bot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector снимает метрики поллингом снапшотов сервисов в момент
// scrape. Никаких инструментов на горячем пути: всё, что нужно
// Prometheus, сервисы и так умеют отдать.
type Collector struct {
	gate  *ratesvc.Gate
	ctrl  *safesvc.Controller
	stats *safesvc.LatencyStats
	wq    *store.WriteQueue

	tokens     *prometheus.Desc
	usedWeight *prometheus.Desc
	queueDepth *prometheus.Desc
	cooldown   *prometheus.Desc
	safeMode   *prometheus.Desc
	rttP95     *prometheus.Desc
	wqDepth    *prometheus.Desc
	wqDropped  *prometheus.Desc
}

func NewCollector(gate *ratesvc.Gate, ctrl *safesvc.Controller, stats *safesvc.LatencyStats, wq *store.WriteQueue) *Collector {
	return &Collector{
		gate:  gate,
		ctrl:  ctrl,
		stats: stats,
		wq:    wq,
		tokens: prometheus.NewDesc("hftbot_rate_tokens",
			"Current leaky bucket tokens", []string{"exchange"}, nil),
		usedWeight: prometheus.NewDesc("hftbot_rate_used_weight",
			"Used request weight in the current window", []string{"exchange"}, nil),
		queueDepth: prometheus.NewDesc("hftbot_rate_queue_depth",
			"Pending requests in the priority queue", []string{"exchange", "priority"}, nil),
		cooldown: prometheus.NewDesc("hftbot_cooldown_remaining_seconds",
			"Remaining ban cooldown, 0 when live", []string{"exchange"}, nil),
		safeMode: prometheus.NewDesc("hftbot_safe_mode_active",
			"1 while safe mode blocks new entries", nil, nil),
		rttP95: prometheus.NewDesc("hftbot_probe_rtt_p95_seconds",
			"p95 round-trip to the exchange over the probe window", []string{"exchange"}, nil),
		wqDepth: prometheus.NewDesc("hftbot_write_queue_depth",
			"Deferred DB writes waiting to drain", nil, nil),
		wqDropped: prometheus.NewDesc("hftbot_write_queue_dropped_total",
			"Deferred DB writes dropped on overflow", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokens
	ch <- c.usedWeight
	ch <- c.queueDepth
	ch <- c.cooldown
	ch <- c.safeMode
	ch <- c.rttP95
	ch <- c.wqDepth
	ch <- c.wqDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.gate.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, s.Tokens, s.Exchange)
		ch <- prometheus.MustNewConstMetric(c.usedWeight, prometheus.GaugeValue, float64(s.UsedWeight), s.Exchange)
		for prio, depth := range s.QueueDepth {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth), s.Exchange, prio)
		}
		ch <- prometheus.MustNewConstMetric(c.cooldown, prometheus.GaugeValue, s.CooldownRemaining.Seconds(), s.Exchange)
		ch <- prometheus.MustNewConstMetric(c.rttP95, prometheus.GaugeValue,
			c.stats.Percentile(s.Exchange, 95).Seconds(), s.Exchange)
	}

	active := 0.0
	if c.ctrl.Active() {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(c.safeMode, prometheus.GaugeValue, active)

	ch <- prometheus.MustNewConstMetric(c.wqDepth, prometheus.GaugeValue, float64(c.wq.Depth()))
	ch <- prometheus.MustNewConstMetric(c.wqDropped, prometheus.CounterValue, float64(c.wq.Dropped()))
}
