package service

import (
	"context"
	"sync"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
)

type Notifier interface {
	Sendf(format string, args ...any)
}

// Monitor принимает хартбиты от проберов и раз в interval прогоняет
// последний замер каждой отслеживаемой биржи через контроллер.
// Замеры не накапливаются: хранится только последний плюс ring в stats.
type Monitor struct {
	clk      clock.Clock
	ctrl     *Controller
	stats    *LatencyStats
	notifier Notifier
	interval time.Duration
	tracked  []string

	mu     sync.Mutex
	latest map[string]models.Heartbeat
}

func NewMonitor(clk clock.Clock, ctrl *Controller, stats *LatencyStats, n Notifier, interval time.Duration) *Monitor {
	tracked := make([]string, 0, len(ctrl.opts.Thresholds))
	for name := range ctrl.opts.Thresholds {
		tracked = append(tracked, name)
	}
	return &Monitor{
		clk:      clk,
		ctrl:     ctrl,
		stats:    stats,
		notifier: n,
		interval: interval,
		tracked:  tracked,
		latest:   make(map[string]models.Heartbeat),
	}
}

// Report — входная точка для проберов и адаптеров. Каждый цикл замер
// вытесняет предыдущий.
func (m *Monitor) Report(hb models.Heartbeat) {
	m.mu.Lock()
	m.latest[hb.Exchange] = hb
	m.mu.Unlock()

	if hb.Healthy {
		m.stats.Record(hb.Exchange, hb.RTT)
	}
}

// Run — цикл мониторинга. Останавливается по ctx.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate()
		}
	}
}

func (m *Monitor) evaluate() {
	wasActive := m.ctrl.Active()

	for _, name := range m.tracked {
		m.mu.Lock()
		hb, ok := m.latest[name]
		m.mu.Unlock()
		if !ok {
			// ни одного замера — невалидный сэмпл, контроллер обнулит серии
			hb = models.Heartbeat{Exchange: name, Healthy: false}
		}
		m.ctrl.Observe(hb)
	}

	if m.ctrl.EvaluateExit() {
		logger.Info("[SAFEMODE] back to normal, p95: %s", m.p95Summary())
		if m.notifier != nil {
			m.notifier.Sendf("✅ Safe mode снят: латентность восстановилась")
		}
		return
	}

	if !wasActive && m.ctrl.Active() {
		if m.notifier != nil {
			m.notifier.Sendf("🛑 Safe mode: %s — новые входы остановлены", m.ctrl.Reason())
		}
	}
}

func (m *Monitor) p95Summary() string {
	out := ""
	for _, name := range m.tracked {
		if out != "" {
			out += " "
		}
		out += name + "=" + m.stats.Percentile(name, 95).Round(time.Millisecond).String()
	}
	return out
}
