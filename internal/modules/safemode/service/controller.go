package service

import (
	"fmt"
	"sync"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
)

// Thresholds — гистерезис одной биржи. Exit строго ниже Enter,
// иначе состояние будет дребезжать на границе.
type Thresholds struct {
	Enter time.Duration
	Exit  time.Duration
}

type Options struct {
	Dwell           time.Duration // минимум в safe mode до первой проверки выхода
	TriggerCount    int           // подряд высоких для входа
	ExitCount       int           // подряд низких для выхода
	Staleness       time.Duration // валидность замера
	DisconnectGrace time.Duration // дольше без валидных замеров — биржа не держит выход
	Thresholds      map[string]Thresholds
}

type counters struct {
	high int
	low  int
}

// Counters — срез счётчиков для снапшота.
type Counters struct {
	High int `json:"high"`
	Low  int `json:"low"`
}

// Snapshot — read-only состояние контроллера.
type Snapshot struct {
	Active    bool                `json:"active"`
	Reason    string              `json:"reason,omitempty"`
	EnteredAt time.Time           `json:"enteredAt,omitempty"`
	Counters  map[string]Counters `json:"counters"`
}

// Controller — гистерезисный автомат NORMAL <-> SAFE_MODE.
// Пока активен, риск-гейт безусловно режет новые входы; открытые
// позиции продолжают мониториться на закрытие.
type Controller struct {
	clk  clock.Clock
	opts Options

	mu        sync.Mutex
	active    bool
	reason    string
	enteredAt time.Time
	counters  map[string]*counters
	lastValid map[string]time.Time
}

func NewController(clk clock.Clock, opts Options) *Controller {
	c := &Controller{
		clk:       clk,
		opts:      opts,
		counters:  make(map[string]*counters, len(opts.Thresholds)),
		lastValid: make(map[string]time.Time, len(opts.Thresholds)),
	}
	for name := range opts.Thresholds {
		c.counters[name] = &counters{}
	}
	return c
}

// Observe скармливает контроллеру последний замер биржи.
// Невалидный замер (мёртвое соединение или протухший) обнуляет оба
// счётчика: отсутствие данных — не хорошо и не плохо, фантомные
// переходы на дырах в данных запрещены.
func (c *Controller) Observe(hb models.Heartbeat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ct, tracked := c.counters[hb.Exchange]
	if !tracked {
		return
	}
	th := c.opts.Thresholds[hb.Exchange]

	valid := hb.Healthy && !hb.At.IsZero() && c.clk.Now().Sub(hb.At) <= c.opts.Staleness
	if !valid {
		ct.high, ct.low = 0, 0
		return
	}
	c.lastValid[hb.Exchange] = c.clk.Now()

	switch {
	case hb.RTT > th.Enter:
		ct.high++
		ct.low = 0
		if !c.active && ct.high >= c.opts.TriggerCount {
			c.enterLocked(fmt.Sprintf("%s: %d consecutive samples over %s (last %s)",
				hb.Exchange, ct.high, th.Enter, hb.RTT.Round(time.Millisecond)))
		}
	case hb.RTT < th.Exit:
		ct.low++
		ct.high = 0
	default:
		// между порогами: серия прервана в обе стороны
		ct.high, ct.low = 0, 0
	}
}

func (c *Controller) enterLocked(reason string) {
	c.active = true
	c.reason = reason
	c.enteredAt = c.clk.Now()
	logger.Warn("[SAFEMODE] entered: %s", reason)
}

// EvaluateExit проверяет условия выхода. До истечения dwell выход не
// рассматривается вовсе. Дальше выходим, только когда КАЖДАЯ живая
// биржа набрала свою серию низких; отключённые дольше grace-окна
// из проверки исключаются, иначе мёртвая биржа держала бы safe mode
// вечно. На выходе все счётчики обнуляются.
func (c *Controller) EvaluateExit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}
	now := c.clk.Now()
	if now.Sub(c.enteredAt) < c.opts.Dwell {
		return false
	}
	for name, ct := range c.counters {
		last, seen := c.lastValid[name]
		if !seen || now.Sub(last) > c.opts.DisconnectGrace {
			continue
		}
		if ct.low < c.opts.ExitCount {
			return false
		}
	}
	c.exitLocked("recovered")
	return true
}

// ForceExit — ручной выход: без dwell и без требования по всем биржам,
// но счётчики сбрасываются так же, как при обычном выходе.
func (c *Controller) ForceExit(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.exitLocked("forced: " + reason)
}

func (c *Controller) exitLocked(reason string) {
	c.active = false
	c.reason = ""
	c.enteredAt = time.Time{}
	for _, ct := range c.counters {
		ct.high, ct.low = 0, 0
	}
	logger.Info("[SAFEMODE] exited (%s)", reason)
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Active:    c.active,
		Reason:    c.reason,
		EnteredAt: c.enteredAt,
		Counters:  make(map[string]Counters, len(c.counters)),
	}
	for name, ct := range c.counters {
		snap.Counters[name] = Counters{High: ct.high, Low: ct.low}
	}
	return snap
}
