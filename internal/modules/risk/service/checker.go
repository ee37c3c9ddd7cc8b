package service

import (
	"fmt"
	"math"

	"hft_bot/pkg/logger"
)

// Params — всё, что нужно для проверки. Только in-memory: никакого I/O
// внутри Check, он стоит на горячем пути прямо перед ордером.
type Params struct {
	Exchange     string
	Symbol       string
	OrderSizeUSD float64
	EntryPrice   float64
	MarketPrice  float64 // последняя известная рыночная цена
	BalanceUSD   float64
	OpenCount    int
	DailyLossUSD float64 // реализованный убыток за день, >= 0
}

// Result — структурный исход, а не ошибка: отказ риска — ожидаемое
// событие с человекочитаемой причиной.
type Result struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type Limits struct {
	MinOrderUSD     float64
	MaxOrderUSD     float64
	FatFingerPct    float64
	MaxPositions    int
	DailyLossCapUSD float64
}

type SafeMode interface {
	Active() bool
	Reason() string
}

type RateCapacity interface {
	CanAdmit(exchange string, weight int) bool
	Throttled(exchange string) bool
}

type Checker struct {
	limits      Limits
	safe        SafeMode
	gate        RateCapacity
	orderWeight func(exchange string) int
}

func NewChecker(limits Limits, safe SafeMode, gate RateCapacity, orderWeight func(string) int) *Checker {
	if orderWeight == nil {
		orderWeight = func(string) int { return 1 }
	}
	return &Checker{limits: limits, safe: safe, gate: gate, orderWeight: orderWeight}
}

func reject(reason, suggestion string) Result {
	return Result{Allowed: false, Reason: reason, Suggestion: suggestion}
}

// Check гоняет чеклист в фиксированном порядке и обрывается на первом
// отказе. Паника внутри проверки — fail open: лучше рискнуть одной
// сделкой, чем молча заморозить бота из-за бага в самом чекере.
// Это осознанная асимметрия, все остальные пути fail closed.
func (c *Checker) Check(p Params) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[RISK] check panicked, FAILING OPEN: %v (params=%+v)", r, p)
			res = Result{Allowed: true, Reason: "internal risk-check fault, failed open"}
		}
	}()

	if c.safe != nil && c.safe.Active() {
		return reject(
			"safe mode active: "+c.safe.Reason(),
			"wait for latency to recover or force-exit safe mode",
		)
	}

	// на границе — можно, за границей — нет
	if p.OrderSizeUSD < c.limits.MinOrderUSD {
		return reject(
			fmt.Sprintf("order size %.2f below minimum %.2f", p.OrderSizeUSD, c.limits.MinOrderUSD),
			fmt.Sprintf("increase order size to at least %.2f USD", c.limits.MinOrderUSD),
		)
	}
	if p.OrderSizeUSD > c.limits.MaxOrderUSD {
		return reject(
			fmt.Sprintf("order size %.2f above maximum %.2f", p.OrderSizeUSD, c.limits.MaxOrderUSD),
			fmt.Sprintf("cap order size at %.2f USD", c.limits.MaxOrderUSD),
		)
	}

	// fat finger: entry слишком далеко от последней рыночной цены
	if c.limits.FatFingerPct > 0 && p.MarketPrice > 0 && p.EntryPrice > 0 {
		devPct := math.Abs(p.EntryPrice-p.MarketPrice) / p.MarketPrice * 100
		if devPct > c.limits.FatFingerPct {
			return reject(
				fmt.Sprintf("entry price %.4f deviates %.2f%% from market %.4f (limit %.2f%%)",
					p.EntryPrice, devPct, p.MarketPrice, c.limits.FatFingerPct),
				"check the entry price for typos",
			)
		}
	}

	if p.OrderSizeUSD > p.BalanceUSD {
		return reject(
			fmt.Sprintf("order size %.2f exceeds available balance %.2f", p.OrderSizeUSD, p.BalanceUSD),
			"reduce order size or top up the account",
		)
	}

	if c.limits.MaxPositions > 0 && p.OpenCount >= c.limits.MaxPositions {
		return reject(
			fmt.Sprintf("open positions %d at limit %d", p.OpenCount, c.limits.MaxPositions),
			"close an existing position first",
		)
	}

	if c.limits.DailyLossCapUSD > 0 && p.DailyLossUSD >= c.limits.DailyLossCapUSD {
		return reject(
			fmt.Sprintf("daily loss %.2f at cap %.2f", p.DailyLossUSD, c.limits.DailyLossCapUSD),
			"trading stops until the next day",
		)
	}

	if c.gate != nil {
		if !c.gate.CanAdmit(p.Exchange, c.orderWeight(p.Exchange)) {
			return reject(
				fmt.Sprintf("%s: rate capacity too low for an order", p.Exchange),
				"retry on the next tick",
			)
		}
		if c.gate.Throttled(p.Exchange) {
			return reject(
				fmt.Sprintf("%s: currently throttled", p.Exchange),
				"retry after the throttle window",
			)
		}
	}

	return Result{Allowed: true}
}
