package service

import (
	"os"
	"testing"

	"hft_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

type fakeSafeMode struct {
	active bool
	reason string
}

func (f fakeSafeMode) Active() bool   { return f.active }
func (f fakeSafeMode) Reason() string { return f.reason }

type fakeGate struct {
	admit     bool
	throttled bool
}

func (f fakeGate) CanAdmit(string, int) bool { return f.admit }
func (f fakeGate) Throttled(string) bool     { return f.throttled }

func testLimits() Limits {
	return Limits{
		MinOrderUSD:     10,
		MaxOrderUSD:     1000,
		FatFingerPct:    5,
		MaxPositions:    10,
		DailyLossCapUSD: 100,
	}
}

func okParams() Params {
	return Params{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		OrderSizeUSD: 100,
		EntryPrice:   50000,
		MarketPrice:  50000,
		BalanceUSD:   5000,
		OpenCount:    2,
		DailyLossUSD: 0,
	}
}

func newTestChecker(safe SafeMode, gate RateCapacity) *Checker {
	return NewChecker(testLimits(), safe, gate, nil)
}

func TestCheckAllows(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})
	res := c.Check(okParams())
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
}

func TestCheckSafeModeFirst(t *testing.T) {
	// safe mode перебивает все остальные отказы
	c := newTestChecker(fakeSafeMode{active: true, reason: "latency"}, fakeGate{})
	p := okParams()
	p.OrderSizeUSD = 1e9

	res := c.Check(p)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "safe mode")
}

func TestCheckOrderSizeBounds(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})

	p := okParams()
	p.OrderSizeUSD = 9.99
	assert.False(t, c.Check(p).Allowed)

	// ровно на границе — можно
	p.OrderSizeUSD = 10
	assert.True(t, c.Check(p).Allowed)

	p.OrderSizeUSD = 1000
	assert.True(t, c.Check(p).Allowed)

	// на цент выше максимума — нельзя
	p.OrderSizeUSD = 1000.01
	res := c.Check(p)
	require.False(t, res.Allowed)
	assert.NotEmpty(t, res.Suggestion)
}

func TestCheckFatFinger(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})

	p := okParams()
	p.EntryPrice = 53000 // +6% от рынка при лимите 5%
	res := c.Check(p)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "deviates")

	p.EntryPrice = 52000 // +4% — ок
	assert.True(t, c.Check(p).Allowed)
}

func TestCheckBalance(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})

	p := okParams()
	p.BalanceUSD = 99.99
	assert.False(t, c.Check(p).Allowed)
}

func TestCheckMaxPositions(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})

	p := okParams()
	p.OpenCount = 10
	res := c.Check(p)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "positions")
}

func TestCheckDailyLossCap(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: true})

	p := okParams()
	p.DailyLossUSD = 100
	assert.False(t, c.Check(p).Allowed)

	p.DailyLossUSD = 99.99
	assert.True(t, c.Check(p).Allowed)
}

func TestCheckRateCapacity(t *testing.T) {
	c := newTestChecker(fakeSafeMode{}, fakeGate{admit: false})
	res := c.Check(okParams())
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "rate capacity")

	c = newTestChecker(fakeSafeMode{}, fakeGate{admit: true, throttled: true})
	res = c.Check(okParams())
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "throttled")
}

func TestCheckNilGateSkipsCapacity(t *testing.T) {
	c := NewChecker(testLimits(), nil, nil, nil)
	assert.True(t, c.Check(okParams()).Allowed)
}

type panickingSafeMode struct{}

func (panickingSafeMode) Active() bool   { panic("nil map write") }
func (panickingSafeMode) Reason() string { return "" }

func TestCheckPanicFailsOpen(t *testing.T) {
	c := newTestChecker(panickingSafeMode{}, fakeGate{admit: true})

	res := c.Check(okParams())
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "failed open")
}
