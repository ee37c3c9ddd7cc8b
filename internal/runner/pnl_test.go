package runner

import (
	"testing"

	"hft_bot/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNetPnlSubtractsBothFees(t *testing.T) {
	p := models.Position{Side: "long", Entry: 50000, Qty: 0.01, Leverage: 5}

	// gross = 200*0.01 = 2.00; комиссии 0.0004*(500+502) = 0.4008
	pnl := netPnlUSD(p, 50200)
	assert.InDelta(t, 1.5992, pnl, 1e-9)
}

func TestNetPnlShort(t *testing.T) {
	p := models.Position{Side: "short", Entry: 50000, Qty: 0.01, Leverage: 5}

	pnl := netPnlUSD(p, 49800)
	assert.InDelta(t, 2.0-0.0004*(500+498), pnl, 1e-9)

	// рост цены — убыток для шорта
	assert.Less(t, netPnlUSD(p, 50500), 0.0)
}

func TestNetPnlFlatPriceIsNegative(t *testing.T) {
	// выход по цене входа: комиссии превращают ноль в минус
	p := models.Position{Side: "long", Entry: 50000, Qty: 0.01}
	assert.Less(t, netPnlUSD(p, 50000), 0.0)
}

func TestNetROIUsesLeverage(t *testing.T) {
	p := models.Position{Side: "long", Entry: 50000, Qty: 0.01, Leverage: 5}

	roi := netROIPct(p, 50200)
	assert.InDelta(t, 1.5992*5/500*100, roi, 1e-9)

	// без плеча ROI в пять раз меньше
	p.Leverage = 1
	assert.InDelta(t, roi/5, netROIPct(p, 50200), 1e-9)
}

func TestNetROIZeroNotional(t *testing.T) {
	p := models.Position{Side: "long", Entry: 0, Qty: 0}
	assert.Equal(t, 0.0, netROIPct(p, 100))
}

func TestTargetExitPrice(t *testing.T) {
	long := models.Position{Side: "long", Entry: 50000, Leverage: 5, TargetPct: 1}
	assert.InDelta(t, 50100, targetExitPrice(long), 1e-9)

	short := models.Position{Side: "short", Entry: 50000, Leverage: 5, TargetPct: 1}
	assert.InDelta(t, 49900, targetExitPrice(short), 1e-9)

	// нулевое плечо трактуем как 1x
	noLev := models.Position{Side: "long", Entry: 100, TargetPct: 2}
	assert.InDelta(t, 102, targetExitPrice(noLev), 1e-9)
}
