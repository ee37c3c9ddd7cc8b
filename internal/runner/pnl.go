package runner

import "hft_bot/internal/models"

// Комиссия тейкера на фьючах, доля от нотионала. Вход и выход
// маркет-ордерами, так что комиссия снимается дважды.
const takerFeeRate = 0.0004

func tradingFee(price, qty float64) float64 {
	return price * qty * takerFeeRate
}

// netPnlUSD — реализованный PnL с вычетом комиссий входа и выхода.
// Грязный PnL без комиссий систематически завышает результат и может
// превратить убыточный скальп в "прибыльный".
func netPnlUSD(p models.Position, exitPx float64) float64 {
	gross := (exitPx - p.Entry) * p.Qty
	if p.Side == "short" {
		gross = -gross
	}
	return gross - tradingFee(p.Entry, p.Qty) - tradingFee(exitPx, p.Qty)
}

// netROIPct — ROI на маржу в процентах: чистый PnL с плечом к нотионалу.
func netROIPct(p models.Position, exitPx float64) float64 {
	notional := p.Entry * p.Qty
	if notional <= 0 {
		return 0
	}
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return netPnlUSD(p, exitPx) * float64(lev) / notional * 100
}
