package signal

import (
	"context"
	"math"
	"sort"
	"sync"

	"hft_bot/internal/models"
)

// Scorer — внешний источник сигналов. Для ядра это чёрный ящик,
// возможно медленный; важен только ранжированный список кандидатов.
type Scorer interface {
	Rank(ctx context.Context, exchanges []string, mode string) ([]models.Signal, error)
}

type pricePoint struct {
	prev float64
	last float64
	runs int // длина серии движений в одну сторону
}

// Momentum — детерминированная заглушка скорера: знак и величина
// последнего движения цены. Оркестратор кормит его наблюдёнными
// тикерами через OnPrice.
type Momentum struct {
	mu     sync.Mutex
	points map[string]*pricePoint // exchange:symbol
}

func NewMomentum() *Momentum {
	return &Momentum{points: make(map[string]*pricePoint)}
}

func key(exchange, symbol string) string { return exchange + ":" + symbol }

func (m *Momentum) OnPrice(exchange, symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pt, ok := m.points[key(exchange, symbol)]
	if !ok {
		m.points[key(exchange, symbol)] = &pricePoint{last: price}
		return
	}
	sameDir := (price >= pt.last) == (pt.last >= pt.prev)
	if sameDir && pt.prev != 0 {
		pt.runs++
	} else {
		pt.runs = 1
	}
	pt.prev, pt.last = pt.last, price
}

func (m *Momentum) Rank(_ context.Context, exchanges []string, _ string) ([]models.Signal, error) {
	allowed := make(map[string]bool, len(exchanges))
	for _, ex := range exchanges {
		allowed[ex] = true
	}

	m.mu.Lock()
	out := make([]models.Signal, 0, len(m.points))
	for k, pt := range m.points {
		if pt.prev <= 0 || pt.last <= 0 {
			continue
		}
		i := 0
		for i < len(k) && k[i] != ':' {
			i++
		}
		ex, sym := k[:i], k[i+1:]
		if !allowed[ex] {
			continue
		}

		movePct := (pt.last - pt.prev) / pt.prev * 100
		side := "long"
		if movePct < 0 {
			side = "short"
		}
		score := math.Min(100, math.Abs(movePct)*200)
		conf := math.Min(1, float64(pt.runs)/5.0)
		out = append(out, models.Signal{
			Exchange:   ex,
			Symbol:     sym,
			Side:       side,
			Score:      score,
			Confidence: conf,
			TargetPx:   pt.last,
			TradeType:  "scalp",
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
