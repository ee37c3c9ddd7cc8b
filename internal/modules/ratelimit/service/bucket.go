package service

import (
	"math"
	"time"

	"hft_bot/internal/models"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// bucket — leaky bucket одной биржи. Токены текут непрерывно:
// пополнение считается от фактически прошедшего времени при каждом
// обращении, а не по тику. tokens всегда в [0, size].
type bucket struct {
	clk clock.Clock

	size       float64
	leakPerSec float64
	tokens     float64
	lastLeak   time.Time

	// потолки "в секунду" — отдельные лимитеры, вес тут ни при чём
	reqLimiter *rate.Limiter
	ordLimiter *rate.Limiter

	// правда из хедеров API. -1 — ещё не видели ни одного ответа.
	usedWeight  int
	weightLimit int
}

func newBucket(clk clock.Clock, lim models.ExchangeLimits) *bucket {
	b := &bucket{
		clk:         clk,
		size:        lim.BucketSize,
		leakPerSec:  lim.LeakPerSec,
		tokens:      lim.BucketSize, // стартуем полным
		lastLeak:    clk.Now(),
		usedWeight:  -1,
		weightLimit: lim.WeightPerMin,
	}
	if lim.MaxRequestsPerSec > 0 {
		b.reqLimiter = rate.NewLimiter(rate.Limit(lim.MaxRequestsPerSec), int(math.Max(1, lim.MaxRequestsPerSec)))
	}
	if lim.MaxOrdersPerSec > 0 {
		b.ordLimiter = rate.NewLimiter(rate.Limit(lim.MaxOrdersPerSec), int(math.Max(1, lim.MaxOrdersPerSec)))
	}
	return b
}

// leak доначисляет токены за прошедшее время. Монотонно по elapsed.
func (b *bucket) leak() {
	now := b.clk.Now()
	elapsed := now.Sub(b.lastLeak).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.size, b.tokens+elapsed*b.leakPerSec)
	b.lastLeak = now
}

// admissible: хватает ли токенов, секундных слотов и headroom по
// репортнутому биржей весу. Ничего не потребляет.
func (b *bucket) admissible(weight int, order bool) bool {
	b.leak()
	if b.tokens < float64(weight) {
		return false
	}
	now := b.clk.Now()
	if b.reqLimiter != nil && b.reqLimiter.TokensAt(now) < 1 {
		return false
	}
	if order && b.ordLimiter != nil && b.ordLimiter.TokensAt(now) < 1 {
		return false
	}
	return b.headroomOK(weight)
}

// headroomOK: если биржа уже сообщала used weight, требуем запас
// минимум в 2 веса запроса — страховка от недоучёта на нашей стороне.
func (b *bucket) headroomOK(weight int) bool {
	if b.usedWeight < 0 || b.weightLimit <= 0 {
		return true
	}
	return b.weightLimit-b.usedWeight >= 2*weight
}

// consume списывает вес и секундные слоты. Вызывать только после
// положительного admissible под тем же локом.
func (b *bucket) consume(weight int, order bool) {
	b.leak()
	b.tokens -= float64(weight)
	if b.tokens < 0 {
		b.tokens = 0
	}
	now := b.clk.Now()
	if b.reqLimiter != nil {
		_ = b.reqLimiter.AllowN(now, 1)
	}
	if order && b.ordLimiter != nil {
		_ = b.ordLimiter.AllowN(now, 1)
	}
	if b.usedWeight >= 0 {
		// локальная оценка до следующего ответа; хедеры её перезапишут
		b.usedWeight += weight
	}
}

// applyUsage — правда из хедеров всегда побеждает локальную оценку.
func (b *bucket) applyUsage(u Usage) {
	if u.UsedWeight >= 0 {
		b.usedWeight = u.UsedWeight
	}
	if u.WeightLimit > 0 {
		b.weightLimit = u.WeightLimit
	}
}

// throttled — used weight подошёл к минутному лимиту ближе порога.
func (b *bucket) throttled(throttlePct float64) bool {
	if b.usedWeight < 0 || b.weightLimit <= 0 || throttlePct <= 0 {
		return false
	}
	return float64(b.usedWeight) >= float64(b.weightLimit)*throttlePct/100.0
}
