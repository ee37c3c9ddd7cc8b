package service

import (
	"context"
	"sync"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Options — настройки Gate. Limits мержатся поверх DefaultLimits.
type Options struct {
	PollInterval time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	RetryMax     time.Duration
	Limits       map[string]models.ExchangeLimits
}

// Request — один исходящий вызов через Gate.
type Request struct {
	Exchange string
	Priority models.Priority
	Weight   int
	Order    bool // считается в отдельный потолок ордеров/сек
	Op       Operation
}

type exchangeState struct {
	name       string
	limits     models.ExchangeLimits
	bucket     *bucket
	queue      []*queuedRequest
	processing bool // ровно один воркер на биржу
	seq        uint64
}

// Gate — rate-лимитер с приоритетной очередью на каждую биржу.
// Вся мутация состояния бакетов и очередей — только под g.mu; наружу
// отдаются снапшоты.
type Gate struct {
	clk  clock.Clock
	bans *BanTracker
	opts Options

	mu sync.Mutex
	ex map[string]*exchangeState
}

func NewGate(clk clock.Clock, bans *BanTracker, opts Options) *Gate {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 5 * time.Second
	}

	g := &Gate{
		clk:  clk,
		bans: bans,
		opts: opts,
		ex:   make(map[string]*exchangeState),
	}
	for name, lim := range DefaultLimits {
		g.ex[name] = &exchangeState{name: name, limits: lim, bucket: newBucket(clk, lim)}
	}
	for name, lim := range opts.Limits {
		g.ex[name] = &exchangeState{name: name, limits: lim, bucket: newBucket(clk, lim)}
	}
	return g
}

func (g *Gate) state(exchange string) *exchangeState {
	st, ok := g.ex[exchange]
	if !ok {
		lim := DefaultLimits["binance"]
		st = &exchangeState{name: exchange, limits: lim, bucket: newBucket(g.clk, lim)}
		g.ex[exchange] = st
	}
	return st
}

// CanAdmit — пройдёт ли запрос веса weight прямо сейчас. Не потребляет.
func (g *Gate) CanAdmit(exchange string, weight int) bool {
	if g.bans.InCooldown(exchange) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state(exchange).bucket.admissible(weight, false)
}

// Admit списывает weight из бакета в обход очереди, если бюджет есть.
// Для вызовов, которые идут мимо Execute: замеры, ws-подписки. Вес
// честно учитывается в локальной оценке.
func (g *Gate) Admit(exchange string, weight int) bool {
	if g.bans.InCooldown(exchange) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(exchange)
	if !st.bucket.admissible(weight, false) {
		return false
	}
	st.bucket.consume(weight, false)
	return true
}

// Throttled — биржа в кулдауне или used weight у порога лимита.
func (g *Gate) Throttled(exchange string) bool {
	if g.bans.InCooldown(exchange) {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(exchange)
	return st.bucket.throttled(st.limits.ThrottlePct)
}

// Execute проводит вызов через admission, очередь и ретраи.
// CRITICAL при свободном бакете идёт мимо очереди; остальное ждёт
// воркера. Возврат — ровно один: результат или последняя ошибка.
func (g *Gate) Execute(ctx context.Context, req Request) (any, error) {
	if err := g.bans.Err(req.Exchange); err != nil {
		return nil, err
	}

	g.mu.Lock()
	st := g.state(req.Exchange)

	if req.Priority == models.PriorityCritical && st.bucket.admissible(req.Weight, req.Order) {
		st.bucket.consume(req.Weight, req.Order)
		g.mu.Unlock()
		return g.run(ctx, req)
	}

	st.seq++
	qr := &queuedRequest{
		ctx:      ctx,
		priority: req.Priority,
		weight:   req.Weight,
		order:    req.Order,
		op:       req.Op,
		enqueued: g.clk.Now(),
		seq:      st.seq,
		done:     make(chan outcome, 1),
	}
	st.queue = append(st.queue, qr)
	if !st.processing {
		st.processing = true
		go g.worker(st)
	}
	g.mu.Unlock()

	select {
	case out := <-qr.done:
		return out.result, out.err
	case <-ctx.Done():
		// воркер увидит флаг и молча выкинет запрос из очереди
		qr.cancelled.Store(true)
		return nil, ctx.Err()
	}
}

// worker — единственный потребитель очереди биржи: пересортировка,
// peek головы, исполнение либо сон на poll-интервал. Без busy-spin.
func (g *Gate) worker(st *exchangeState) {
	for {
		g.mu.Lock()
		for len(st.queue) > 0 {
			sortQueue(st.queue)
			if st.queue[0].cancelled.Load() {
				st.queue = st.queue[1:]
				continue
			}
			break
		}
		if len(st.queue) == 0 {
			st.processing = false
			g.mu.Unlock()
			return
		}

		head := st.queue[0]
		admitted := !g.bans.InCooldown(st.name) && st.bucket.admissible(head.weight, head.order)
		if admitted {
			st.bucket.consume(head.weight, head.order)
			st.queue = st.queue[1:]
		}
		g.mu.Unlock()

		if !admitted {
			g.clk.Sleep(g.opts.PollInterval)
			continue
		}

		result, err := g.run(head.ctx, Request{
			Exchange: st.name,
			Priority: head.priority,
			Weight:   head.weight,
			Order:    head.order,
			Op:       head.op,
		})
		head.done <- outcome{result: result, err: err}
	}
}

// run исполняет вызов с экспоненциальным бэкоффом и джиттером.
// Ретраим 5xx/429/418 и сетевые сбои; остальное наружу сразу.
func (g *Gate) run(ctx context.Context, req Request) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.RetryBase
	bo.MaxInterval = g.opts.RetryMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.opts.MaxRetries)), ctx)

	var result any
	operation := func() error {
		res, resp, err := req.Op(ctx)
		if resp != nil {
			g.feedback(req.Exchange, resp)
			if g.bans.DetectBan(req.Exchange, resp.Status, resp.Body) {
				// биржа просит уйти — ретраи её только злят
				return backoff.Permanent(g.bans.Err(req.Exchange))
			}
		}
		if err != nil {
			if resp != nil && !retryableStatus(resp.Status) {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp != nil && retryableStatus(resp.Status) {
			return errors.Errorf("%s: http %d", req.Exchange, resp.Status)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		logger.Error("[GATE] %s %s: %v", req.Exchange, req.Priority, err)
		return nil, err
	}
	return result, nil
}

// feedback: репортнутый биржей вес перезаписывает локальную оценку.
func (g *Gate) feedback(exchange string, resp *models.Response) {
	u, ok := extractUsage(exchange, resp.Headers)
	if !ok {
		return
	}
	g.mu.Lock()
	g.state(exchange).bucket.applyUsage(u)
	g.mu.Unlock()
}

func retryableStatus(status int) bool {
	return status == 429 || status == 418 || status >= 500
}
