package runner

import (
	"context"
	"fmt"
	"time"

	"hft_bot/internal/exchange"
	"hft_bot/internal/models"
	ratesvc "hft_bot/internal/modules/ratelimit/service"
	risksvc "hft_bot/internal/modules/risk/service"
	"hft_bot/pkg/logger"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
)

// Positions — всё, что оркестратору нужно от хранилища.
type Positions interface {
	OpenPositions(ctx context.Context) ([]models.Position, error)
	CreatePosition(ctx context.Context, p models.Position) error
	Transition(ctx context.Context, id, from, to string) (bool, error)
	RecordTrade(ctx context.Context, t models.Trade) error
	DailyRealizedLoss(ctx context.Context, day time.Time) (float64, error)
	AcquireLoopLock(ctx context.Context, owner string, timeout time.Duration) (bool, error)
	ReleaseLoopLock(ctx context.Context, owner string) error
}

type RequestGate interface {
	Execute(ctx context.Context, req ratesvc.Request) (any, error)
}

type RiskChecker interface {
	Check(p risksvc.Params) risksvc.Result
}

type Ranker interface {
	Rank(ctx context.Context, exchanges []string, mode string) ([]models.Signal, error)
}

// PriceSink получает каждую наблюдённую цену. Скорер подписан сюда же:
// тикеры, которые цикл и так тянет для мониторинга, кормят сигналы.
type PriceSink interface {
	OnPrice(exchange, symbol string, price float64)
}

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// TickMark — отметка успешного тика для readiness/дашборда.
type TickMark interface {
	TouchTick(t time.Time)
}

type Options struct {
	Interval       time.Duration
	LockTimeout    time.Duration
	Aggressiveness string // conservative / balanced / aggressive
	TargetPct      float64
	Leverage       int
	OrderSizeUSD   float64

	// DailyLossCapUSD > 0 глушит новые входы на остаток дня, когда
	// реализованный убыток дошёл до кэпа. 0 — без кэпа.
	DailyLossCapUSD float64
}

// пороги входа по агрессивности: минимальный score и confidence сигнала
var entryThresholds = map[string]struct {
	score float64
	conf  float64
}{
	"conservative": {70, 0.7},
	"balanced":     {55, 0.55},
	"aggressive":   {40, 0.4},
}

// Orchestrator — торговый цикл: один тик = reconcile, мониторинг
// открытых позиций, новые входы. Тики строго single-flight через
// pg-лок, поэтому инстансов бота может быть сколько угодно.
type Orchestrator struct {
	store    Positions
	gate     RequestGate
	risk     RiskChecker
	scorer   Ranker
	prices   PriceSink
	notifier Notifier
	adapters map[string]exchange.Adapter
	opts     Options
	owner    string
	ticks    TickMark // nil ок
}

func (o *Orchestrator) WatchTicks(m TickMark) { o.ticks = m }

func NewOrchestrator(
	store Positions,
	gate RequestGate,
	risk RiskChecker,
	scorer Ranker,
	prices PriceSink,
	notifier Notifier,
	adapters map[string]exchange.Adapter,
	opts Options,
) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Minute
	}
	if _, ok := entryThresholds[opts.Aggressiveness]; !ok {
		opts.Aggressiveness = "balanced"
	}
	return &Orchestrator{
		store:    store,
		gate:     gate,
		risk:     risk,
		scorer:   scorer,
		prices:   prices,
		notifier: notifier,
		adapters: adapters,
		opts:     opts,
		owner:    uuid.NewString(),
	}
}

// Tick — один проход цикла. Возвращает nil и при пропуске тика:
// занятый лок — штатная ситуация, а не сбой.
func (o *Orchestrator) Tick(ctx context.Context) error {
	ok, err := o.store.AcquireLoopLock(ctx, o.owner, o.opts.LockTimeout)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("[LOOP] tick skipped, lock held by another instance")
		return nil
	}
	defer func() {
		if err := o.store.ReleaseLoopLock(context.Background(), o.owner); err != nil {
			logger.Error("[LOOP] release lock: %v", err)
		}
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "trading_loop.tick")
	defer span.Finish()

	positions, err := o.store.OpenPositions(ctx)
	if err != nil {
		return err
	}

	positions = o.reconcile(ctx, positions)
	o.monitorPositions(ctx, positions)
	o.openNew(ctx, positions)

	if o.ticks != nil {
		o.ticks.TouchTick(time.Now())
	}
	return nil
}

// Run гоняет Tick по таймеру до отмены контекста.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Tick(ctx); err != nil {
				logger.Error("[LOOP] tick: %v", err)
			}
		}
	}
}

// reconcile сверяет позиции в БД с биржей и закрывает фантомы:
// позиция открыта у нас, но биржа её уже не видит (TP исполнился
// между тиками). Ошибка запроса к бирже — пропуск всей биржи, на сбое
// сети позиции не хоронят.
func (o *Orchestrator) reconcile(ctx context.Context, positions []models.Position) []models.Position {
	byExchange := make(map[string][]models.Position)
	for _, p := range positions {
		byExchange[p.Exchange] = append(byExchange[p.Exchange], p)
	}

	alive := positions[:0]
	for ex, local := range byExchange {
		ad, ok := o.adapters[ex]
		if !ok {
			alive = append(alive, local...)
			continue
		}

		res, err := o.gate.Execute(ctx, ratesvc.Request{
			Exchange: ex,
			Priority: models.PriorityHigh,
			Weight:   ratesvc.Weight(ex, "positions"),
			Op: func(ctx context.Context) (any, *models.Response, error) {
				list, resp, err := ad.OpenPositions(ctx)
				return list, resp, err
			},
		})
		if err != nil {
			logger.Error("[LOOP] %s: reconcile fetch failed, skipping exchange: %v", ex, err)
			alive = append(alive, local...)
			continue
		}
		remote, _ := res.([]models.RemotePosition)
		held := make(map[string]bool, len(remote))
		for _, rp := range remote {
			held[rp.Symbol] = true
		}

		for _, p := range local {
			if held[p.Symbol] {
				alive = append(alive, p)
				continue
			}
			o.closePhantom(ctx, p)
		}
	}
	return alive
}

// closePhantom помечает позицию закрытой биржей. Цены исполнения у нас
// нет, считаем выход по цене TP: фантом почти всегда — исполнившийся
// тейк-профит.
func (o *Orchestrator) closePhantom(ctx context.Context, p models.Position) {
	ok, err := o.store.Transition(ctx, p.ID, models.PositionOpen, models.PositionClosed)
	if err != nil {
		logger.Error("[LOOP] %s %s: phantom close: %v", p.Exchange, p.Symbol, err)
		return
	}
	if !ok {
		return
	}

	exitPx := targetExitPrice(p)
	pnl := netPnlUSD(p, exitPx)
	o.recordClose(ctx, p, exitPx, pnl, "phantom_close")
	logger.Info("[LOOP] %s %s: closed on exchange side, est. pnl %.2f USD", p.Exchange, p.Symbol, pnl)
	o.notifier.Sendf("✅ %s %s closed by exchange (TP fill), est. PnL %.2f USD", p.Exchange, p.Symbol, pnl)
}

// targetExitPrice — цена, при которой чистый ROI позиции равен цели.
func targetExitPrice(p models.Position) float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	move := p.TargetPct / 100 / float64(lev)
	if p.Side == "short" {
		move = -move
	}
	return p.Entry * (1 + move)
}

// monitorPositions тянет тикеры и закрывает позиции, дошедшие до цели
// без живого TP-ордера на бирже.
func (o *Orchestrator) monitorPositions(ctx context.Context, positions []models.Position) {
	for _, p := range positions {
		ad, ok := o.adapters[p.Exchange]
		if !ok {
			continue
		}

		res, err := o.gate.Execute(ctx, ratesvc.Request{
			Exchange: p.Exchange,
			Priority: models.PriorityLow,
			Weight:   ratesvc.Weight(p.Exchange, "ticker"),
			Op: func(ctx context.Context) (any, *models.Response, error) {
				t, resp, err := ad.FetchTicker(ctx, p.Symbol)
				return t, resp, err
			},
		})
		if err != nil {
			logger.Error("[LOOP] %s %s: ticker: %v", p.Exchange, p.Symbol, err)
			continue
		}
		tk, ok := res.(*exchange.Ticker)
		if !ok || tk == nil || tk.Last <= 0 {
			continue
		}
		if o.prices != nil {
			o.prices.OnPrice(p.Exchange, p.Symbol, tk.Last)
		}

		roi := netROIPct(p, tk.Last)
		if roi < p.TargetPct {
			continue
		}
		if p.TPOrderID != "" {
			// цель достигнута, но TP ещё жив — биржа закроет сама
			continue
		}
		if _, err := o.closePosition(ctx, p, tk.Last, false); err != nil {
			logger.Error("[LOOP] %s %s: close: %v", p.Exchange, p.Symbol, err)
		}
	}
}

// closeOutcome — чем кончилась попытка закрытия: каждый исход
// различим, no-op по уже закрытой позиции не путается с откатом.
type closeOutcome int

const (
	closeDone          closeOutcome = iota // ордер прошёл, позиция closed
	closeAlreadyClosed                     // конкурентный путь закрыл раньше, no-op
	closeKeptOpen                          // откат: по exitPx вышел бы убыток
)

// closePosition закрывает позицию маркетом. Статусная машина
// open -> closing -> closed делает закрытие идемпотентным: второй тик
// не пройдёт первый переход и уйдёт с closeAlreadyClosed. force=false
// дополнительно требует прибыльности по цене exitPx, иначе переход
// откатывается в open.
func (o *Orchestrator) closePosition(ctx context.Context, p models.Position, exitPx float64, force bool) (closeOutcome, error) {
	ok, err := o.store.Transition(ctx, p.ID, models.PositionOpen, models.PositionClosing)
	if err != nil {
		return closeAlreadyClosed, err
	}
	if !ok {
		// уже closing/closed конкурентным путём
		return closeAlreadyClosed, nil
	}

	restore := func() {
		if _, rerr := o.store.Transition(ctx, p.ID, models.PositionClosing, models.PositionOpen); rerr != nil {
			logger.Error("[LOOP] %s %s: restore after failed close: %v", p.Exchange, p.Symbol, rerr)
		}
	}

	if !force && netPnlUSD(p, exitPx) <= 0 {
		restore()
		logger.Info("[LOOP] %s %s: close at %.4f would realize a loss, keeping open", p.Exchange, p.Symbol, exitPx)
		return closeKeptOpen, nil
	}

	ad, ok := o.adapters[p.Exchange]
	if !ok {
		restore()
		return closeKeptOpen, fmt.Errorf("%s: no adapter", p.Exchange)
	}

	side := "sell"
	if p.Side == "short" {
		side = "buy"
	}
	res, err := o.gate.Execute(ctx, ratesvc.Request{
		Exchange: p.Exchange,
		Priority: models.PriorityCritical,
		Weight:   ratesvc.Weight(p.Exchange, "order"),
		Order:    true,
		Op: func(ctx context.Context) (any, *models.Response, error) {
			r, resp, err := ad.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol:     p.Symbol,
				Side:       side,
				Qty:        p.Qty,
				ReduceOnly: true,
			})
			return r, resp, err
		},
	})
	if err != nil {
		restore()
		return closeKeptOpen, err
	}
	if or, ok := res.(*exchange.OrderResult); ok && or != nil && or.AvgPrice > 0 {
		exitPx = or.AvgPrice
	}

	if _, err := o.store.Transition(ctx, p.ID, models.PositionClosing, models.PositionClosed); err != nil {
		return closeDone, err
	}

	pnl := netPnlUSD(p, exitPx)
	o.recordClose(ctx, p, exitPx, pnl, "close")
	logger.Info("[LOOP] %s %s: closed at %.4f, pnl %.2f USD (roi %.2f%%)",
		p.Exchange, p.Symbol, exitPx, pnl, netROIPct(p, exitPx))
	o.notifier.Sendf("✅ %s %s closed at %.4f, PnL %.2f USD", p.Exchange, p.Symbol, exitPx, pnl)
	return closeDone, nil
}

func (o *Orchestrator) recordClose(ctx context.Context, p models.Position, exitPx, pnl float64, kind string) {
	if err := o.store.RecordTrade(ctx, models.Trade{
		ID:        uuid.NewString(),
		Exchange:  p.Exchange,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Qty:       p.Qty,
		Price:     exitPx,
		Fee:       tradingFee(p.Entry, p.Qty) + tradingFee(exitPx, p.Qty),
		PnlUSD:    pnl,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Error("[LOOP] record %s trade: %v", kind, err)
	}
}

// openNew ранжирует сигналы и открывает позиции через риск-гейт.
// Не больше одного входа на биржу за тик: тик короткий, спешить некуда.
func (o *Orchestrator) openNew(ctx context.Context, positions []models.Position) {
	loss, err := o.store.DailyRealizedLoss(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("[LOOP] daily loss: %v", err)
		return
	}
	if o.opts.DailyLossCapUSD > 0 && loss >= o.opts.DailyLossCapUSD {
		// кэп выбран: ни ранжирования, ни походов за балансами
		logger.Warn("[LOOP] daily loss %.2f USD at cap %.2f, no new entries today", loss, o.opts.DailyLossCapUSD)
		return
	}

	exchanges := make([]string, 0, len(o.adapters))
	for name := range o.adapters {
		exchanges = append(exchanges, name)
	}
	signals, err := o.scorer.Rank(ctx, exchanges, o.opts.Aggressiveness)
	if err != nil {
		logger.Error("[LOOP] rank signals: %v", err)
		return
	}

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Exchange+":"+p.Symbol] = true
	}

	th := entryThresholds[o.opts.Aggressiveness]
	opened := make(map[string]bool)
	for _, sig := range signals {
		if sig.Score < th.score {
			break // список отсортирован по score, дальше только слабее
		}
		if sig.Confidence < th.conf {
			// confidence со score не коррелирует: ниже могут быть годные
			continue
		}
		if held[sig.Exchange+":"+sig.Symbol] || opened[sig.Exchange] {
			continue
		}
		if o.openPosition(ctx, sig, len(positions)+len(opened), loss) {
			opened[sig.Exchange] = true
		}
	}
}

func (o *Orchestrator) openPosition(ctx context.Context, sig models.Signal, openCount int, dailyLoss float64) bool {
	ad, ok := o.adapters[sig.Exchange]
	if !ok {
		return false
	}

	balance, err := o.fetchBalance(ctx, ad, sig.Exchange)
	if err != nil {
		logger.Error("[LOOP] %s: balance: %v", sig.Exchange, err)
		return false
	}

	verdict := o.risk.Check(risksvc.Params{
		Exchange:     sig.Exchange,
		Symbol:       sig.Symbol,
		OrderSizeUSD: o.opts.OrderSizeUSD,
		EntryPrice:   sig.TargetPx,
		MarketPrice:  sig.TargetPx,
		BalanceUSD:   balance,
		OpenCount:    openCount,
		DailyLossUSD: dailyLoss,
	})
	if !verdict.Allowed {
		logger.Info("[LOOP] %s %s: entry rejected: %s (%s)", sig.Exchange, sig.Symbol, verdict.Reason, verdict.Suggestion)
		return false
	}

	side := "buy"
	if sig.Side == "short" {
		side = "sell"
	}
	qty := o.opts.OrderSizeUSD / sig.TargetPx

	res, err := o.gate.Execute(ctx, ratesvc.Request{
		Exchange: sig.Exchange,
		Priority: models.PriorityHigh,
		Weight:   ratesvc.Weight(sig.Exchange, "order"),
		Order:    true,
		Op: func(ctx context.Context) (any, *models.Response, error) {
			r, resp, err := ad.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol: sig.Symbol,
				Side:   side,
				Qty:    qty,
			})
			return r, resp, err
		},
	})
	if err != nil {
		logger.Error("[LOOP] %s %s: entry order: %v", sig.Exchange, sig.Symbol, err)
		return false
	}
	or, _ := res.(*exchange.OrderResult)
	entry := sig.TargetPx
	if or != nil && or.AvgPrice > 0 {
		entry = or.AvgPrice
	}
	if or != nil && or.Qty > 0 {
		qty = or.Qty
	}

	p := models.Position{
		ID:        uuid.NewString(),
		Exchange:  sig.Exchange,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Entry:     entry,
		Qty:       qty,
		Leverage:  o.opts.Leverage,
		TargetPct: o.opts.TargetPct,
		Status:    models.PositionOpen,
		OpenedAt:  time.Now().UTC(),
	}
	p.TPOrderID = o.placeTakeProfit(ctx, ad, p)

	if err := o.store.CreatePosition(ctx, p); err != nil {
		logger.Error("[LOOP] %s %s: persist position: %v", sig.Exchange, sig.Symbol, err)
		return false
	}
	if err := o.store.RecordTrade(ctx, models.Trade{
		ID:        uuid.NewString(),
		Exchange:  p.Exchange,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Qty:       p.Qty,
		Price:     p.Entry,
		Fee:       tradingFee(p.Entry, p.Qty),
		Kind:      "open",
		CreatedAt: p.OpenedAt,
	}); err != nil {
		logger.Error("[LOOP] record open trade: %v", err)
	}

	logger.Info("[LOOP] %s %s: opened %s %.6f @ %.4f (score %.0f, conf %.2f)",
		p.Exchange, p.Symbol, p.Side, p.Qty, p.Entry, sig.Score, sig.Confidence)
	o.notifier.Sendf("📈 %s %s: %s %.6f @ %.4f, target %.2f%%", p.Exchange, p.Symbol, p.Side, p.Qty, p.Entry, p.TargetPct)
	return true
}

// placeTakeProfit ставит reduce-only лимитку на целевой цене. Неудача
// не фатальна: цикл закроет позицию сам, когда ROI дойдёт до цели.
func (o *Orchestrator) placeTakeProfit(ctx context.Context, ad exchange.Adapter, p models.Position) string {
	side := "sell"
	if p.Side == "short" {
		side = "buy"
	}
	res, err := o.gate.Execute(ctx, ratesvc.Request{
		Exchange: p.Exchange,
		Priority: models.PriorityHigh,
		Weight:   ratesvc.Weight(p.Exchange, "order"),
		Order:    true,
		Op: func(ctx context.Context) (any, *models.Response, error) {
			r, resp, err := ad.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol:     p.Symbol,
				Side:       side,
				Qty:        p.Qty,
				Price:      targetExitPrice(p),
				ReduceOnly: true,
			})
			return r, resp, err
		},
	})
	if err != nil {
		logger.Error("[LOOP] %s %s: take profit order: %v", p.Exchange, p.Symbol, err)
		return ""
	}
	if or, ok := res.(*exchange.OrderResult); ok && or != nil {
		return or.OrderID
	}
	return ""
}

func (o *Orchestrator) fetchBalance(ctx context.Context, ad exchange.Adapter, ex string) (float64, error) {
	res, err := o.gate.Execute(ctx, ratesvc.Request{
		Exchange: ex,
		Priority: models.PriorityLow,
		Weight:   ratesvc.Weight(ex, "balance"),
		Op: func(ctx context.Context) (any, *models.Response, error) {
			b, resp, err := ad.Balance(ctx)
			return b, resp, err
		},
	})
	if err != nil {
		return 0, err
	}
	b, _ := res.(float64)
	return b, nil
}
