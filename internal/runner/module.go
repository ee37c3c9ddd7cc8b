package runner

import (
	"context"
	"time"

	"hft_bot/internal/exchange"
	"hft_bot/internal/modules/config"
	healthsvc "hft_bot/internal/modules/health/service"
	ratesvc "hft_bot/internal/modules/ratelimit/service"
	risksvc "hft_bot/internal/modules/risk/service"
	safesvc "hft_bot/internal/modules/safemode/service"
	"hft_bot/internal/notify"
	"hft_bot/internal/signal"
	"hft_bot/internal/store"
	"hft_bot/pkg/db"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

// serverTimer сводит адаптер к узкому интерфейсу clock-sync: сырой
// Response синхронизатору часов не нужен.
type serverTimer struct{ ad exchange.Adapter }

func (s serverTimer) ServerTime(ctx context.Context) (time.Time, error) {
	t, _, err := s.ad.ServerTime(ctx)
	return t, err
}

func buildAdapters(cfg *config.Config, clocks *ratesvc.ClockSync) map[string]exchange.Adapter {
	out := make(map[string]exchange.Adapter, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		switch name {
		case "binance":
			out[name] = exchange.NewBinance(name, ex, clocks)
		default:
			// TODO(bybit): портировать клиент с binance-адаптера, когда появятся ключи
			logger.Warn("[BOOT] %s: no adapter implementation, exchange skipped", name)
		}
	}
	return out
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			signal.NewMomentum,
			buildAdapters,
			func(cfg *config.Config, tx db.TxManager, clk clock.Clock) *store.WriteQueue {
				return store.NewWriteQueue(tx, clk, cfg.WriteQueue.Size, cfg.WriteQueue.Batch, cfg.WriteQueue.Interval)
			},
			store.NewStore,
			func(
				cfg *config.Config,
				st *store.Store,
				gate *ratesvc.Gate,
				checker *risksvc.Checker,
				scorer *signal.Momentum,
				n notify.Notifier,
				adapters map[string]exchange.Adapter,
				state *healthsvc.State,
			) *Orchestrator {
				o := NewOrchestrator(st, gate, checker, scorer, scorer, n, adapters, Options{
					Interval:        cfg.Loop.Interval,
					LockTimeout:     cfg.Loop.LockTimeout,
					Aggressiveness:  cfg.Loop.Aggressiveness,
					TargetPct:       cfg.Loop.TargetPct,
					Leverage:        cfg.Loop.Leverage,
					OrderSizeUSD:    cfg.Loop.OrderSizeUSD,
					DailyLossCapUSD: cfg.Risk.DailyLossCapUSD,
				})
				o.WatchTicks(state)
				return o
			},
		),
		fx.Invoke(
			// write queue живёт независимо от торгового цикла
			func(lc fx.Lifecycle, wq *store.WriteQueue, ctx context.Context) {
				lc.Append(fx.Hook{OnStart: func(_ context.Context) error {
					go wq.Run(ctx)
					return nil
				}})
			},
			// latency-пробы и периодический resync часов по каждой бирже
			func(lc fx.Lifecycle, cfg *config.Config, clk clock.Clock, clocks *ratesvc.ClockSync, gate *ratesvc.Gate,
				adapters map[string]exchange.Adapter, m *safesvc.Monitor, ctx context.Context) {
				lc.Append(fx.Hook{OnStart: func(_ context.Context) error {
					for name, ad := range adapters {
						ex := cfg.Exchanges[name]
						probeSymbol := "BTCUSDT"
						if len(ex.Symbols) > 0 {
							probeSymbol = ex.Symbols[0]
						}
						if ex.WsURL != "" {
							p := exchange.NewProber(name, ex.WsURL, probeSymbol, ad, m, clk, cfg.SafeMode.Interval)
							p.AccountWeight(gate, ratesvc.Weight(name, "ticker"))
							go p.Run(ctx)
						}
						go resyncClock(ctx, clk, clocks, name, ad)
					}
					return nil
				}})
			},
			func(lc fx.Lifecycle, cfg *config.Config, o *Orchestrator, ctx context.Context) {
				if !cfg.Loop.Enabled {
					logger.Info("[BOOT] trading loop disabled")
					return
				}
				lc.Append(fx.Hook{OnStart: func(_ context.Context) error {
					go o.Run(ctx)
					return nil
				}})
			},
		),
	)
}

func resyncClock(ctx context.Context, clk clock.Clock, clocks *ratesvc.ClockSync, name string, ad exchange.Adapter) {
	sync := func() {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := clocks.SyncServerTime(sctx, name, serverTimer{ad}); err != nil {
			logger.Warn("[CLOCK] %s: resync failed: %v", name, err)
		}
	}

	sync()
	ticker := clk.Ticker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
