package safemode

import (
	"context"
	"time"

	"hft_bot/internal/modules/config"
	"hft_bot/internal/modules/safemode/service"
	"hft_bot/internal/notify"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("safemode",
		fx.Provide(
			service.NewLatencyStats,
			func(cfg *config.Config, clk clock.Clock) *service.Controller {
				th := make(map[string]service.Thresholds, len(cfg.SafeMode.Exchanges))
				for name, sm := range cfg.SafeMode.Exchanges {
					th[name] = service.Thresholds{
						Enter: time.Duration(sm.EnterMs) * time.Millisecond,
						Exit:  time.Duration(sm.ExitMs) * time.Millisecond,
					}
				}
				return service.NewController(clk, service.Options{
					Dwell:           cfg.SafeMode.DwellMin,
					TriggerCount:    cfg.SafeMode.TriggerCount,
					ExitCount:       cfg.SafeMode.ExitCount,
					Staleness:       cfg.SafeMode.Staleness,
					DisconnectGrace: cfg.SafeMode.DisconnectGrace,
					Thresholds:      th,
				})
			},
			func(cfg *config.Config, clk clock.Clock, ctrl *service.Controller, stats *service.LatencyStats, n notify.Notifier) *service.Monitor {
				return service.NewMonitor(clk, ctrl, stats, n, cfg.SafeMode.Interval)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, m *service.Monitor, ctx context.Context) {
			if !cfg.SafeMode.Enabled {
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go m.Run(ctx)
					return nil
				},
			})
		}),
	)
}
