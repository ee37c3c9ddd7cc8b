package risk

import (
	"hft_bot/internal/modules/config"
	ratesvc "hft_bot/internal/modules/ratelimit/service"
	"hft_bot/internal/modules/risk/service"
	safesvc "hft_bot/internal/modules/safemode/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			func(cfg *config.Config, ctrl *safesvc.Controller, gate *ratesvc.Gate) *service.Checker {
				return service.NewChecker(
					service.Limits{
						MinOrderUSD:     cfg.Risk.MinOrderUSD,
						MaxOrderUSD:     cfg.Risk.MaxOrderUSD,
						FatFingerPct:    cfg.Risk.FatFingerPct,
						MaxPositions:    cfg.Risk.MaxPositions,
						DailyLossCapUSD: cfg.Risk.DailyLossCapUSD,
					},
					ctrl,
					gate,
					func(exchange string) int { return ratesvc.Weight(exchange, "order") },
				)
			},
		),
	)
}
