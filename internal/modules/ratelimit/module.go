package ratelimit

import (
	"hft_bot/internal/models"
	"hft_bot/internal/modules/config"
	"hft_bot/internal/modules/ratelimit/service"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("ratelimit",
		fx.Provide(
			service.NewBanTracker,
			service.NewClockSync,
			func(cfg *config.Config, clk clock.Clock, bans *service.BanTracker) *service.Gate {
				limits := make(map[string]models.ExchangeLimits, len(cfg.Exchanges))
				for name, ex := range cfg.Exchanges {
					limits[name] = ex.Limits
				}
				return service.NewGate(clk, bans, service.Options{
					PollInterval: cfg.RateGate.PollInterval,
					MaxRetries:   cfg.RateGate.MaxRetries,
					RetryBase:    cfg.RateGate.RetryBase,
					RetryMax:     cfg.RateGate.RetryMax,
					Limits:       limits,
				})
			},
		),
	)
}
