package main

import (
	"context"
	"log"

	"hft_bot/internal/modules/config"
	"hft_bot/internal/modules/health"
	"hft_bot/internal/modules/postgres"
	"hft_bot/internal/modules/ratelimit"
	"hft_bot/internal/modules/risk"
	"hft_bot/internal/modules/safemode"
	"hft_bot/internal/notify"
	"hft_bot/internal/runner"
	"hft_bot/pkg/logger"
	"hft_bot/pkg/tracing"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			func() clock.Clock {
				return clock.New()
			},
			notify.New,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			_, closer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				closer()
				return nil
			}})
			return nil
		}),
		config.Module(),
		postgres.Module(),
		ratelimit.Module(),
		safemode.Module(),
		risk.Module(),
		health.Module(),
		runner.Module(),
	)
	app.Run()
}
