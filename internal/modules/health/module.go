package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"hft_bot/internal/modules/config"
	"hft_bot/internal/modules/health/service"
	ratesvc "hft_bot/internal/modules/ratelimit/service"
	safesvc "hft_bot/internal/modules/safemode/service"
	"hft_bot/internal/store"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(
	state *service.State,
	gate *ratesvc.Gate,
	ctrl *safesvc.Controller,
	clocks *ratesvc.ClockSync,
	wq *store.WriteQueue,
	collector *Collector,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: конфиг загружен, БД доступна, цикл стартовал
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		// полный срез для отладки: лимитер, safe mode, часы, очередь записи
		offsets := map[string]int64{}
		for name, off := range clocks.Offsets() {
			offsets[name] = off.Milliseconds()
		}
		resp := map[string]any{
			"uptimeSec": int64(state.Uptime().Seconds()),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
			"rate":           gate.Snapshot(),
			"safeMode":       ctrl.Snapshot(),
			"clockOffsetsMs": offsets,
			"writeQueue": map[string]any{
				"depth":   wq.Depth(),
				"dropped": wq.Dropped(),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		body, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collector, collectors.NewGoCollector())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, state *service.State, mux *http.ServeMux) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewCollector,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
