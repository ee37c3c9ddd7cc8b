package exchange

import (
	"context"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 5 * time.Second
	writeTimeout = 5 * time.Second
)

type Reporter interface {
	Report(hb models.Heartbeat)
}

// Admitter учитывает вес вызовов, идущих мимо общей очереди.
type Admitter interface {
	Admit(exchange string, weight int) bool
}

// Prober меряет round-trip до биржи: ping/pong по WebSocket, при
// недоступном сокете — REST-замер вокруг тикера. Каждый замер уходит
// в safe-mode монитор.
type Prober struct {
	name        string
	wsURL       string
	probeSymbol string
	adapter     Adapter
	reporter    Reporter
	clk         clock.Clock
	interval    time.Duration

	admit      Admitter
	restWeight int
}

func NewProber(name, wsURL, probeSymbol string, a Adapter, r Reporter, clk clock.Clock, interval time.Duration) *Prober {
	return &Prober{
		name:        name,
		wsURL:       wsURL,
		probeSymbol: probeSymbol,
		adapter:     a,
		reporter:    r,
		clk:         clk,
		interval:    interval,
	}
}

// AccountWeight подключает учёт веса REST-замеров в бакете биржи.
func (p *Prober) AccountWeight(a Admitter, weight int) {
	p.admit = a
	p.restWeight = weight
}

// Run держит соединение и переподключается с экспоненциальным
// бэкоффом. Пока сокета нет, замеры идут по REST, чтобы монитор не
// остался без данных.
func (p *Prober) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.wsURL, nil)
		if err != nil {
			logger.Warn("[PROBE] %s: ws dial failed: %v", p.name, err)
			p.restProbe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		bo.Reset()
		p.pingLoop(ctx, conn)
		_ = conn.Close()
	}
}

func (p *Prober) pingLoop(ctx context.Context, conn *websocket.Conn) {
	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	// читатель нужен, чтобы качались контрольные фреймы
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := p.clk.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			logger.Warn("[PROBE] %s: ws read: %v", p.name, err)
			p.report(0, false)
			return
		case <-ticker.C:
			start := p.clk.Now()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				p.report(0, false)
				return
			}
			select {
			case <-pong:
				p.report(p.clk.Now().Sub(start), true)
			case <-p.clk.After(pongWait):
				p.report(0, false)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// restProbe — один замер по REST. Ходит мимо очереди Gate: монитору
// замер нужен и тогда, когда очередь стоит. Вес при этом списывается
// через Admit, чтобы локальная оценка бюджета не занижалась.
func (p *Prober) restProbe(ctx context.Context) {
	if p.admit != nil {
		p.admit.Admit(p.name, p.restWeight)
	}
	start := p.clk.Now()
	_, _, err := p.adapter.FetchTicker(ctx, p.probeSymbol)
	if err != nil {
		p.report(0, false)
		return
	}
	p.report(p.clk.Now().Sub(start), true)
}

func (p *Prober) report(rtt time.Duration, healthy bool) {
	p.reporter.Report(models.Heartbeat{
		Exchange: p.name,
		RTT:      rtt,
		At:       p.clk.Now(),
		Healthy:  healthy,
	})
}
