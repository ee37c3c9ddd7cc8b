package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"hft_bot/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Гейт с воркером живёт на реальных часах: мок-часы не будят
// горутины, спящие в clk.Sleep.
func newTestGate(limits models.ExchangeLimits) *Gate {
	clk := clock.New()
	return NewGate(clk, NewBanTracker(clk), Options{
		PollInterval: 5 * time.Millisecond,
		MaxRetries:   2,
		RetryBase:    time.Millisecond,
		RetryMax:     5 * time.Millisecond,
		Limits:       map[string]models.ExchangeLimits{"binance": limits},
	})
}

func okOp(result any) Operation {
	return func(_ context.Context) (any, *models.Response, error) {
		return result, &models.Response{Status: 200}, nil
	}
}

func TestExecuteCriticalBypassesQueue(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 1})

	res, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   8,
		Op:       okOp("done"),
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
}

func TestExecutePriorityOrdering(t *testing.T) {
	// медленный leak, чтобы очередь гарантированно копилась
	g := newTestGate(models.ExchangeLimits{BucketSize: 5, LeakPerSec: 10})

	// осушаем бакет
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   5,
		Op:       okOp(nil),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	record := func(name string) Operation {
		return func(_ context.Context) (any, *models.Response, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, &models.Response{Status: 200}, nil
		}
	}

	var wg sync.WaitGroup
	run := func(name string, prio models.Priority) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), Request{
				Exchange: "binance",
				Priority: prio,
				Weight:   5,
				Op:       record(name),
			})
		}()
	}

	run("low", models.PriorityLow)
	time.Sleep(20 * time.Millisecond) // low гарантированно в очереди раньше
	run("high", models.PriorityHigh)
	time.Sleep(20 * time.Millisecond)
	run("critical", models.PriorityCritical)
	wg.Wait()

	// воркер пересортировывает очередь перед каждой выдачей: critical
	// и high обгоняют low, хотя тот пришёл первым
	assert.Equal(t, []string{"critical", "high", "low"}, order)
}

func TestAdmitConsumesBudget(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 5, LeakPerSec: 0.1})

	assert.True(t, g.Admit("binance", 3))
	// осталось ~2 токена, на 3 уже не хватает
	assert.False(t, g.Admit("binance", 3))
	assert.True(t, g.Admit("binance", 2))
}

func TestAdmitRejectsDuringCooldown(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})
	g.bans.DetectBan("binance", 418, nil)

	assert.False(t, g.Admit("binance", 1))
}

func TestExecuteCooldownShortCircuit(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})
	g.bans.DetectBan("binance", 418, nil)

	called := false
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			called = true
			return nil, nil, nil
		},
	})
	require.Error(t, err)
	var cerr *CooldownError
	assert.ErrorAs(t, err, &cerr)
	assert.False(t, called, "op must not run during cooldown")
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})

	attempts := 0
	res, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			attempts++
			if attempts == 1 {
				return nil, &models.Response{Status: 503}, errors.New("service unavailable")
			}
			return "ok", &models.Response{Status: 200}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 2, attempts)
}

func TestExecuteExhaustsRetriesAndSurfacesLastError(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})

	attempts := 0
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			attempts++
			return nil, &models.Response{Status: 500}, errors.New("boom")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, attempts) // первая попытка + MaxRetries
}

func TestExecuteNonRetryableFailsFast(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})

	attempts := 0
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			attempts++
			return nil, &models.Response{Status: 400}, errors.New("bad symbol")
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteBanResponseStopsRetries(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10})

	attempts := 0
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			attempts++
			return nil, &models.Response{
				Status: 418,
				Body:   []byte(`{"code":-1003,"msg":"Too many requests."}`),
			}, errors.New("teapot")
		},
	})
	require.Error(t, err)
	var cerr *CooldownError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, attempts)
	assert.True(t, g.bans.InCooldown("binance"))
}

func TestExecuteHeaderFeedbackOverwritesEstimate(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 10, LeakPerSec: 10, WeightPerMin: 1200})

	h := http.Header{}
	h.Set("X-Mbx-Used-Weight-1m", "777")
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op: func(_ context.Context) (any, *models.Response, error) {
			return nil, &models.Response{Status: 200, Headers: h}, nil
		},
	})
	require.NoError(t, err)

	for _, s := range g.Snapshot() {
		if s.Exchange == "binance" {
			assert.Equal(t, 777, s.UsedWeight)
			return
		}
	}
	t.Fatal("binance snapshot missing")
}

func TestExecuteContextCancelWhileQueued(t *testing.T) {
	g := newTestGate(models.ExchangeLimits{BucketSize: 1, LeakPerSec: 0.1})

	// бакет пуст, заявка зависнет в очереди надолго
	_, err := g.Execute(context.Background(), Request{
		Exchange: "binance",
		Priority: models.PriorityCritical,
		Weight:   1,
		Op:       okOp(nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.Execute(ctx, Request{
		Exchange: "binance",
		Priority: models.PriorityLow,
		Weight:   1,
		Op:       okOp(nil),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
