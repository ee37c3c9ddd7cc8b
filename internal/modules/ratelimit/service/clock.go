package service

import (
	"context"
	"sync"
	"time"

	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// resyncEvery — не дёргаем server-time чаще, чем раз в полчаса.
const resyncEvery = 30 * time.Minute

// ServerTimer — лёгкий вызов серверного времени. Реализуют адаптеры.
type ServerTimer interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

type offsetEntry struct {
	offset   time.Duration
	syncedAt time.Time
}

// ClockSync оценивает сдвиг локальных часов относительно биржи.
// Подписанные запросы обязаны брать таймстемп через Now(), иначе при
// дрейфе часов биржа режет подпись.
type ClockSync struct {
	clk clock.Clock

	mu      sync.Mutex
	offsets map[string]offsetEntry
}

func NewClockSync(clk clock.Clock) *ClockSync {
	return &ClockSync{
		clk:     clk,
		offsets: make(map[string]offsetEntry),
	}
}

// SyncServerTime меряет RTT вокруг server-time вызова и считает
// offset = serverTime - (localSend + rtt/2). Кэш свежий — отдаём его.
func (c *ClockSync) SyncServerTime(ctx context.Context, exchange string, st ServerTimer) (time.Duration, error) {
	c.mu.Lock()
	if e, ok := c.offsets[exchange]; ok && c.clk.Now().Sub(e.syncedAt) < resyncEvery {
		c.mu.Unlock()
		return e.offset, nil
	}
	c.mu.Unlock()

	send := c.clk.Now()
	serverTime, err := st.ServerTime(ctx)
	recv := c.clk.Now()
	if err != nil {
		return 0, errors.Wrapf(err, "server time %s", exchange)
	}

	latency := recv.Sub(send) / 2
	offset := serverTime.Sub(send.Add(latency))

	c.mu.Lock()
	c.offsets[exchange] = offsetEntry{offset: offset, syncedAt: recv}
	c.mu.Unlock()

	logger.Info("[CLOCK] %s: offset=%s rtt/2=%s", exchange, offset, latency)
	return offset, nil
}

// Now — локальное время, сдвинутое на известный offset биржи.
func (c *ClockSync) Now(exchange string) time.Time {
	return c.clk.Now().Add(c.Offset(exchange))
}

func (c *ClockSync) Offset(exchange string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.offsets[exchange]; ok {
		return e.offset
	}
	return 0
}

// Offsets — копия всех известных сдвигов, для дашборда.
func (c *ClockSync) Offsets() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Duration, len(c.offsets))
	for name, e := range c.offsets {
		out[name] = e.offset
	}
	return out
}
