package service

import (
	"os"
	"testing"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func testController(mockClock *clock.Mock) *Controller {
	return NewController(mockClock, Options{
		Dwell:           5 * time.Minute,
		TriggerCount:    5,
		ExitCount:       5,
		Staleness:       30 * time.Second,
		DisconnectGrace: 10 * time.Minute,
		Thresholds: map[string]Thresholds{
			"binance": {Enter: 1200 * time.Millisecond, Exit: 600 * time.Millisecond},
			"bybit":   {Enter: 1500 * time.Millisecond, Exit: 700 * time.Millisecond},
		},
	})
}

func hb(mockClock *clock.Mock, exchange string, rtt time.Duration) models.Heartbeat {
	return models.Heartbeat{Exchange: exchange, RTT: rtt, At: mockClock.Now(), Healthy: true}
}

func feed(c *Controller, mockClock *clock.Mock, exchange string, rtt time.Duration, n int) {
	for i := 0; i < n; i++ {
		c.Observe(hb(mockClock, exchange, rtt))
	}
}

func TestEnterAfterConsecutiveHighSamples(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)
	assert.False(t, c.Active())

	c.Observe(hb(mockClock, "binance", 1500*time.Millisecond))
	assert.True(t, c.Active())
	assert.Contains(t, c.Reason(), "binance")
}

func TestSingleSpikeDoesNotTrigger(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)
	// один быстрый замер рвёт серию
	c.Observe(hb(mockClock, "binance", 100*time.Millisecond))
	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)
	assert.False(t, c.Active())
}

func TestGrayZoneResetsBothSeries(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)
	// между exit и enter: ни туда, ни сюда
	c.Observe(hb(mockClock, "binance", 900*time.Millisecond))

	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Counters["binance"].High)
	assert.Equal(t, 0, snap.Counters["binance"].Low)
}

func TestUntrackedExchangeIgnored(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "deribit", time.Hour, 100)
	assert.False(t, c.Active())
}

func TestStaleSampleResetsCounters(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)

	old := models.Heartbeat{
		Exchange: "binance",
		RTT:      1500 * time.Millisecond,
		At:       mockClock.Now().Add(-time.Minute),
		Healthy:  true,
	}
	c.Observe(old)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 4)
	assert.False(t, c.Active())
}

func TestDwellBlocksExit(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	require.True(t, c.Active())

	// обе биржи уже быстрые, но dwell не истёк
	feed(c, mockClock, "binance", 100*time.Millisecond, 5)
	feed(c, mockClock, "bybit", 100*time.Millisecond, 5)
	assert.False(t, c.EvaluateExit())
	assert.True(t, c.Active())

	mockClock.Add(5 * time.Minute)
	feed(c, mockClock, "binance", 100*time.Millisecond, 5)
	feed(c, mockClock, "bybit", 100*time.Millisecond, 5)
	assert.True(t, c.EvaluateExit())
	assert.False(t, c.Active())
}

func TestExitRequiresAllLiveExchanges(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	require.True(t, c.Active())
	mockClock.Add(5 * time.Minute)

	// binance восстановился, bybit всё ещё медленный
	feed(c, mockClock, "binance", 100*time.Millisecond, 5)
	feed(c, mockClock, "bybit", 2*time.Second, 5)
	assert.False(t, c.EvaluateExit())

	feed(c, mockClock, "bybit", 100*time.Millisecond, 5)
	assert.True(t, c.EvaluateExit())
}

func TestDisconnectedExchangeDoesNotBlockExit(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	require.True(t, c.Active())

	// bybit молчит дольше grace-окна; один binance решает
	mockClock.Add(11 * time.Minute)
	feed(c, mockClock, "binance", 100*time.Millisecond, 5)
	assert.True(t, c.EvaluateExit())
}

func TestExitResetsCountersNoFlap(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	require.True(t, c.Active())
	mockClock.Add(11 * time.Minute)
	feed(c, mockClock, "binance", 100*time.Millisecond, 5)
	require.True(t, c.EvaluateExit())

	snap := c.Snapshot()
	for name, ct := range snap.Counters {
		assert.Zero(t, ct.High, name)
		assert.Zero(t, ct.Low, name)
	}

	// сразу после выхода один высокий замер не возвращает safe mode
	c.Observe(hb(mockClock, "binance", 1500*time.Millisecond))
	assert.False(t, c.Active())
}

func TestForceExitSkipsDwell(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	require.True(t, c.Active())

	c.ForceExit("operator override")
	assert.False(t, c.Active())
	assert.Empty(t, c.Reason())
}

func TestObserveWhileActiveKeepsReason(t *testing.T) {
	mockClock := clock.NewMock()
	c := testController(mockClock)

	feed(c, mockClock, "binance", 1500*time.Millisecond, 5)
	reason := c.Reason()
	require.NotEmpty(t, reason)

	// дополнительные высокие замеры не перезатирают причину входа
	feed(c, mockClock, "binance", 2*time.Second, 3)
	assert.Equal(t, reason, c.Reason())
}
