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

func testLimits() models.ExchangeLimits {
	return models.ExchangeLimits{
		BucketSize:   10,
		LeakPerSec:   2,
		WeightPerMin: 1200,
		ThrottlePct:  80,
	}
}

func TestBucketStartsFull(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	assert.True(t, b.admissible(10, false))
	assert.False(t, b.admissible(11, false))
}

func TestBucketContinuousReplenishment(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	b.consume(10, false)
	require.False(t, b.admissible(1, false))

	// 2 токена/сек: через 750мс должно накапать ровно 1.5
	mockClock.Add(750 * time.Millisecond)
	assert.True(t, b.admissible(1, false))
	assert.False(t, b.admissible(2, false))

	mockClock.Add(250 * time.Millisecond)
	assert.True(t, b.admissible(2, false))
}

func TestBucketClampsAtCapacity(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	// час простоя не даёт накопить больше размера бакета
	mockClock.Add(time.Hour)
	b.leak()
	assert.Equal(t, 10.0, b.tokens)
}

func TestBucketNeverNegative(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	b.consume(10, false)
	b.consume(10, false)
	assert.Equal(t, 0.0, b.tokens)
}

func TestBucketHeadroom(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	// до первого ответа API headroom не ограничивает
	assert.True(t, b.admissible(5, false))

	// биржа сообщила: использовано 1191 из 1200. Запас 9 < 2*5.
	b.applyUsage(Usage{UsedWeight: 1191, WeightLimit: 1200})
	assert.False(t, b.admissible(5, false))
	// а вес 4 проходит: 1200-1191=9 >= 8
	assert.True(t, b.admissible(4, false))
}

func TestBucketLocalEstimateBetweenResponses(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	b.applyUsage(Usage{UsedWeight: 100, WeightLimit: 1200})
	b.consume(5, false)
	assert.Equal(t, 105, b.usedWeight)

	// хедеры перезаписывают локальный счёт
	b.applyUsage(Usage{UsedWeight: 90, WeightLimit: 1200})
	assert.Equal(t, 90, b.usedWeight)
}

func TestBucketThrottled(t *testing.T) {
	mockClock := clock.NewMock()
	b := newBucket(mockClock, testLimits())

	assert.False(t, b.throttled(80))

	b.applyUsage(Usage{UsedWeight: 959, WeightLimit: 1200})
	assert.False(t, b.throttled(80))

	b.applyUsage(Usage{UsedWeight: 960, WeightLimit: 1200})
	assert.True(t, b.throttled(80))
}

func TestBucketPerSecondCeiling(t *testing.T) {
	mockClock := clock.NewMock()
	lim := testLimits()
	lim.MaxRequestsPerSec = 2
	b := newBucket(mockClock, lim)

	require.True(t, b.admissible(1, false))
	b.consume(1, false)
	require.True(t, b.admissible(1, false))
	b.consume(1, false)

	// токены в бакете ещё есть, но секундный потолок исчерпан
	assert.False(t, b.admissible(1, false))

	mockClock.Add(time.Second)
	assert.True(t, b.admissible(1, false))
}
