package store

import (
	"context"
	"os"
	"testing"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/db"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

// fakeTxManager исполняет колбэки без настоящей транзакции.
type fakeTxManager struct {
	runs int
	fail bool
}

func (f *fakeTxManager) RunMaster(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	f.runs++
	if f.fail {
		return errors.New("db down")
	}
	return fn(ctx, nil)
}

func (f *fakeTxManager) Conn() db.Transaction { return nil }

func TestWriteQueueEnqueueAndDrain(t *testing.T) {
	tx := &fakeTxManager{}
	q := NewWriteQueue(tx, clock.NewMock(), 8, 4, time.Second)

	executed := 0
	for i := 0; i < 3; i++ {
		ok := q.Enqueue(func(context.Context, pgx.Tx) error {
			executed++
			return nil
		})
		require.True(t, ok)
	}
	assert.Equal(t, 3, q.Depth())

	n := q.Drain(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, executed)
	assert.Equal(t, 0, q.Depth())
}

func TestWriteQueueBatchLimit(t *testing.T) {
	tx := &fakeTxManager{}
	q := NewWriteQueue(tx, clock.NewMock(), 16, 4, time.Second)

	for i := 0; i < 10; i++ {
		q.Enqueue(func(context.Context, pgx.Tx) error { return nil })
	}

	// дренаж режет по batch, не выгребает всё разом
	assert.Equal(t, 4, q.Drain(context.Background()))
	assert.Equal(t, 6, q.Depth())
	assert.Equal(t, 4, q.Drain(context.Background()))
	assert.Equal(t, 2, q.Drain(context.Background()))
	assert.Equal(t, 0, q.Drain(context.Background()))
}

func TestWriteQueueShutdownDrainsBeyondBatch(t *testing.T) {
	tx := &fakeTxManager{}
	q := NewWriteQueue(tx, clock.NewMock(), 64, 8, time.Second)

	executed := 0
	for i := 0; i < 40; i++ {
		require.True(t, q.Enqueue(func(context.Context, pgx.Tx) error {
			executed++
			return nil
		}))
	}

	// контекст уже отменён: Run уходит в ветку остановки сразу
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	// остановка добивает весь хвост, а не один батч
	assert.Equal(t, 40, executed)
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, int64(0), q.Dropped())
}

func TestWriteQueueDropsOnOverflow(t *testing.T) {
	tx := &fakeTxManager{}
	q := NewWriteQueue(tx, clock.NewMock(), 2, 4, time.Second)

	require.True(t, q.Enqueue(func(context.Context, pgx.Tx) error { return nil }))
	require.True(t, q.Enqueue(func(context.Context, pgx.Tx) error { return nil }))

	// канал полон: без блокировки, с учётом дропа
	assert.False(t, q.Enqueue(func(context.Context, pgx.Tx) error { return nil }))
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 2, q.Depth())
}

func TestWriteQueueFailedWriteDoesNotStopDrain(t *testing.T) {
	tx := &fakeTxManager{fail: true}
	q := NewWriteQueue(tx, clock.NewMock(), 8, 4, time.Second)

	q.Enqueue(func(context.Context, pgx.Tx) error { return nil })
	q.Enqueue(func(context.Context, pgx.Tx) error { return nil })

	// ошибки БД логируются, но дренаж идёт дальше
	assert.Equal(t, 2, q.Drain(context.Background()))
	assert.Equal(t, 2, tx.runs)
}

func TestRecordTradeFallsBackWhenQueueFull(t *testing.T) {
	// fail=true: до настоящего Exec дело не доходит, важен сам поход в БД
	tx := &fakeTxManager{fail: true}
	q := NewWriteQueue(tx, clock.NewMock(), 1, 4, time.Second)
	s := NewStore(tx, q)

	require.True(t, q.Enqueue(func(context.Context, pgx.Tx) error { return nil }))

	// очередь забита: запись уходит синхронно, а не теряется
	_ = s.RecordTrade(context.Background(), testTrade())
	assert.Equal(t, 1, tx.runs)
}

func TestRecordTradeDeferredWhenQueueHasRoom(t *testing.T) {
	tx := &fakeTxManager{}
	q := NewWriteQueue(tx, clock.NewMock(), 8, 4, time.Second)
	s := NewStore(tx, q)

	require.NoError(t, s.RecordTrade(context.Background(), testTrade()))
	assert.Equal(t, 0, tx.runs, "запись должна лечь в очередь, а не в БД")
	assert.Equal(t, 1, q.Depth())
}

func testTrade() models.Trade {
	return models.Trade{
		ID:        "t-1",
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Side:      "long",
		Qty:       0.01,
		Price:     50000,
		Kind:      "open",
		CreatedAt: time.Unix(0, 0),
	}
}
