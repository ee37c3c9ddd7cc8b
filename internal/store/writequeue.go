package store

import (
	"context"
	"sync/atomic"
	"time"

	"hft_bot/pkg/db"
	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
)

// WriteFn — отложенная запись; выполнится внутри транзакции.
type WriteFn func(ctx context.Context, tx pgx.Tx) error

// WriteQueue — fire-and-forget запись в БД: ограниченный канал и
// дренаж фиксированными батчами по тику. Глубина и дропы видны
// снаружи — очередь не растёт молча.
type WriteQueue struct {
	tx       db.TxManager
	clk      clock.Clock
	ch       chan WriteFn
	batch    int
	interval time.Duration
	dropped  atomic.Int64
}

func NewWriteQueue(tx db.TxManager, clk clock.Clock, size, batch int, interval time.Duration) *WriteQueue {
	if size <= 0 {
		size = 1024
	}
	if batch <= 0 {
		batch = 32
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &WriteQueue{
		tx:       tx,
		clk:      clk,
		ch:       make(chan WriteFn, size),
		batch:    batch,
		interval: interval,
	}
}

// Enqueue кладёт запись без блокировки. Переполнение — дроп со
// счётчиком, не зависание горячего пути.
func (q *WriteQueue) Enqueue(fn WriteFn) bool {
	select {
	case q.ch <- fn:
		return true
	default:
		q.dropped.Add(1)
		logger.Warn("[WQ] queue full, write dropped (total dropped: %d)", q.dropped.Load())
		return false
	}
}

func (q *WriteQueue) Depth() int     { return len(q.ch) }
func (q *WriteQueue) Dropped() int64 { return q.dropped.Load() }

// Run — дренаж-воркер. Останавливается по ctx, добив остаток очереди.
func (q *WriteQueue) Run(ctx context.Context) {
	ticker := q.clk.Ticker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// добиваем всё, что накопилось: Drain режет по батчу,
			// одного вызова на остановке мало
			for q.Drain(context.Background()) > 0 {
			}
			return
		case <-ticker.C:
			q.Drain(ctx)
		}
	}
}

// Drain исполняет до batch записей за вызов; возвращает число
// выполненных.
func (q *WriteQueue) Drain(ctx context.Context) int {
	done := 0
	for done < q.batch {
		select {
		case fn := <-q.ch:
			if err := q.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
				return fn(ctx, tx)
			}); err != nil {
				logger.Error("[WQ] deferred write failed: %v", err)
			}
			done++
		default:
			return done
		}
	}
	return done
}
