package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"hft_bot/internal/models"
)

// Operation — отложенный вызов биржи. Сырой Response обязателен для
// фидбека хедеров и детекта бана, даже когда сам вызов упал.
type Operation func(ctx context.Context) (any, *models.Response, error)

type outcome struct {
	result any
	err    error
}

// queuedRequest живёт в очереди биржи до момента, когда воркер заберёт
// его и исполнит ровно один раз: либо result, либо err в done.
type queuedRequest struct {
	ctx      context.Context
	priority models.Priority
	weight   int
	order    bool
	op       Operation
	enqueued time.Time
	seq      uint64

	cancelled atomic.Bool
	done      chan outcome // cap 1, пишет только воркер
}

// sortQueue: CRITICAL < HIGH < LOW, внутри приоритета — порядок прихода.
func sortQueue(q []*queuedRequest) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].priority != q[j].priority {
			return q[i].priority < q[j].priority
		}
		return q[i].seq < q[j].seq
	})
}
