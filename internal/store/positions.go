package store

import (
	"context"
	"time"

	"hft_bot/internal/models"
	"hft_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Store — Postgres-хранилище позиций, сделок и дневной статистики.
// Ключевая операция — условный переход статуса: двойное закрытие
// деградирует до no-op даже без лока оркестратора.
type Store struct {
	tx db.TxManager
	wq *WriteQueue // nil — все записи синхронные
}

func NewStore(tx db.TxManager, wq *WriteQueue) *Store {
	return &Store{tx: tx, wq: wq}
}

func (s *Store) OpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.tx.Conn().Query(ctx, `
		SELECT id, exchange, symbol, side, entry, qty, leverage, target_pct,
		       COALESCE(tp_order_id, ''), status, opened_at
		FROM positions
		WHERE status = 'open'
		ORDER BY opened_at`)
	if err != nil {
		return nil, errors.Wrap(err, "query open positions")
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.ID, &p.Exchange, &p.Symbol, &p.Side, &p.Entry, &p.Qty,
			&p.Leverage, &p.TargetPct, &p.TPOrderID, &p.Status, &p.OpenedAt); err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePosition(ctx context.Context, p models.Position) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (id, exchange, symbol, side, entry, qty, leverage,
			                       target_pct, tp_order_id, status, opened_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11)`,
			p.ID, p.Exchange, p.Symbol, p.Side, p.Entry, p.Qty, p.Leverage,
			p.TargetPct, p.TPOrderID, p.Status, p.OpenedAt)
		return errors.Wrap(err, "insert position")
	})
}

// Transition атомарно переводит позицию from -> to. false — позиция
// уже не в статусе from (например, закрыта конкурентным тиком).
func (s *Store) Transition(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.tx.Conn().Exec(ctx, `
		UPDATE positions
		SET status = $3,
		    closed_at = CASE WHEN $3 = 'closed' THEN now() ELSE closed_at END
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, errors.Wrapf(err, "transition %s %s->%s", id, from, to)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertTrade(ctx context.Context, t models.Trade) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO trades (id, exchange, symbol, side, qty, price, fee, pnl_usd, kind, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			t.ID, t.Exchange, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.PnlUSD, t.Kind, t.CreatedAt)
		return errors.Wrap(err, "insert trade")
	})
}

// RecordTrade пишет сделку через write queue, если она есть: журнал
// сделок не должен тормозить торговый тик. При переполнении очереди
// откатываемся на синхронную запись, сделки терять нельзя.
func (s *Store) RecordTrade(ctx context.Context, t models.Trade) error {
	if s.wq != nil {
		if s.wq.Enqueue(func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO trades (id, exchange, symbol, side, qty, price, fee, pnl_usd, kind, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				t.ID, t.Exchange, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.PnlUSD, t.Kind, t.CreatedAt)
			return errors.Wrap(err, "insert trade")
		}) {
			return nil
		}
	}
	return s.InsertTrade(ctx, t)
}

// DailyRealizedLoss — реализованный убыток за календарный день (>= 0).
// Прибыльный день даёт 0.
func (s *Store) DailyRealizedLoss(ctx context.Context, day time.Time) (float64, error) {
	var net float64
	err := s.tx.Conn().QueryRow(ctx, `
		SELECT COALESCE(SUM(pnl_usd), 0)
		FROM trades
		WHERE kind IN ('close', 'phantom_close')
		  AND created_at >= date_trunc('day', $1::timestamptz)
		  AND created_at <  date_trunc('day', $1::timestamptz) + interval '1 day'`,
		day).Scan(&net)
	if err != nil {
		return 0, errors.Wrap(err, "daily pnl")
	}
	if net >= 0 {
		return 0, nil
	}
	return -net, nil
}
