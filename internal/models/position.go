package models

import "time"

const (
	PositionOpen    = "open"
	PositionClosing = "closing"
	PositionClosed  = "closed"
)

type Position struct {
	ID        string
	Exchange  string
	Symbol    string
	Side      string // "long"/"short"
	Entry     float64
	Qty       float64
	Leverage  int
	TargetPct float64 // целевой ROI в процентах
	TPOrderID string  // id живого TP-ордера на бирже, "" если нет
	Status    string
	OpenedAt  time.Time
	ClosedAt  time.Time
}

type Trade struct {
	ID        string
	Exchange  string
	Symbol    string
	Side      string
	Qty       float64
	Price     float64
	Fee       float64
	PnlUSD    float64 // реализованный, 0 для входа
	Kind      string  // "open"/"close"/"phantom_close"
	CreatedAt time.Time
}

// RemotePosition — позиция, как её видит биржа. Используется в reconcile.
type RemotePosition struct {
	Symbol string
	Side   string
	Qty    float64
	Entry  float64
	LastPx float64
}
