package exchange

import (
	"context"
	"time"

	"hft_bot/internal/models"
)

type OrderRequest struct {
	Symbol     string
	Side       string // "buy"/"sell"
	Qty        float64
	Price      float64 // 0 — market
	ReduceOnly bool
}

type OrderResult struct {
	OrderID  string
	AvgPrice float64
	Qty      float64
	Status   string
}

type Ticker struct {
	Symbol string
	Last   float64
	At     time.Time
}

// Adapter — единая форма биржевого клиента. Каждый метод обязан
// вернуть сырой Response (статус/хедеры/тело): по нему rate-лимитер
// правит бакеты, а ban-трекер ловит сигналы бана. Response может быть
// непустым и при err != nil.
type Adapter interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, *models.Response, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*models.Response, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, *models.Response, error)
	OpenPositions(ctx context.Context) ([]models.RemotePosition, *models.Response, error)
	Balance(ctx context.Context) (float64, *models.Response, error)
	ServerTime(ctx context.Context) (time.Time, *models.Response, error)
}
