package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"hft_bot/internal/models"
	"hft_bot/internal/modules/config"
	ratesvc "hft_bot/internal/modules/ratelimit/service"

	"github.com/bytedance/sonic"
)

// BinanceClient — референсный REST-адаптер (futures-образные пути).
// Таймстемпы подписанных запросов идут через ClockSync: при дрейфе
// локальных часов биржа режет подпись.
type BinanceClient struct {
	name      string
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	clocks    *ratesvc.ClockSync
}

func NewBinance(name string, cfg config.ExchangeConfig, clocks *ratesvc.ClockSync) *BinanceClient {
	base := cfg.RestURL
	if base == "" {
		base = "https://fapi.binance.com"
	}
	return &BinanceClient{
		name:      name,
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(base, "/"),
		apiKey:    os.Getenv(cfg.APIKeyEnv),
		apiSecret: os.Getenv(cfg.SecretEnv),
		clocks:    clocks,
	}
}

func (c *BinanceClient) Name() string { return c.name }

func (c *BinanceClient) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// do выполняет запрос и всегда отдаёт Response целиком, даже на
// не-2xx: вызывающему слою нужны хедеры и тело.
func (c *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool) (*models.Response, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		ts := c.clocks.Now(c.name).UnixMilli()
		params.Set("timestamp", strconv.FormatInt(ts, 10))
		params.Set("recvWindow", "5000")
		params.Set("signature", c.sign(params.Encode()))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	out := &models.Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    rb,
	}
	if resp.StatusCode/100 != 2 {
		return out, fmt.Errorf("%s http %d: %s", c.name, resp.StatusCode, string(rb))
	}
	return out, nil
}

func (c *BinanceClient) ServerTime(ctx context.Context) (time.Time, *models.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return time.Time{}, resp, err
	}
	var data struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := sonic.Unmarshal(resp.Body, &data); err != nil {
		return time.Time{}, resp, err
	}
	return time.UnixMilli(data.ServerTime), resp, nil
}

func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, *models.Response, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return nil, resp, err
	}
	var data struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Time   int64  `json:"time"`
	}
	if err := sonic.Unmarshal(resp.Body, &data); err != nil {
		return nil, resp, err
	}
	px, _ := strconv.ParseFloat(data.Price, 64)
	return &Ticker{Symbol: data.Symbol, Last: px, At: time.UnixMilli(data.Time)}, resp, nil
}

func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, *models.Response, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(req.Side))
	if req.Price > 0 {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	} else {
		params.Set("type", "MARKET")
	}
	params.Set("quantity", strconv.FormatFloat(req.Qty, 'f', -1, 64))
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	resp, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, resp, err
	}
	var data struct {
		OrderID     int64  `json:"orderId"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		Status      string `json:"status"`
	}
	if err := sonic.Unmarshal(resp.Body, &data); err != nil {
		return nil, resp, err
	}
	avg, _ := strconv.ParseFloat(data.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(data.ExecutedQty, 64)
	return &OrderResult{
		OrderID:  strconv.FormatInt(data.OrderID, 10),
		AvgPrice: avg,
		Qty:      qty,
		Status:   data.Status,
	}, resp, nil
}

func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) (*models.Response, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
}

func (c *BinanceClient) OpenPositions(ctx context.Context) ([]models.RemotePosition, *models.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, resp, err
	}
	var data []struct {
		Symbol       string `json:"symbol"`
		PositionAmt  string `json:"positionAmt"`
		EntryPrice   string `json:"entryPrice"`
		MarkPrice    string `json:"markPrice"`
		PositionSide string `json:"positionSide"`
	}
	if err := sonic.Unmarshal(resp.Body, &data); err != nil {
		return nil, resp, err
	}

	out := make([]models.RemotePosition, 0, len(data))
	for _, d := range data {
		amt, _ := strconv.ParseFloat(d.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(d.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(d.MarkPrice, 64)
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		out = append(out, models.RemotePosition{
			Symbol: d.Symbol,
			Side:   side,
			Qty:    amt,
			Entry:  entry,
			LastPx: mark,
		})
	}
	return out, resp, nil
}

func (c *BinanceClient) Balance(ctx context.Context) (float64, *models.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return 0, resp, err
	}
	var data []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := sonic.Unmarshal(resp.Body, &data); err != nil {
		return 0, resp, err
	}
	for _, d := range data {
		if d.Asset == "USDT" {
			bal, _ := strconv.ParseFloat(d.AvailableBalance, 64)
			return bal, resp, nil
		}
	}
	return 0, resp, nil
}
