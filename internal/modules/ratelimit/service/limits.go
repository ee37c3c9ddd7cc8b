package service

import "hft_bot/internal/models"

// Дефолтные лимиты по документации бирж. Конфиг может переопределить
// любую из них целиком (см. configs/limits.base.yaml).
var DefaultLimits = map[string]models.ExchangeLimits{
	"binance": {
		BucketSize:        50,
		LeakPerSec:        20,
		MaxRequestsPerSec: 20,
		MaxOrdersPerSec:   10,
		WeightPerMin:      2400,
		ThrottlePct:       80,
	},
	"bybit": {
		BucketSize:        40,
		LeakPerSec:        10,
		MaxRequestsPerSec: 10,
		MaxOrdersPerSec:   10,
		WeightPerMin:      600,
		ThrottlePct:       80,
	},
	"okx": {
		BucketSize:        30,
		LeakPerSec:        10,
		MaxRequestsPerSec: 10,
		MaxOrdersPerSec:   6,
		WeightPerMin:      0, // OKX не репортит минутный вес
		ThrottlePct:       0,
	},
	"kucoin": {
		BucketSize:        40,
		LeakPerSec:        13,
		MaxRequestsPerSec: 13,
		MaxOrdersPerSec:   7,
		WeightPerMin:      800,
		ThrottlePct:       80,
	},
}

// Вес запроса по типу. Один механизм закрывает и секундные, и
// минутные лимиты: дорогие вызовы жрут больше токенов.
var requestWeights = map[string]map[string]int{
	"binance": {
		"ticker":      1,
		"server_time": 1,
		"balance":     5,
		"positions":   5,
		"order":       1,
		"cancel":      1,
	},
	"bybit": {
		"ticker":      1,
		"server_time": 1,
		"balance":     3,
		"positions":   3,
		"order":       1,
		"cancel":      1,
	},
	"okx": {
		"ticker":      1,
		"server_time": 1,
		"balance":     2,
		"positions":   2,
		"order":       1,
		"cancel":      1,
	},
	"kucoin": {
		"ticker":      1,
		"server_time": 1,
		"balance":     3,
		"positions":   3,
		"order":       1,
		"cancel":      1,
	},
}

// Weight возвращает вес запроса kind на бирже exchange; неизвестное — 1.
func Weight(exchange, kind string) int {
	if m, ok := requestWeights[exchange]; ok {
		if w, ok := m[kind]; ok {
			return w
		}
	}
	return 1
}
