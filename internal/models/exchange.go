package models

import (
	"net/http"
	"time"
)

// Priority определяет порядок обслуживания запросов в очереди rate-лимитера.
// Меньшее значение — раньше из очереди.
type Priority int

const (
	PriorityCritical Priority = iota // закрытие позиций, отмена ордеров
	PriorityHigh                     // открытие позиций
	PriorityLow                      // тикеры, балансы, фоновые опросы
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ExchangeLimits — статические лимиты биржи из документации.
type ExchangeLimits struct {
	BucketSize        float64 `yaml:"bucket_size"`          // burst в единицах веса
	LeakPerSec        float64 `yaml:"leak_per_sec"`         // восстановление токенов, вес/сек
	MaxRequestsPerSec float64 `yaml:"max_requests_per_sec"` // потолок запросов в секунду
	MaxOrdersPerSec   float64 `yaml:"max_orders_per_sec"`   // отдельный потолок для ордеров
	WeightPerMin      int     `yaml:"weight_per_min"`       // минутный лимит веса (из хедеров)
	ThrottlePct       float64 `yaml:"throttle_pct"`         // доля usedWeight, после которой тормозим новые входы
}

// Response — сырой ответ биржи. Статус, хедеры и тело нужны rate-лимитеру
// и ban-трекеру, поэтому адаптеры обязаны отдавать их вместе с результатом.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Heartbeat — один замер round-trip до биржи.
type Heartbeat struct {
	Exchange string
	RTT      time.Duration
	At       time.Time
	Healthy  bool // живо ли соединение в момент замера
}
