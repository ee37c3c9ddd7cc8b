package service

import (
	"net/http"
	"strconv"
	"strings"
)

// Usage — нормализованный расход веса из хедеров ответа.
// UsedWeight = -1 означает "хедер не пришёл".
type Usage struct {
	UsedWeight  int
	WeightLimit int
}

type headerExtractor func(h http.Header) (Usage, bool)

// Каждая биржа репортит расход по-своему; таблица маппит биржу на
// извлекатель нормализованного Usage.
var headerExtractors = map[string]headerExtractor{
	"binance": extractBinance,
	"bybit":   extractBybit,
	"kucoin":  extractKucoin,
	// okx минутный вес не репортит — фидбека нет, живём на локальной оценке
}

func extractUsage(exchange string, h http.Header) (Usage, bool) {
	if ex, ok := headerExtractors[exchange]; ok {
		return ex(h)
	}
	return Usage{UsedWeight: -1}, false
}

func extractBinance(h http.Header) (Usage, bool) {
	// X-Mbx-Used-Weight-1m, запасной вариант без интервала
	for _, key := range []string{"X-Mbx-Used-Weight-1m", "X-Mbx-Used-Weight"} {
		if v := h.Get(key); v != "" {
			if used, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return Usage{UsedWeight: used}, true
			}
		}
	}
	return Usage{UsedWeight: -1}, false
}

func extractBybit(h http.Header) (Usage, bool) {
	limitRaw := h.Get("X-Bapi-Limit")
	remRaw := h.Get("X-Bapi-Limit-Status")
	if limitRaw == "" || remRaw == "" {
		return Usage{UsedWeight: -1}, false
	}
	limit, err1 := strconv.Atoi(strings.TrimSpace(limitRaw))
	remaining, err2 := strconv.Atoi(strings.TrimSpace(remRaw))
	if err1 != nil || err2 != nil || limit <= 0 {
		return Usage{UsedWeight: -1}, false
	}
	return Usage{UsedWeight: limit - remaining, WeightLimit: limit}, true
}

func extractKucoin(h http.Header) (Usage, bool) {
	limitRaw := h.Get("gw-ratelimit-limit")
	remRaw := h.Get("gw-ratelimit-remaining")
	if limitRaw == "" || remRaw == "" {
		return Usage{UsedWeight: -1}, false
	}
	limit, err1 := strconv.Atoi(strings.TrimSpace(limitRaw))
	remaining, err2 := strconv.Atoi(strings.TrimSpace(remRaw))
	if err1 != nil || err2 != nil || limit <= 0 {
		return Usage{UsedWeight: -1}, false
	}
	return Usage{UsedWeight: limit - remaining, WeightLimit: limit}, true
}
