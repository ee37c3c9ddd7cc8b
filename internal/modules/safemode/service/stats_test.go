package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentileEmpty(t *testing.T) {
	s := NewLatencyStats()
	assert.Equal(t, time.Duration(0), s.Percentile("binance", 95))
}

func TestPercentile(t *testing.T) {
	s := NewLatencyStats()
	for i := 1; i <= 100; i++ {
		s.Record("binance", time.Duration(i)*time.Millisecond)
	}

	assert.Equal(t, time.Millisecond, s.Percentile("binance", 0))
	assert.Equal(t, 50*time.Millisecond, s.Percentile("binance", 50).Round(time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, s.Percentile("binance", 100))
}

func TestRingEvictsOldest(t *testing.T) {
	s := NewLatencyStats()
	// первое окно целиком из секундных замеров
	for i := 0; i < ringSize; i++ {
		s.Record("binance", time.Second)
	}
	// второе окно вытесняет их миллисекундными
	for i := 0; i < ringSize; i++ {
		s.Record("binance", time.Millisecond)
	}
	assert.Equal(t, time.Millisecond, s.Percentile("binance", 100))
}

func TestSpikeCount(t *testing.T) {
	s := NewLatencyStats()
	s.Record("binance", 100*time.Millisecond)
	s.Record("binance", 900*time.Millisecond)
	s.Record("binance", 2*time.Second)

	assert.Equal(t, 2, s.SpikeCount("binance", 500*time.Millisecond))
	assert.Equal(t, 0, s.SpikeCount("bybit", 500*time.Millisecond))
}

func TestHistogram(t *testing.T) {
	s := NewLatencyStats()
	for _, d := range []time.Duration{
		50 * time.Millisecond,
		150 * time.Millisecond,
		time.Second,
	} {
		s.Record("binance", d)
	}

	bounds := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}
	assert.Equal(t, []int{1, 1, 1}, s.Histogram("binance", bounds))
	assert.Equal(t, []int{0, 0, 0}, s.Histogram("okx", bounds))
}
