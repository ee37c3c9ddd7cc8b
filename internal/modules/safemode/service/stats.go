package service

import (
	"sort"
	"sync"
	"time"
)

// ringSize — трейлинг-окно RTT. Вся статистика считается по нему,
// а не по полной истории: память ограничена, цифры про "сейчас".
const ringSize = 512

type rttRing struct {
	buf [ringSize]time.Duration
	idx int
	n   int
}

func (r *rttRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx = (r.idx + 1) % ringSize
	if r.n < ringSize {
		r.n++
	}
}

func (r *rttRing) window() []time.Duration {
	out := make([]time.Duration, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.idx-r.n+i+ringSize*2)%ringSize]
	}
	return out
}

// LatencyStats — перцентили и спайки по трейлинг-окну каждой биржи.
type LatencyStats struct {
	mu    sync.Mutex
	rings map[string]*rttRing
}

func NewLatencyStats() *LatencyStats {
	return &LatencyStats{rings: make(map[string]*rttRing)}
}

func (s *LatencyStats) Record(exchange string, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[exchange]
	if !ok {
		r = &rttRing{}
		s.rings[exchange] = r
	}
	r.add(rtt)
}

// Percentile: p в [0,100]. Нет данных — 0.
func (s *LatencyStats) Percentile(exchange string, p float64) time.Duration {
	s.mu.Lock()
	r, ok := s.rings[exchange]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	w := r.window()
	s.mu.Unlock()

	if len(w) == 0 {
		return 0
	}
	sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
	idx := int(float64(len(w)-1) * p / 100.0)
	return w[idx]
}

// SpikeCount — сколько замеров окна выше порога.
func (s *LatencyStats) SpikeCount(exchange string, over time.Duration) int {
	s.mu.Lock()
	r, ok := s.rings[exchange]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	w := r.window()
	s.mu.Unlock()

	n := 0
	for _, d := range w {
		if d > over {
			n++
		}
	}
	return n
}

// Histogram раскладывает окно по границам bounds (возрастающие);
// последний бакет — всё, что выше последней границы.
func (s *LatencyStats) Histogram(exchange string, bounds []time.Duration) []int {
	s.mu.Lock()
	r, ok := s.rings[exchange]
	if !ok {
		s.mu.Unlock()
		return make([]int, len(bounds)+1)
	}
	w := r.window()
	s.mu.Unlock()

	hist := make([]int, len(bounds)+1)
	for _, d := range w {
		placed := false
		for i, b := range bounds {
			if d <= b {
				hist[i]++
				placed = true
				break
			}
		}
		if !placed {
			hist[len(bounds)]++
		}
	}
	return hist
}
