package service

import "time"

// ExchangeSnapshot — read-only срез состояния лимитера одной биржи.
// Для дашборда: поллинг, никакой мутации снаружи.
type ExchangeSnapshot struct {
	Exchange          string         `json:"exchange"`
	Tokens            float64        `json:"tokens"`
	BucketSize        float64        `json:"bucketSize"`
	UsedWeight        int            `json:"usedWeight"`
	WeightLimit       int            `json:"weightLimit"`
	QueueDepth        map[string]int `json:"queueDepth"` // по приоритетам
	CooldownRemaining time.Duration  `json:"cooldownRemainingNs"`
	CooldownReason    string         `json:"cooldownReason,omitempty"`
}

func (g *Gate) Snapshot() []ExchangeSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]ExchangeSnapshot, 0, len(g.ex))
	for name, st := range g.ex {
		st.bucket.leak()
		depth := map[string]int{"critical": 0, "high": 0, "low": 0}
		for _, qr := range st.queue {
			if !qr.cancelled.Load() {
				depth[qr.priority.String()]++
			}
		}
		out = append(out, ExchangeSnapshot{
			Exchange:          name,
			Tokens:            st.bucket.tokens,
			BucketSize:        st.bucket.size,
			UsedWeight:        st.bucket.usedWeight,
			WeightLimit:       st.bucket.weightLimit,
			QueueDepth:        depth,
			CooldownRemaining: g.bans.Remaining(name),
			CooldownReason:    g.bans.Reason(name),
		})
	}
	return out
}

// QueueDepth — суммарная глубина очереди биржи.
func (g *Gate) QueueDepth(exchange string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.ex[exchange]
	if !ok {
		return 0
	}
	n := 0
	for _, qr := range st.queue {
		if !qr.cancelled.Load() {
			n++
		}
	}
	return n
}
