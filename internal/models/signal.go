package models

// Signal — кандидат на вход от скорера. Скорер для ядра — чёрный ящик,
// важен только ранжированный список.
type Signal struct {
	Exchange   string
	Symbol     string
	Side       string  // "long"/"short"
	Score      float64 // 0..100, больше — лучше
	Confidence float64 // 0..1
	TargetPx   float64
	TradeType  string // "scalp"/"swing"
}
