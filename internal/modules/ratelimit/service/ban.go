package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"hft_bot/pkg/logger"

	"github.com/benbjohnson/clock"
)

// CooldownError — типовая ошибка "биржа в блэкауте", с остатком времени.
type CooldownError struct {
	Exchange  string
	Remaining time.Duration
	Reason    string
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s in cooldown for %s: %s", e.Exchange, e.Remaining.Round(time.Second), e.Reason)
}

// banSignals — статическая таблица сигналов бана одной биржи.
type banSignals struct {
	statuses   []int         // HTTP-статусы, однозначно означающие бан/троттлинг
	codes      []string      // коды ошибок внутри тела ответа
	substrings []string      // фрагменты сообщений (lower-case)
	ipMarkers  []string      // фрагменты, означающие подтверждённый IP-бан
	throttle   time.Duration // кулдаун на общий rate-limit сигнал
	ipBan      time.Duration // кулдаун на подтверждённый IP-бан
}

var banTable = map[string]banSignals{
	"binance": {
		statuses:   []int{418},
		codes:      []string{"-1003", "-1015"},
		substrings: []string{"too many requests", "way too much request weight"},
		ipMarkers:  []string{"banned until", "ip banned"},
		throttle:   2 * time.Minute,
		ipBan:      30 * time.Minute,
	},
	"bybit": {
		statuses:   []int{403},
		codes:      []string{"10006", "10018"},
		substrings: []string{"too many visits", "rate limit"},
		ipMarkers:  []string{"access denied", "ip has been banned"},
		throttle:   time.Minute,
		ipBan:      15 * time.Minute,
	},
	"okx": {
		codes:      []string{"50011", "50013"},
		substrings: []string{"requests too frequent", "system busy"},
		ipMarkers:  []string{},
		throttle:   time.Minute,
		ipBan:      15 * time.Minute,
	},
	"kucoin": {
		statuses:   []int{429},
		codes:      []string{"429000"},
		substrings: []string{"too many requests"},
		ipMarkers:  []string{},
		throttle:   time.Minute,
		ipBan:      15 * time.Minute,
	},
}

type cooldownEntry struct {
	until  time.Time
	reason string
}

// BanTracker хранит активные кулдауны. Истечение ленивое: запись
// снимается при первой проверке после дедлайна, таймеров нет.
type BanTracker struct {
	clk clock.Clock

	mu        sync.Mutex
	cooldowns map[string]cooldownEntry
}

func NewBanTracker(clk clock.Clock) *BanTracker {
	return &BanTracker{
		clk:       clk,
		cooldowns: make(map[string]cooldownEntry),
	}
}

// DetectBan сверяет ответ с таблицей сигналов и при совпадении ставит
// кулдаун. IP-бан получает более длинный блэкаут, чем общий троттлинг.
func (t *BanTracker) DetectBan(exchange string, status int, body []byte) bool {
	sig, ok := banTable[exchange]
	if !ok {
		return false
	}

	lower := strings.ToLower(string(body))
	matched := false

	for _, marker := range sig.ipMarkers {
		if marker != "" && strings.Contains(lower, marker) {
			t.set(exchange, sig.ipBan, "ip ban: "+marker)
			return true
		}
	}

	for _, st := range sig.statuses {
		if status == st {
			matched = true
			break
		}
	}
	if !matched {
		for _, code := range sig.codes {
			if strings.Contains(lower, `"code":`+code) || strings.Contains(lower, `"code":"`+code+`"`) ||
				strings.Contains(lower, `"retcode":`+code) {
				matched = true
				break
			}
		}
	}
	if !matched {
		for _, sub := range sig.substrings {
			if strings.Contains(lower, sub) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return false
	}

	t.set(exchange, sig.throttle, fmt.Sprintf("rate limit signal (http %d)", status))
	return true
}

func (t *BanTracker) set(exchange string, d time.Duration, reason string) {
	t.mu.Lock()
	t.cooldowns[exchange] = cooldownEntry{until: t.clk.Now().Add(d), reason: reason}
	t.mu.Unlock()
	logger.Warn("[BAN] %s: cooldown %s (%s)", exchange, d, reason)
}

// InCooldown: пока now < until — биржа полностью закрыта для запросов.
func (t *BanTracker) InCooldown(exchange string) bool {
	return t.Remaining(exchange) > 0
}

func (t *BanTracker) Remaining(exchange string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.cooldowns[exchange]
	if !ok {
		return 0
	}
	rem := e.until.Sub(t.clk.Now())
	if rem <= 0 {
		delete(t.cooldowns, exchange) // lazy expiry
		return 0
	}
	return rem
}

func (t *BanTracker) Reason(exchange string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.cooldowns[exchange]; ok && e.until.After(t.clk.Now()) {
		return e.reason
	}
	return ""
}

// Err собирает типовую ошибку для вызывающих. nil — кулдауна нет.
func (t *BanTracker) Err(exchange string) error {
	rem := t.Remaining(exchange)
	if rem <= 0 {
		return nil
	}
	return &CooldownError{Exchange: exchange, Remaining: rem, Reason: t.Reason(exchange)}
}
