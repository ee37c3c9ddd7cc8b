package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"hft_bot/internal/models"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// SafeModeExchange — пороги латентности одной биржи, мс.
// Enter обязан быть строго выше Exit, иначе гистерезис не работает.
type SafeModeExchange struct {
	EnterMs int `yaml:"enter_ms"`
	ExitMs  int `yaml:"exit_ms"`
}

type ExchangeConfig struct {
	Limits    models.ExchangeLimits `yaml:"limits"`
	APIKeyEnv string                `yaml:"api_key_env"` // имя env с ключом, не сам ключ
	SecretEnv string                `yaml:"secret_env"`
	RestURL   string                `yaml:"rest_url"`
	WsURL     string                `yaml:"ws_url"`
	Symbols   []string              `yaml:"symbols"` // watchlist; первый — пробный для замеров RTT
}

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	RateGate struct {
		PollInterval time.Duration `yaml:"poll_interval"` // пауза воркера очереди между попытками
		MaxRetries   int           `yaml:"max_retries"`
		RetryBase    time.Duration `yaml:"retry_base"`
		RetryMax     time.Duration `yaml:"retry_max"`
	} `yaml:"rate_gate"`

	SafeMode struct {
		Enabled         bool                        `yaml:"enabled"`
		Interval        time.Duration               `yaml:"interval"`       // период монитора
		Staleness       time.Duration               `yaml:"staleness"`      // свежесть валидного замера
		DwellMin        time.Duration               `yaml:"dwell_min"`      // минимум в safe mode до проверки выхода
		TriggerCount    int                         `yaml:"trigger_count"`  // подряд высоких для входа
		ExitCount       int                         `yaml:"exit_count"`     // подряд низких для выхода
		DisconnectGrace time.Duration               `yaml:"disconnect_grace"`
		Exchanges       map[string]SafeModeExchange `yaml:"exchanges"`
	} `yaml:"safe_mode"`

	Risk struct {
		MinOrderUSD     float64 `yaml:"min_order_usd"`
		MaxOrderUSD     float64 `yaml:"max_order_usd"`
		FatFingerPct    float64 `yaml:"fat_finger_pct"` // допустимое отклонение entry от рынка, %
		MaxPositions    int     `yaml:"max_positions"`
		DailyLossCapUSD float64 `yaml:"daily_loss_cap_usd"`
	} `yaml:"risk"`

	Loop struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval"`
		LockTimeout    time.Duration `yaml:"lock_timeout"`
		Aggressiveness string        `yaml:"aggressiveness"` // conservative | balanced | aggressive
		TargetPct      float64       `yaml:"target_pct"`     // дефолтный ROI-таргет позиции
		Leverage       int           `yaml:"leverage"`
		OrderSizeUSD   float64       `yaml:"order_size_usd"`
	} `yaml:"loop"`

	WriteQueue struct {
		Size     int           `yaml:"size"`
		Batch    int           `yaml:"batch"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"write_queue"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{}

	config.RateGate.PollInterval = durationFromEnv("RATE_GATE_POLL_INTERVAL", "50ms")
	config.RateGate.MaxRetries = intFromEnv("RATE_GATE_MAX_RETRIES", 3)
	config.RateGate.RetryBase = durationFromEnv("RATE_GATE_RETRY_BASE", "200ms")
	config.RateGate.RetryMax = durationFromEnv("RATE_GATE_RETRY_MAX", "5s")

	config.SafeMode.Enabled = boolFromEnv("SAFE_MODE_ENABLED", true)
	config.SafeMode.Interval = durationFromEnv("SAFE_MODE_INTERVAL", "10s")
	config.SafeMode.Staleness = durationFromEnv("SAFE_MODE_STALENESS", "30s")
	config.SafeMode.DwellMin = durationFromEnv("SAFE_MODE_DWELL_MIN", "5m")
	config.SafeMode.TriggerCount = intFromEnv("SAFE_MODE_TRIGGER_COUNT", 5)
	config.SafeMode.ExitCount = intFromEnv("SAFE_MODE_EXIT_COUNT", 5)
	config.SafeMode.DisconnectGrace = durationFromEnv("SAFE_MODE_DISCONNECT_GRACE", "10m")

	config.Risk.MinOrderUSD = floatFromEnv("RISK_MIN_ORDER_USD", 10)
	config.Risk.MaxOrderUSD = floatFromEnv("RISK_MAX_ORDER_USD", 1000)
	config.Risk.FatFingerPct = floatFromEnv("RISK_FAT_FINGER_PCT", 5)
	config.Risk.MaxPositions = intFromEnv("RISK_MAX_POSITIONS", 10)
	config.Risk.DailyLossCapUSD = floatFromEnv("RISK_DAILY_LOSS_CAP_USD", 100)

	config.Loop.Enabled = boolFromEnv("LOOP_ENABLED", true)
	config.Loop.Interval = durationFromEnv("LOOP_INTERVAL", "30s")
	config.Loop.LockTimeout = durationFromEnv("LOOP_LOCK_TIMEOUT", "2m")
	config.Loop.Aggressiveness = getenvDefault("LOOP_AGGRESSIVENESS", "balanced")
	config.Loop.TargetPct = floatFromEnv("LOOP_TARGET_PCT", 1.0)
	config.Loop.Leverage = intFromEnv("LOOP_LEVERAGE", 5)
	config.Loop.OrderSizeUSD = floatFromEnv("LOOP_ORDER_SIZE_USD", 100)

	config.WriteQueue.Size = intFromEnv("WRITE_QUEUE_SIZE", 1024)
	config.WriteQueue.Batch = intFromEnv("WRITE_QUEUE_BATCH", 32)
	config.WriteQueue.Interval = durationFromEnv("WRITE_QUEUE_INTERVAL", "500ms")

	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	for name, sm := range c.SafeMode.Exchanges {
		if sm.ExitMs >= sm.EnterMs {
			return fmt.Errorf("safe_mode.%s: exit_ms (%d) must be below enter_ms (%d)", name, sm.ExitMs, sm.EnterMs)
		}
	}
	if c.Risk.MinOrderUSD > c.Risk.MaxOrderUSD {
		return fmt.Errorf("risk: min_order_usd > max_order_usd")
	}
	return nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
