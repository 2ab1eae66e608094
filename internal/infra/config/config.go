package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`
	APIKey string `envconfig:"API_KEY"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBIT_URL"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Mailer struct {
		BaseURL string        `envconfig:"MAILER_BASE_URL"`
		APIKey  string        `envconfig:"MAILER_API_KEY"`
		Timeout time.Duration `envconfig:"MAILER_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Scoring struct {
		MinScoreBump      int `envconfig:"MIN_SCORE_BUMP" default:"40"`
		MinScoreFlashSale int `envconfig:"MIN_SCORE_FLASH_SALE" default:"55"`
		MinScoreReengage  int `envconfig:"MIN_SCORE_REENGAGE" default:"20"`
		BatchLimit        int `envconfig:"SCORING_BATCH_LIMIT" default:"200"`
	} `envconfig:""`

	Cooldowns struct {
		Bump      time.Duration `envconfig:"COOLDOWN_BUMP" default:"48h"`
		FlashSale time.Duration `envconfig:"COOLDOWN_FLASH_SALE" default:"168h"`
		Reengage  time.Duration `envconfig:"COOLDOWN_REENGAGE" default:"336h"`
	} `envconfig:""`

	Offers struct {
		TTL            time.Duration `envconfig:"OFFER_TTL" default:"24h"`
		ReminderWindow time.Duration `envconfig:"OFFER_REMINDER_WINDOW" default:"3h"`
		Discount       int           `envconfig:"OFFER_DISCOUNT_PERCENT" default:"30"`
	} `envconfig:""`

	Credits struct {
		ExpiryDays         int   `envconfig:"CREDIT_EXPIRY_DAYS" default:"30"`
		DefaultUnlockPrice int64 `envconfig:"DEFAULT_UNLOCK_PRICE" default:"500"`
	} `envconfig:""`

	Sweeps struct {
		ProcessInterval   time.Duration `envconfig:"SWEEP_PROCESS_INTERVAL" default:"30s"`
		ProcessLimit      int           `envconfig:"SWEEP_PROCESS_LIMIT" default:"100"`
		ReminderInterval  time.Duration `envconfig:"SWEEP_REMINDER_INTERVAL" default:"5m"`
		ExpiryInterval    time.Duration `envconfig:"SWEEP_EXPIRY_INTERVAL" default:"5m"`
		LedgerInterval    time.Duration `envconfig:"SWEEP_LEDGER_INTERVAL" default:"10m"`
		RecurringInterval time.Duration `envconfig:"SWEEP_RECURRING_INTERVAL" default:"10m"`
		BatchScoreEvery   time.Duration `envconfig:"SWEEP_BATCH_SCORE_INTERVAL" default:"1h"`
	} `envconfig:""`

	Queues struct {
		Events  string `envconfig:"EVENTS_QUEUE_KEY" default:"lifecycle_events"`
		Backend string `envconfig:"EVENTS_QUEUE_BACKEND" default:"redis"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
