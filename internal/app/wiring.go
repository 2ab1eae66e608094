package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"fanpilot/internal/adapters/generator"
	"fanpilot/internal/adapters/intent"
	"fanpilot/internal/adapters/templates"
	"fanpilot/internal/domain"
	"fanpilot/internal/infra/config"
	"fanpilot/internal/infra/openai"
	"fanpilot/internal/infra/queue"
	"fanpilot/internal/usecase/actions"
)

// NewIntentDetector создаёт детектор намерений по ключевым словам.
func NewIntentDetector() domain.IntentDetector {
	return intent.NewKeywordDetector()
}

// BuildGenerator собирает цепочку генерации: LLM с откатом на
// заготовки, либо только заготовки, если ключ OpenAI не задан.
func BuildGenerator(cfg config.AppConfig) domain.PayloadGenerator {
	static := generator.NewStatic(templates.NewStore())
	if cfg.OpenAI.APIKey == "" {
		return static
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return generator.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout, static)
}

// BuildStrategies собирает стратегии семейств действий из конфига.
func BuildStrategies(cfg config.AppConfig, gen domain.PayloadGenerator) []actions.TypeStrategy {
	return []actions.TypeStrategy{
		actions.NewBumpStrategy(cfg.Scoring.MinScoreBump, cfg.Cooldowns.Bump, gen),
		actions.NewFlashSaleStrategy(cfg.Scoring.MinScoreFlashSale, cfg.Cooldowns.FlashSale, cfg.Offers.TTL, gen),
		actions.NewReengageStrategy(cfg.Scoring.MinScoreReengage, cfg.Cooldowns.Reengage, gen),
	}
}

// OfferTerms переводит конфиг в условия предложений движка.
func OfferTerms(cfg config.AppConfig) actions.OfferTerms {
	return actions.OfferTerms{
		TTL:             cfg.Offers.TTL,
		ReminderWindow:  cfg.Offers.ReminderWindow,
		DiscountPercent: cfg.Offers.Discount,
		BasePrice:       cfg.Credits.DefaultUnlockPrice,
	}
}

// NewEventQueue выбирает бэкенд очереди событий по конфигу.
func NewEventQueue(cfg config.AppConfig, client *redis.Client) (domain.EventQueue, error) {
	switch cfg.Queues.Backend {
	case "rabbit":
		return queue.NewRabbitEventQueue(cfg.RabbitURL, cfg.Queues.Events)
	case "redis":
		return queue.NewRedisEventQueue(client, cfg.Queues.Events), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд очереди событий: %q", cfg.Queues.Backend)
	}
}
