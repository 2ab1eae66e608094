package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fanpilot/internal/adapters/mailer"
	"fanpilot/internal/adapters/repo"
	"fanpilot/internal/app"
	"fanpilot/internal/domain"
	"fanpilot/internal/infra/config"
	"fanpilot/internal/infra/db"
	loginfra "fanpilot/internal/infra/log"
	"fanpilot/internal/infra/metrics"
	"fanpilot/internal/usecase/actions"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("events: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	events, err := app.NewEventQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("events: не удалось подключить очередь событий")
	}

	repoAdapter := repo.NewPostgres(pool)
	mailClient, err := mailer.New(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, mailer.WithTimeout(cfg.Mailer.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("events: не удалось создать почтовый шлюз")
	}
	payloadGen := app.BuildGenerator(cfg)

	engine := actions.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		mailClient, app.BuildStrategies(cfg, payloadGen), app.OfferTerms(cfg),
		cfg.Sweeps.ProcessLimit,
		logger.With().Str("component", "actions").Logger(),
	)

	logger.Info().Str("queue", cfg.Queues.Events).Msg("events: обработчик запущен")

	for {
		event, ack, err := events.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("events: обработчик остановлен")
				return
			}
			logger.Error().Err(err).Msg("events: ошибка получения события")
			continue
		}
		handleErr := handleEvent(ctx, logger, engine, cfg.Scoring.BatchLimit, event)
		if handleErr != nil {
			logger.Error().
				Err(handleErr).
				Str("kind", string(event.Kind)).
				Str("creator", event.CreatorID).
				Str("fan", event.FanID).
				Msg("events: событие не обработано")
		}
		if ackErr := ack(handleErr == nil); ackErr != nil {
			logger.Error().Err(ackErr).Msg("events: не удалось подтвердить событие")
		}
	}
}

func handleEvent(ctx context.Context, logger zerolog.Logger, engine *actions.Service, fanLimit int, event domain.LifecycleEvent) error {
	switch event.Kind {
	case domain.EventFanOnline:
		result, err := engine.OnFanOnline(ctx, event.CreatorID, event.FanID)
		logScheduleResult(logger, event, result, err)
		return ignoreSkips(err)
	case domain.EventFanOffline:
		result, err := engine.OnFanOffline(ctx, event.CreatorID, event.FanID)
		logScheduleResult(logger, event, result, err)
		return ignoreSkips(err)
	case domain.EventContentPublished:
		report, err := engine.OnContentPublished(ctx, event.CreatorID, fanLimit)
		if err != nil {
			return err
		}
		logger.Info().
			Str("creator", event.CreatorID).
			Int("scheduled", report.Scheduled).
			Int("skipped", report.Skipped).
			Msg("events: разосланы бампы после публикации")
		return nil
	case domain.EventMessageReceived:
		result, err := engine.OnMessageReceived(ctx, domain.Message{
			CreatorID: event.CreatorID,
			FanID:     event.FanID,
			FromFan:   true,
			Text:      event.MessageText,
			SentAt:    event.OccurredAt,
		})
		logScheduleResult(logger, event, result, err)
		return ignoreSkips(err)
	default:
		logger.Warn().Str("kind", string(event.Kind)).Msg("events: неизвестный тип события")
		return nil
	}
}

// ignoreSkips не считает валидационные отказы причиной для редоставки:
// повторная обработка такого события даст тот же результат.
func ignoreSkips(err error) error {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrFanNotFound) {
		return nil
	}
	return err
}

func logScheduleResult(logger zerolog.Logger, event domain.LifecycleEvent, result domain.ScheduleResult, err error) {
	if err != nil || !result.Scheduled {
		return
	}
	logger.Info().
		Str("kind", string(event.Kind)).
		Str("creator", event.CreatorID).
		Str("fan", event.FanID).
		Str("action", string(result.Action.Type)).
		Msg("events: запланировано действие")
}
