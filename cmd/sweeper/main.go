package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fanpilot/internal/adapters/mailer"
	"fanpilot/internal/adapters/repo"
	"fanpilot/internal/app"
	"fanpilot/internal/infra/config"
	"fanpilot/internal/infra/db"
	loginfra "fanpilot/internal/infra/log"
	"fanpilot/internal/infra/metrics"
	"fanpilot/internal/usecase/actions"
	"fanpilot/internal/usecase/ledger"
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
		logger.Fatal().Err(err).Msg("sweeper: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	mailClient, err := mailer.New(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, mailer.WithTimeout(cfg.Mailer.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: не удалось создать почтовый шлюз")
	}
	payloadGen := app.BuildGenerator(cfg)

	engine := actions.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		mailClient, app.BuildStrategies(cfg, payloadGen), app.OfferTerms(cfg),
		cfg.Sweeps.ProcessLimit,
		logger.With().Str("component", "actions").Logger(),
	)
	ledgerService := ledger.NewService(repoAdapter, cfg.Credits.ExpiryDays, logger.With().Str("component", "ledger").Logger())

	runEvery(ctx, cfg.Sweeps.ProcessInterval, func(ctx context.Context) {
		report, err := engine.ProcessDue(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweeper: обработка действий завершилась с ошибкой")
			return
		}
		if report.Claimed > 0 {
			logger.Info().
				Int("claimed", report.Claimed).
				Int("sent", report.Sent).
				Int("cancelled", report.Cancelled).
				Int("failed", report.Failed).
				Msg("sweeper: отправлены запланированные действия")
		}
	})

	runEvery(ctx, cfg.Sweeps.ReminderInterval, func(ctx context.Context) {
		sent, err := engine.SweepReminders(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweeper: не удалось разослать напоминания об офферах")
			return
		}
		if sent > 0 {
			logger.Info().Int("sent", sent).Msg("sweeper: отправлены напоминания об офферах")
		}
	})

	runEvery(ctx, cfg.Sweeps.ExpiryInterval, func(ctx context.Context) {
		expired, err := engine.SweepExpiry(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweeper: не удалось закрыть просроченные офферы")
			return
		}
		if expired > 0 {
			logger.Info().Int("expired", expired).Msg("sweeper: закрыты просроченные офферы")
		}
	})

	runEvery(ctx, cfg.Sweeps.LedgerInterval, func(ctx context.Context) {
		report, err := ledgerService.SweepExpirations(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweeper: не удалось списать просроченные кредиты")
			return
		}
		if report.Accounts > 0 {
			logger.Info().
				Int("accounts", report.Accounts).
				Int64("removed", report.Removed).
				Msg("sweeper: списаны просроченные кредиты")
		}
	})

	runEvery(ctx, cfg.Sweeps.RecurringInterval, func(ctx context.Context) {
		granted, err := ledgerService.SweepRecurringGrants(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweeper: не удалось начислить регулярные кредиты")
			return
		}
		if granted > 0 {
			logger.Info().Int("granted", granted).Msg("sweeper: начислены регулярные кредиты")
		}
	})

	logger.Info().Msg("sweeper: фоновые циклы запущены")
	<-ctx.Done()
	logger.Info().Msg("sweeper: остановлен")
}

// runEvery гоняет задачу по тикеру до отмены контекста. Первый запуск
// происходит сразу, чтобы после рестарта не ждать целый интервал.
func runEvery(ctx context.Context, interval time.Duration, task func(context.Context)) {
	go func() {
		task(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}
