package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"fanpilot/internal/adapters/repo"
	"fanpilot/internal/app"
	"fanpilot/internal/infra/config"
	"fanpilot/internal/infra/db"
	loginfra "fanpilot/internal/infra/log"
	"fanpilot/internal/infra/metrics"
	"fanpilot/internal/usecase/scoring"
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
		logger.Fatal().Err(err).Msg("scorer: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	scoringService := scoring.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, app.NewIntentDetector())

	logger.Info().Dur("interval", cfg.Sweeps.BatchScoreEvery).Msg("scorer: запущен")

	ticker := time.NewTicker(cfg.Sweeps.BatchScoreEvery)
	defer ticker.Stop()
	for {
		recomputeAll(ctx, logger, repoAdapter, scoringService, cfg.Scoring.BatchLimit)
		select {
		case <-ctx.Done():
			logger.Info().Msg("scorer: остановлен")
			return
		case <-ticker.C:
		}
	}
}

func recomputeAll(ctx context.Context, logger zerolog.Logger, repoAdapter *repo.Postgres, svc *scoring.Service, limit int) {
	creators, err := repoAdapter.ListCreators(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("scorer: ошибка выборки авторов")
		return
	}
	for _, creatorID := range creators {
		report, err := svc.BatchRecompute(ctx, creatorID, limit)
		if err != nil {
			logger.Error().Err(err).Str("creator", creatorID).Msg("scorer: пакетный пересчёт не удался")
			continue
		}
		for _, failure := range report.Failed {
			logger.Warn().
				Err(failure.Err).
				Str("creator", creatorID).
				Str("fan", failure.FanID).
				Msg("scorer: не удалось пересчитать скор фаната")
		}
		if report.Processed > 0 {
			logger.Info().Str("creator", creatorID).Int("processed", report.Processed).Msg("scorer: скоры пересчитаны")
		}
	}
}
