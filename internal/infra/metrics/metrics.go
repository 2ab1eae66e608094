package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ActionsScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_scheduled_total",
		Help: "Запланированные автоматические действия",
	}, []string{"type"})

	ActionsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_skipped_total",
		Help: "Пропущенные попытки планирования по причинам",
	}, []string{"type", "reason"})

	ActionsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_processed_total",
		Help: "Итоги обработки действий свипом",
	}, []string{"type", "status"})

	OffersRedeemedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offers_redeemed_total",
		Help: "Погашенные скидочные предложения",
	})

	OffersExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offers_expired_total",
		Help: "Просроченные скидочные предложения",
	})

	CreditsMovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_moved_total",
		Help: "Движение кредитов по типам транзакций",
	}, []string{"type"})

	ScoresComputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scores_computed_total",
		Help: "Рассчитанные оценки фанатов",
	})

	ScoreComputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "score_compute_seconds",
		Help:    "Время расчёта оценки фаната",
		Buckets: prometheus.DefBuckets,
	})

	EntitlementChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_checks_total",
		Help: "Проверки доступа к контенту по причинам",
	}, []string{"reason"})

	MailerSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailer_send_errors_total",
		Help: "Ошибки отправки через исходящий шлюз",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ActionsScheduledTotal,
		ActionsSkippedTotal,
		ActionsProcessedTotal,
		OffersRedeemedTotal,
		OffersExpiredTotal,
		CreditsMovedTotal,
		ScoresComputedTotal,
		ScoreComputeSeconds,
		EntitlementChecksTotal,
		MailerSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}
