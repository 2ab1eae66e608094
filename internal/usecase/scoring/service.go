package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// Веса под-оценок в итоговой оценке.
const (
	weightEngagement = 0.25
	weightSpending   = 0.35
	weightIntent     = 0.25
	weightRecency    = 0.15
)

const (
	scoreBase          = 50
	recentMessageLimit = 20
)

// Service рассчитывает оценку монетизационного потенциала фаната.
type Service struct {
	profiles  domain.ProfileRepo
	scores    domain.ScoreRepo
	messages  domain.MessageRepo
	purchases domain.PurchaseRepo
	intent    domain.IntentDetector
	now       func() time.Time
}

// NewService создаёт сервис скоринга.
func NewService(profiles domain.ProfileRepo, scores domain.ScoreRepo, messages domain.MessageRepo, purchases domain.PurchaseRepo, intent domain.IntentDetector) *Service {
	return &Service{
		profiles:  profiles,
		scores:    scores,
		messages:  messages,
		purchases: purchases,
		intent:    intent,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Score рассчитывает оценку без сохранения.
func (s *Service) Score(ctx context.Context, creatorID, fanID string) (domain.LeadScore, error) {
	if creatorID == "" || fanID == "" {
		return domain.LeadScore{}, fmt.Errorf("%w: creator and fan ids are required", domain.ErrValidation)
	}

	start := time.Now()
	profile, err := s.profiles.GetProfile(ctx, creatorID, fanID)
	if err != nil {
		return domain.LeadScore{}, fmt.Errorf("получение профиля: %w", err)
	}

	now := s.now().UTC()
	var factors []domain.ScoreFactor

	engagement, engagementFactors, err := s.engagementScore(ctx, profile, now)
	if err != nil {
		return domain.LeadScore{}, err
	}
	factors = append(factors, engagementFactors...)

	spending, spendingFactors, err := s.spendingScore(ctx, profile, now)
	if err != nil {
		return domain.LeadScore{}, err
	}
	factors = append(factors, spendingFactors...)

	intent, intentFactors, err := s.intentScore(ctx, profile)
	if err != nil {
		return domain.LeadScore{}, err
	}
	factors = append(factors, intentFactors...)

	recency, recencyFactors := recencyScore(profile, now)
	factors = append(factors, recencyFactors...)

	overall := clamp(int(math.Round(
		float64(engagement)*weightEngagement +
			float64(spending)*weightSpending +
			float64(intent)*weightIntent +
			float64(recency)*weightRecency)))

	score := domain.LeadScore{
		CreatorID:           creatorID,
		FanID:               fanID,
		Overall:             overall,
		Engagement:          engagement,
		Spending:            spending,
		Intent:              intent,
		Recency:             recency,
		Factors:             factors,
		PredictedLTV:        predictedLTV(profile.TotalSpent, spending),
		PurchaseProbability: float64(intent+recency) / 200,
		ChurnRisk:           1 - float64(recency)/100,
		LastCalculatedAt:    now,
	}
	metrics.ScoreComputeSeconds.Observe(time.Since(start).Seconds())
	return score, nil
}

// Recompute рассчитывает оценку и сохраняет её одним upsert-ом.
func (s *Service) Recompute(ctx context.Context, creatorID, fanID string) (domain.LeadScore, error) {
	score, err := s.Score(ctx, creatorID, fanID)
	if err != nil {
		return domain.LeadScore{}, err
	}
	if err := s.scores.UpsertScore(ctx, score); err != nil {
		return domain.LeadScore{}, fmt.Errorf("сохранение оценки: %w", err)
	}
	metrics.ScoresComputedTotal.Inc()
	return score, nil
}

// FanError — ошибка пересчёта одного фаната в батче.
type FanError struct {
	FanID string
	Err   error
}

// BatchReport — итог батч-пересчёта.
type BatchReport struct {
	Processed int
	Failed    []FanError
}

// BatchRecompute пересчитывает давно не оценивавшиеся профили автора.
// Ошибка одного фаната не прерывает батч.
func (s *Service) BatchRecompute(ctx context.Context, creatorID string, limit int) (BatchReport, error) {
	if limit <= 0 {
		limit = 100
	}
	profiles, err := s.profiles.ListLeastRecentlyScored(ctx, creatorID, limit)
	if err != nil {
		return BatchReport{}, fmt.Errorf("выборка профилей: %w", err)
	}

	var report BatchReport
	for _, profile := range profiles {
		if _, err := s.Recompute(ctx, creatorID, profile.FanID); err != nil {
			report.Failed = append(report.Failed, FanError{FanID: profile.FanID, Err: err})
			continue
		}
		report.Processed++
	}
	return report, nil
}

func (s *Service) engagementScore(ctx context.Context, profile domain.FanProfile, now time.Time) (int, []domain.ScoreFactor, error) {
	score := scoreBase
	var factors []domain.ScoreFactor

	count, err := s.messages.CountFanMessages(ctx, profile.CreatorID, profile.FanID, now.AddDate(0, 0, -30))
	if err != nil {
		return 0, nil, fmt.Errorf("подсчёт сообщений: %w", err)
	}
	switch {
	case count >= 50:
		score, factors = addFactor(score, factors, "messages_30d", 25, weightEngagement, "очень активная переписка за 30 дней")
	case count >= 20:
		score, factors = addFactor(score, factors, "messages_30d", 15, weightEngagement, "активная переписка за 30 дней")
	case count >= 5:
		score, factors = addFactor(score, factors, "messages_30d", 8, weightEngagement, "регулярная переписка за 30 дней")
	case count == 0:
		score, factors = addFactor(score, factors, "messages_30d", -20, weightEngagement, "сообщений за 30 дней не было")
	}

	latency, ok, err := s.messages.AverageFanResponseLatency(ctx, profile.CreatorID, profile.FanID, now.AddDate(0, 0, -30))
	if err != nil {
		return 0, nil, fmt.Errorf("средняя задержка ответа: %w", err)
	}
	if ok {
		switch {
		case latency < 30*time.Minute:
			score, factors = addFactor(score, factors, "response_latency", 15, weightEngagement, "отвечает быстрее 30 минут")
		case latency < 2*time.Hour:
			score, factors = addFactor(score, factors, "response_latency", 8, weightEngagement, "отвечает быстрее двух часов")
		}
	}

	return clamp(score), factors, nil
}

func (s *Service) spendingScore(ctx context.Context, profile domain.FanProfile, now time.Time) (int, []domain.ScoreFactor, error) {
	score := scoreBase
	var factors []domain.ScoreFactor

	switch {
	case profile.TotalSpent >= 50000:
		score, factors = addFactor(score, factors, "lifetime_spend", 30, weightSpending, "траты уровня whale")
	case profile.TotalSpent >= 10000:
		score, factors = addFactor(score, factors, "lifetime_spend", 20, weightSpending, "высокие траты за всё время")
	case profile.TotalSpent >= 2500:
		score, factors = addFactor(score, factors, "lifetime_spend", 12, weightSpending, "средние траты за всё время")
	case profile.TotalSpent > 0:
		score, factors = addFactor(score, factors, "lifetime_spend", 5, weightSpending, "были разовые покупки")
	default:
		score, factors = addFactor(score, factors, "lifetime_spend", -15, weightSpending, "покупок не было")
	}

	recent, err := s.purchases.SpentSince(ctx, profile.CreatorID, profile.FanID, now.AddDate(0, 0, -7))
	if err != nil {
		return 0, nil, fmt.Errorf("траты за неделю: %w", err)
	}
	switch {
	case recent >= 1000:
		score, factors = addFactor(score, factors, "recent_spend_7d", 15, weightSpending, "крупные траты за последнюю неделю")
	case recent > 0:
		score, factors = addFactor(score, factors, "recent_spend_7d", 8, weightSpending, "траты за последнюю неделю")
	}

	return clamp(score), factors, nil
}

func (s *Service) intentScore(ctx context.Context, profile domain.FanProfile) (int, []domain.ScoreFactor, error) {
	score := scoreBase
	var factors []domain.ScoreFactor

	msgs, err := s.messages.ListRecentFanMessages(ctx, profile.CreatorID, profile.FanID, recentMessageLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("последние сообщения: %w", err)
	}
	signal := s.intent.Detect(msgs)

	for _, keyword := range signal.HighMatches {
		score, factors = addFactor(score, factors, "intent_high", 12, weightIntent, "сильный сигнал намерения: "+keyword)
	}
	for _, keyword := range signal.MediumMatches {
		score, factors = addFactor(score, factors, "intent_medium", 6, weightIntent, "умеренный сигнал намерения: "+keyword)
	}
	for _, keyword := range signal.LowMatches {
		score, factors = addFactor(score, factors, "intent_low", -8, weightIntent, "чувствительность к цене: "+keyword)
	}
	if signal.AskedAboutLocked {
		score, factors = addFactor(score, factors, "asked_about_locked", 10, weightIntent, "спрашивал о закрытом контенте")
	}

	return clamp(score), factors, nil
}

func recencyScore(profile domain.FanProfile, now time.Time) (int, []domain.ScoreFactor) {
	score := scoreBase
	var factors []domain.ScoreFactor

	if profile.LastSeenAt == nil {
		score, factors = addFactor(score, factors, "last_seen", -25, weightRecency, "визитов не зафиксировано")
		return clamp(score), factors
	}

	days := int(now.Sub(profile.LastSeenAt.UTC()).Hours() / 24)
	switch {
	case days < 1:
		score, factors = addFactor(score, factors, "last_seen", 25, weightRecency, "был онлайн сегодня")
	case days <= 3:
		score, factors = addFactor(score, factors, "last_seen", 15, weightRecency, "был онлайн в последние 3 дня")
	case days <= 7:
		score, factors = addFactor(score, factors, "last_seen", 5, weightRecency, "был онлайн на этой неделе")
	case days <= 14:
		score, factors = addFactor(score, factors, "last_seen", -5, weightRecency, "не появлялся до двух недель")
	case days <= 30:
		score, factors = addFactor(score, factors, "last_seen", -15, weightRecency, "не появлялся до месяца")
	default:
		score, factors = addFactor(score, factors, "last_seen", -25, weightRecency, "не появлялся больше месяца")
	}

	return clamp(score), factors
}

// predictedLTV масштабирует пожизненные траты ступенчатым множителем
// от под-оценки трат. Вся арифметика целочисленная.
func predictedLTV(totalSpent int64, spendingScore int) int64 {
	if totalSpent == 0 {
		return int64(spendingScore) * 10
	}
	var multiplierPct int64
	switch {
	case spendingScore >= 80:
		multiplierPct = 300
	case spendingScore >= 60:
		multiplierPct = 200
	case spendingScore >= 40:
		multiplierPct = 150
	default:
		multiplierPct = 110
	}
	return totalSpent * multiplierPct / 100
}

func addFactor(score int, factors []domain.ScoreFactor, name string, impact int, weight float64, description string) (int, []domain.ScoreFactor) {
	return score + impact, append(factors, domain.ScoreFactor{
		Name:        name,
		Impact:      impact,
		Weight:      weight,
		Description: description,
	})
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
