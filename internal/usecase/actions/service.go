package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// OfferTerms — условия создаваемых скидочных предложений.
type OfferTerms struct {
	TTL             time.Duration
	ReminderWindow  time.Duration
	DiscountPercent int
	BasePrice       int64
}

// Service — движок запланированных действий: планирование, обработка,
// напоминания, истечения и погашение предложений.
type Service struct {
	profiles   domain.ProfileRepo
	scores     domain.ScoreRepo
	messages   domain.MessageRepo
	actions    domain.ActionRepo
	offers     domain.OfferRepo
	mailer     domain.Mailer
	strategies map[domain.ActionType]TypeStrategy
	terms      OfferTerms
	limit      int
	log        zerolog.Logger

	now func() time.Time
}

// NewService создаёт движок с набором стратегий.
func NewService(
	profiles domain.ProfileRepo,
	scores domain.ScoreRepo,
	messages domain.MessageRepo,
	actionRepo domain.ActionRepo,
	offers domain.OfferRepo,
	mailer domain.Mailer,
	strategies []TypeStrategy,
	terms OfferTerms,
	processLimit int,
	log zerolog.Logger,
) *Service {
	byType := make(map[domain.ActionType]TypeStrategy, len(strategies))
	for _, strategy := range strategies {
		byType[strategy.Type()] = strategy
	}
	if processLimit <= 0 {
		processLimit = 100
	}
	return &Service{
		profiles:   profiles,
		scores:     scores,
		messages:   messages,
		actions:    actionRepo,
		offers:     offers,
		mailer:     mailer,
		strategies: byType,
		terms:      terms,
		limit:      processLimit,
		log:        log,
		now:        time.Now,
	}
}

// WithClock подменяет источник времени в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Schedule проверяет кулдаун, порог оценки и активные предложения,
// после чего создаёт PENDING-действие. Несработавшая проверка — это
// пропуск с причиной, а не ошибка.
func (s *Service) Schedule(ctx context.Context, creatorID, fanID string, typ domain.ActionType) (domain.ScheduleResult, error) {
	strategy, ok := s.strategies[typ]
	if !ok {
		return domain.ScheduleResult{}, fmt.Errorf("%w: unknown action type %q", domain.ErrValidation, typ)
	}
	if creatorID == "" || fanID == "" {
		return domain.ScheduleResult{}, fmt.Errorf("%w: creator and fan ids are required", domain.ErrValidation)
	}
	now := s.now().UTC()

	profile, err := s.profiles.GetProfile(ctx, creatorID, fanID)
	if errors.Is(err, domain.ErrFanNotFound) {
		return s.skip(typ, domain.SkipFanNotFound), nil
	}
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("чтение профиля: %w", err)
	}

	last, err := s.actions.LastActionTime(ctx, creatorID, fanID, typ)
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("проверка кулдауна: %w", err)
	}
	if last != nil && now.Sub(*last) < strategy.Cooldown() {
		return s.skip(typ, domain.SkipCooldown), nil
	}

	score, err := s.scores.GetScore(ctx, creatorID, fanID)
	if errors.Is(err, domain.ErrScoreNotFound) {
		// ни разу не оценённый фанат порог не проходит
		return s.skip(typ, domain.SkipLowScore), nil
	}
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("чтение оценки: %w", err)
	}

	snap := Snapshot{Profile: profile, Score: score}
	if ok, reason := strategy.Eligible(snap, now); !ok {
		return s.skip(typ, reason), nil
	}

	if strategy.Channel() == domain.ChannelDirect {
		conv, err := s.messages.ActiveConversation(ctx, creatorID, fanID)
		if errors.Is(err, domain.ErrConversationNotFound) || (err == nil && !conv.Active) {
			return s.skip(typ, domain.SkipNoConversation), nil
		}
		if err != nil {
			return domain.ScheduleResult{}, fmt.Errorf("проверка диалога: %w", err)
		}
	}

	if strategy.Redeemable() {
		active, err := s.actions.HasActiveOffer(ctx, creatorID, fanID)
		if err != nil {
			return domain.ScheduleResult{}, fmt.Errorf("проверка активных предложений: %w", err)
		}
		if active {
			return s.skip(typ, domain.SkipActiveOffer), nil
		}
		snap.Offer = s.draftOffer(creatorID, fanID, now)
	}

	payload, err := strategy.Payload(ctx, snap)
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("генерация содержимого: %w", err)
	}

	action := domain.ScheduledAction{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		FanID:       fanID,
		Type:        typ,
		Channel:     strategy.Channel(),
		ScheduledAt: strategy.Delay(snap, now),
		Payload:     payload,
		Status:      domain.ActionPending,
		CreatedAt:   now,
	}
	created, err := s.actions.CreateAction(ctx, action)
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("сохранение действия: %w", err)
	}

	result := domain.ScheduleResult{Scheduled: true, Action: &created}
	if snap.Offer != nil {
		snap.Offer.ActionID = created.ID
		offer, err := s.offers.CreateOffer(ctx, *snap.Offer)
		if err != nil {
			return domain.ScheduleResult{}, fmt.Errorf("сохранение предложения: %w", err)
		}
		result.Offer = &offer
	}
	metrics.ActionsScheduledTotal.WithLabelValues(string(typ)).Inc()
	return result, nil
}

func (s *Service) skip(typ domain.ActionType, reason domain.SkipReason) domain.ScheduleResult {
	metrics.ActionsSkippedTotal.WithLabelValues(string(typ), string(reason)).Inc()
	return domain.ScheduleResult{Skip: reason}
}

func (s *Service) draftOffer(creatorID, fanID string, now time.Time) *domain.DiscountOffer {
	price := s.terms.BasePrice
	discounted := price - price*int64(s.terms.DiscountPercent)/100
	return &domain.DiscountOffer{
		ID:              uuid.NewString(),
		Code:            offerCode(),
		CreatorID:       creatorID,
		FanID:           fanID,
		DiscountPercent: s.terms.DiscountPercent,
		OriginalPrice:   price,
		DiscountedPrice: discounted,
		Status:          domain.OfferActive,
		ExpiresAt:       now.Add(s.terms.TTL),
		CreatedAt:       now,
	}
}

func offerCode() string {
	return "SALE-" + strings.ToUpper(uuid.NewString()[:8])
}

// ProcessReport — итог одного прохода обработки.
type ProcessReport struct {
	Claimed   int
	Sent      int
	Cancelled int
	Failed    int
}

// ProcessDue забирает наступившие PENDING-действия и выполняет их.
// Захват — атомарный CAS pending→processing, поэтому пересекающиеся
// запуски свипа не отправят одно действие дважды. Сбой отправки
// опускает только одно действие, проход продолжается.
func (s *Service) ProcessDue(ctx context.Context) (ProcessReport, error) {
	now := s.now().UTC()
	due, err := s.actions.ListDue(ctx, now, s.limit)
	if err != nil {
		return ProcessReport{}, fmt.Errorf("выборка наступивших действий: %w", err)
	}

	var report ProcessReport
	for _, action := range due {
		claimed, err := s.actions.ClaimAction(ctx, action.ID, domain.ActionPending, domain.ActionProcessing)
		if err != nil {
			s.log.Error().Err(err).Str("action", action.ID).Msg("actions: захват действия не удался")
			continue
		}
		if !claimed {
			// действие уже забрал параллельный проход
			continue
		}
		report.Claimed++

		status := s.processOne(ctx, action)
		switch status {
		case domain.ActionSent:
			report.Sent++
		case domain.ActionCancelled:
			report.Cancelled++
		case domain.ActionFailed:
			report.Failed++
		}
		metrics.ActionsProcessedTotal.WithLabelValues(string(action.Type), string(status)).Inc()
	}
	return report, nil
}

// processOne перепроверяет контекст, отправляет и закрывает действие.
func (s *Service) processOne(ctx context.Context, action domain.ScheduledAction) domain.ActionStatus {
	now := s.now().UTC()

	if action.Channel == domain.ChannelDirect {
		conv, err := s.messages.ActiveConversation(ctx, action.CreatorID, action.FanID)
		if err != nil || !conv.Active {
			s.finish(ctx, action.ID, domain.ActionCancelled, "conversation is gone", now)
			return domain.ActionCancelled
		}
	}

	if err := s.mailer.Send(ctx, action.FanID, action.Payload.Subject, action.Payload.Body); err != nil {
		s.finish(ctx, action.ID, domain.ActionFailed, err.Error(), now)
		return domain.ActionFailed
	}
	s.finish(ctx, action.ID, domain.ActionSent, "", now)
	return domain.ActionSent
}

func (s *Service) finish(ctx context.Context, id string, status domain.ActionStatus, errText string, at time.Time) {
	if err := s.actions.FinishAction(ctx, id, status, errText, at); err != nil {
		s.log.Error().Err(err).Str("action", id).Str("status", string(status)).Msg("actions: запись итога не удалась")
	}
}

// SweepReminders шлёт одно напоминание по предложениям, подходящим к
// дедлайну. Одноразовость гарантирует CAS-флаг reminderSent.
func (s *Service) SweepReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	offers, err := s.offers.ListOffersNearDeadline(ctx, now, s.terms.ReminderWindow, s.limit)
	if err != nil {
		return 0, fmt.Errorf("выборка предложений у дедлайна: %w", err)
	}

	sent := 0
	for _, offer := range offers {
		ok, err := s.offers.MarkReminderSent(ctx, offer.ID)
		if err != nil {
			s.log.Error().Err(err).Str("offer", offer.ID).Msg("actions: взведение флага напоминания не удалось")
			continue
		}
		if !ok {
			continue
		}
		left := offer.ExpiresAt.Sub(now).Round(time.Minute)
		body := fmt.Sprintf("Your discount code %s expires in %s. Don't miss it.", offer.Code, left)
		if err := s.mailer.Send(ctx, offer.FanID, "Your offer is about to expire", body); err != nil {
			// флаг уже взведён: напоминание at-most-once
			s.log.Error().Err(err).Str("offer", offer.ID).Msg("actions: отправка напоминания не удалась")
			continue
		}
		sent++
	}
	return sent, nil
}

// SweepExpiry переводит просроченные активные предложения в expired
// и закрывает их действия: несработавшая распродажа умирает целиком,
// и в pending (не успели отправить), и в sent (не конвертировалась).
func (s *Service) SweepExpiry(ctx context.Context) (int, error) {
	actionIDs, err := s.offers.ExpireDueOffers(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("истечение предложений: %w", err)
	}
	for _, actionID := range actionIDs {
		for _, from := range []domain.ActionStatus{domain.ActionSent, domain.ActionPending} {
			ok, err := s.actions.ClaimAction(ctx, actionID, from, domain.ActionExpired)
			if err != nil {
				s.log.Warn().Err(err).Str("action", actionID).Msg("actions: не удалось закрыть действие просроченного предложения")
				break
			}
			if ok {
				break
			}
		}
	}
	if len(actionIDs) > 0 {
		metrics.OffersExpiredTotal.Add(float64(len(actionIDs)))
	}
	return len(actionIDs), nil
}

// Redeem гасит предложение по коду. Различимые исходы: не найдено,
// не активно, чужой код, просрочено. Статистика автора обновляется
// атомарно со сменой статуса в репозитории.
func (s *Service) Redeem(ctx context.Context, code, fanID string) (domain.DiscountOffer, error) {
	if code == "" || fanID == "" {
		return domain.DiscountOffer{}, fmt.Errorf("%w: code and fan id are required", domain.ErrValidation)
	}
	offer, err := s.offers.RedeemOffer(ctx, code, fanID, s.now().UTC())
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	metrics.OffersRedeemedTotal.Inc()
	if offer.ActionID != "" {
		s.markConverted(ctx, offer.ActionID)
	}
	return offer, nil
}

// markConverted двигает воронку действия в converted из любого
// достижимого состояния. Отказ не фатален: погашение уже состоялось.
func (s *Service) markConverted(ctx context.Context, actionID string) {
	for _, from := range []domain.ActionStatus{domain.ActionClicked, domain.ActionOpened, domain.ActionSent} {
		ok, err := s.actions.AdvanceFunnel(ctx, actionID, from, domain.ActionConverted)
		if err != nil {
			s.log.Error().Err(err).Str("action", actionID).Msg("actions: перевод воронки в converted не удался")
			return
		}
		if ok {
			return
		}
	}
}

// MarkOpened фиксирует открытие отправленного действия.
func (s *Service) MarkOpened(ctx context.Context, actionID string) error {
	return s.advance(ctx, actionID, domain.ActionOpened, domain.ActionSent)
}

// MarkClicked фиксирует клик. Шаг opened необязателен.
func (s *Service) MarkClicked(ctx context.Context, actionID string) error {
	return s.advance(ctx, actionID, domain.ActionClicked, domain.ActionOpened, domain.ActionSent)
}

func (s *Service) advance(ctx context.Context, actionID string, to domain.ActionStatus, candidates ...domain.ActionStatus) error {
	if _, err := s.actions.GetAction(ctx, actionID); err != nil {
		return err
	}
	for _, from := range candidates {
		ok, err := s.actions.AdvanceFunnel(ctx, actionID, from, to)
		if err != nil {
			return fmt.Errorf("перевод воронки: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: action %s cannot move to %s", domain.ErrConflict, actionID, to)
}

// Stats возвращает агрегированную статистику предложений автора.
func (s *Service) Stats(ctx context.Context, creatorID string) (domain.OfferStats, error) {
	if creatorID == "" {
		return domain.OfferStats{}, fmt.Errorf("%w: creator id is required", domain.ErrValidation)
	}
	return s.offers.GetOfferStats(ctx, creatorID)
}
