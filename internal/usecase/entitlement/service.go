package entitlement

import (
	"context"
	"fmt"
	"time"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// Identity — вызывающая сторона проверки доступа. Пустой FanID
// означает анонимный запрос.
type Identity struct {
	FanID string
}

// Anonymous сообщает, что личность не установлена.
func (i Identity) Anonymous() bool { return i.FanID == "" }

// Service — резолвер прав доступа к контенту. Правила применяются
// строго по приоритету, побеждает первое совпадение.
type Service struct {
	media         domain.MediaRepo
	purchases     domain.PurchaseRepo
	subscriptions domain.SubscriptionRepo
	unlocks       domain.UnlockRepo
	defaultPrice  int64

	now func() time.Time
}

// NewService создаёт резолвер.
func NewService(
	media domain.MediaRepo,
	purchases domain.PurchaseRepo,
	subscriptions domain.SubscriptionRepo,
	unlocks domain.UnlockRepo,
	defaultPrice int64,
) *Service {
	return &Service{
		media:         media,
		purchases:     purchases,
		subscriptions: subscriptions,
		unlocks:       unlocks,
		defaultPrice:  defaultPrice,
		now:           time.Now,
	}
}

// WithClock подменяет источник времени в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CanAccess решает доступ к одной единице контента.
func (s *Service) CanAccess(ctx context.Context, creatorID, mediaID string, identity Identity) (domain.AccessDecision, error) {
	item, err := s.media.GetMedia(ctx, creatorID, mediaID)
	if err != nil {
		return domain.AccessDecision{}, err
	}

	var purchased bool
	var sub *domain.Subscription
	if !identity.Anonymous() {
		purchased, err = s.purchases.HasPurchase(ctx, creatorID, identity.FanID, item.ID)
		if err != nil {
			return domain.AccessDecision{}, fmt.Errorf("проверка покупки: %w", err)
		}
		sub, err = s.subscriptions.ActiveSubscription(ctx, creatorID, identity.FanID, s.now().UTC())
		if err != nil {
			return domain.AccessDecision{}, fmt.Errorf("проверка подписки: %w", err)
		}
	}

	decision := s.decide(item, identity, purchased, sub)
	metrics.EntitlementChecksTotal.WithLabelValues(string(decision.Reason)).Inc()
	return decision, nil
}

// CanAccessBatch решает доступ к набору контента одного автора.
// Состояние покупок и подписки читается одним префетчем, правила
// для каждой единицы те же, что в одиночной проверке.
func (s *Service) CanAccessBatch(ctx context.Context, creatorID string, mediaIDs []string, identity Identity) (map[string]domain.AccessDecision, error) {
	items, err := s.media.ListMedia(ctx, creatorID, mediaIDs)
	if err != nil {
		return nil, err
	}

	purchased := map[string]bool{}
	var sub *domain.Subscription
	if !identity.Anonymous() {
		purchased, err = s.purchases.ListPurchasedMedia(ctx, creatorID, identity.FanID, mediaIDs)
		if err != nil {
			return nil, fmt.Errorf("префетч покупок: %w", err)
		}
		sub, err = s.subscriptions.ActiveSubscription(ctx, creatorID, identity.FanID, s.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("проверка подписки: %w", err)
		}
	}

	decisions := make(map[string]domain.AccessDecision, len(items))
	for _, item := range items {
		decision := s.decide(item, identity, purchased[item.ID], sub)
		metrics.EntitlementChecksTotal.WithLabelValues(string(decision.Reason)).Inc()
		decisions[item.ID] = decision
	}
	return decisions, nil
}

// decide применяет правила доступа по приоритету.
func (s *Service) decide(item domain.MediaItem, identity Identity, purchased bool, sub *domain.Subscription) domain.AccessDecision {
	if item.IsFree {
		return domain.AccessDecision{Allowed: true, Reason: domain.ReasonFree}
	}
	if identity.Anonymous() {
		return domain.AccessDecision{Reason: domain.ReasonLoginRequired}
	}
	if purchased {
		return domain.AccessDecision{Allowed: true, Reason: domain.ReasonPurchased}
	}
	if item.IsVIP && (sub == nil || !sub.IsVIP) {
		// платная разблокировка остаётся запасным путём для VIP-контента
		if item.IsPPV {
			return domain.AccessDecision{Reason: domain.ReasonPPVLocked, UnlockPrice: s.unlockPrice(item)}
		}
		return domain.AccessDecision{Reason: domain.ReasonVIPRequired}
	}
	if item.IsPPV {
		return domain.AccessDecision{Reason: domain.ReasonPPVLocked, UnlockPrice: s.unlockPrice(item)}
	}
	if sub != nil {
		return domain.AccessDecision{Allowed: true, Reason: domain.ReasonSubscribed}
	}
	return domain.AccessDecision{Reason: domain.ReasonSubscriptionRequired}
}

func (s *Service) unlockPrice(item domain.MediaItem) int64 {
	if item.UnlockPrice > 0 {
		return item.UnlockPrice
	}
	return s.defaultPrice
}

// Unlock покупает платный контент за кредиты. Правила доступа
// перепроверяются в момент списания; списание, запись покупки,
// инкремент счётчика и погашение кода скидки выполняются одной
// транзакцией репозитория, так что отказ по балансу не сжигает код.
func (s *Service) Unlock(ctx context.Context, creatorID, mediaID string, identity Identity, offerCode string) (domain.UnlockResult, error) {
	if identity.Anonymous() {
		return domain.UnlockResult{}, fmt.Errorf("%w: fan id is required", domain.ErrValidation)
	}
	decision, err := s.CanAccess(ctx, creatorID, mediaID, identity)
	if err != nil {
		return domain.UnlockResult{}, err
	}
	if decision.Allowed {
		return domain.UnlockResult{}, fmt.Errorf("%w: media already accessible", domain.ErrConflict)
	}
	if decision.Reason != domain.ReasonPPVLocked {
		return domain.UnlockResult{}, fmt.Errorf("%w: media is not unlockable, reason %s", domain.ErrValidation, decision.Reason)
	}

	return s.unlocks.UnlockMedia(ctx, domain.UnlockParams{
		CreatorID: creatorID,
		FanID:     identity.FanID,
		MediaID:   mediaID,
		Price:     decision.UnlockPrice,
		OfferCode: offerCode,
	})
}
