package actions

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"fanpilot/internal/domain"
)

// Snapshot — данные пары фанат+автор на момент планирования.
// Для погашаемых типов содержит черновик предложения.
type Snapshot struct {
	Profile domain.FanProfile
	Score   domain.LeadScore
	Offer   *domain.DiscountOffer
}

// TypeStrategy параметризует семейство действий: проверку пригодности,
// стратегию задержки и генерацию полезной нагрузки.
type TypeStrategy interface {
	Type() domain.ActionType
	Channel() domain.ActionChannel
	Cooldown() time.Duration
	// Redeemable сообщает, создаёт ли действие скидочное предложение.
	Redeemable() bool
	Eligible(snap Snapshot, now time.Time) (bool, domain.SkipReason)
	Delay(snap Snapshot, now time.Time) time.Time
	Payload(ctx context.Context, snap Snapshot) (domain.ActionPayload, error)
}

const bumpDelay = 30 * time.Minute

// BumpStrategy — напоминание о себе с фиксированной задержкой.
type BumpStrategy struct {
	minScore  int
	cooldown  time.Duration
	generator domain.PayloadGenerator
}

// NewBumpStrategy создаёт стратегию напоминаний.
func NewBumpStrategy(minScore int, cooldown time.Duration, generator domain.PayloadGenerator) *BumpStrategy {
	return &BumpStrategy{minScore: minScore, cooldown: cooldown, generator: generator}
}

func (s *BumpStrategy) Type() domain.ActionType       { return domain.ActionBump }
func (s *BumpStrategy) Channel() domain.ActionChannel { return domain.ChannelDirect }
func (s *BumpStrategy) Cooldown() time.Duration       { return s.cooldown }
func (s *BumpStrategy) Redeemable() bool              { return false }

func (s *BumpStrategy) Eligible(snap Snapshot, _ time.Time) (bool, domain.SkipReason) {
	if snap.Score.Overall < s.minScore {
		return false, domain.SkipLowScore
	}
	return true, domain.SkipNone
}

func (s *BumpStrategy) Delay(_ Snapshot, now time.Time) time.Time {
	return now.Add(bumpDelay)
}

func (s *BumpStrategy) Payload(ctx context.Context, snap Snapshot) (domain.ActionPayload, error) {
	return s.generator.Generate(ctx, domain.PayloadRequest{
		Type:     domain.ActionBump,
		Language: snap.Profile.Language,
		FanName:  snap.Profile.FanID,
		Creator:  snap.Profile.CreatorID,
	})
}

const (
	flashSaleBaseDelay = time.Hour
	flashSaleMaxJitter = 2 * time.Hour
)

// FlashSaleStrategy — ограниченное по времени предложение со скидкой.
// Задержка джиттерится, чтобы рассылка не выглядела автоматической.
type FlashSaleStrategy struct {
	minScore  int
	cooldown  time.Duration
	offerTTL  time.Duration
	generator domain.PayloadGenerator
}

// NewFlashSaleStrategy создаёт стратегию флеш-распродаж.
func NewFlashSaleStrategy(minScore int, cooldown, offerTTL time.Duration, generator domain.PayloadGenerator) *FlashSaleStrategy {
	return &FlashSaleStrategy{minScore: minScore, cooldown: cooldown, offerTTL: offerTTL, generator: generator}
}

func (s *FlashSaleStrategy) Type() domain.ActionType       { return domain.ActionFlashSale }
func (s *FlashSaleStrategy) Channel() domain.ActionChannel { return domain.ChannelDirect }
func (s *FlashSaleStrategy) Cooldown() time.Duration       { return s.cooldown }
func (s *FlashSaleStrategy) Redeemable() bool              { return true }

func (s *FlashSaleStrategy) Eligible(snap Snapshot, _ time.Time) (bool, domain.SkipReason) {
	if snap.Score.Overall < s.minScore {
		return false, domain.SkipLowScore
	}
	return true, domain.SkipNone
}

func (s *FlashSaleStrategy) Delay(_ Snapshot, now time.Time) time.Time {
	return now.Add(flashSaleBaseDelay + time.Duration(rand.Int63n(int64(flashSaleMaxJitter))))
}

func (s *FlashSaleStrategy) Payload(ctx context.Context, snap Snapshot) (domain.ActionPayload, error) {
	vars := map[string]string{}
	if snap.Offer != nil {
		vars["offer_code"] = snap.Offer.Code
		vars["discount"] = strconv.Itoa(snap.Offer.DiscountPercent)
		vars["hours"] = strconv.Itoa(int(s.offerTTL / time.Hour))
	}
	return s.generator.Generate(ctx, domain.PayloadRequest{
		Type:      domain.ActionFlashSale,
		Language:  snap.Profile.Language,
		FanName:   snap.Profile.FanID,
		Creator:   snap.Profile.CreatorID,
		Variables: vars,
	})
}

const (
	reengageMinIdle   = 7 * 24 * time.Hour
	reengageColdIdle  = 30 * 24 * time.Hour
	reengageWarmDelay = 24 * time.Hour
	reengageColdDelay = time.Hour
)

// ReengageStrategy — возврат остывшего фаната. Задержка вычисляется
// по давности последнего визита: чем холоднее фанат, тем раньше письмо.
type ReengageStrategy struct {
	minScore  int
	cooldown  time.Duration
	generator domain.PayloadGenerator
}

// NewReengageStrategy создаёт стратегию возврата.
func NewReengageStrategy(minScore int, cooldown time.Duration, generator domain.PayloadGenerator) *ReengageStrategy {
	return &ReengageStrategy{minScore: minScore, cooldown: cooldown, generator: generator}
}

func (s *ReengageStrategy) Type() domain.ActionType       { return domain.ActionReengage }
func (s *ReengageStrategy) Channel() domain.ActionChannel { return domain.ChannelEmail }
func (s *ReengageStrategy) Cooldown() time.Duration       { return s.cooldown }
func (s *ReengageStrategy) Redeemable() bool              { return false }

func (s *ReengageStrategy) Eligible(snap Snapshot, now time.Time) (bool, domain.SkipReason) {
	if snap.Score.Overall < s.minScore {
		return false, domain.SkipLowScore
	}
	if snap.Profile.LastSeenAt != nil && now.Sub(*snap.Profile.LastSeenAt) < reengageMinIdle {
		return false, domain.SkipRecentlyActive
	}
	return true, domain.SkipNone
}

// Delay учитывает давность визита конкретного фаната.
func (s *ReengageStrategy) Delay(snap Snapshot, now time.Time) time.Time {
	if snap.Profile.LastSeenAt != nil && now.Sub(*snap.Profile.LastSeenAt) >= reengageColdIdle {
		return now.Add(reengageColdDelay)
	}
	return now.Add(reengageWarmDelay)
}

func (s *ReengageStrategy) Payload(ctx context.Context, snap Snapshot) (domain.ActionPayload, error) {
	return s.generator.Generate(ctx, domain.PayloadRequest{
		Type:     domain.ActionReengage,
		Language: snap.Profile.Language,
		FanName:  snap.Profile.FanID,
		Creator:  snap.Profile.CreatorID,
	})
}
