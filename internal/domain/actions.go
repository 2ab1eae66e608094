package domain

import (
	"fmt"
	"time"
)

// ActionType — семейство автоматического действия.
type ActionType string

const (
	// ActionBump — автоматическое напоминание о себе в диалоге.
	ActionBump ActionType = "bump"
	// ActionFlashSale — ограниченное по времени предложение со скидкой.
	ActionFlashSale ActionType = "flash_sale"
	// ActionReengage — кампания возврата остывшего фаната.
	ActionReengage ActionType = "reengage"
)

// ActionChannel — канал доставки действия.
type ActionChannel string

const (
	ChannelDirect ActionChannel = "dm"
	ChannelEmail  ActionChannel = "email"
)

// ActionStatus — состояние запланированного действия.
// Машина состояний строго однонаправленная: возврата в pending не бывает.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionProcessing ActionStatus = "processing"
	ActionSent       ActionStatus = "sent"
	ActionOpened     ActionStatus = "opened"
	ActionClicked    ActionStatus = "clicked"
	ActionConverted  ActionStatus = "converted"
	ActionCancelled  ActionStatus = "cancelled"
	ActionFailed     ActionStatus = "failed"
	ActionExpired    ActionStatus = "expired"
)

// actionTransitions перечисляет допустимые переходы.
var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionPending:    {ActionProcessing, ActionExpired},
	ActionProcessing: {ActionSent, ActionCancelled, ActionFailed},
	ActionSent:       {ActionOpened, ActionClicked, ActionConverted, ActionExpired},
	ActionOpened:     {ActionClicked, ActionConverted},
	ActionClicked:    {ActionConverted},
}

// CanTransition проверяет допустимость перехода статуса.
func CanTransition(from, to ActionStatus) bool {
	for _, next := range actionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, является ли статус конечным для свипов.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCancelled, ActionFailed, ActionExpired:
		return true
	}
	return false
}

// ActionPayload — подготовленное содержимое действия.
type ActionPayload struct {
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	OfferCode string `json:"offer_code,omitempty"`
	Source    string `json:"source"`
}

// Источники полезной нагрузки действия.
const (
	PayloadSourceTemplate = "template"
	PayloadSourceLLM      = "llm"
)

// ScheduledAction — отложенное действие жизненного цикла фаната.
type ScheduledAction struct {
	ID          string        `json:"id"`
	CreatorID   string        `json:"creator_id"`
	FanID       string        `json:"fan_id"`
	Type        ActionType    `json:"type"`
	Channel     ActionChannel `json:"channel"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Payload     ActionPayload `json:"payload"`
	Status      ActionStatus  `json:"status"`
	Error       string        `json:"error,omitempty"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CooldownKey идентифицирует окно кулдауна действия.
func (a ScheduledAction) CooldownKey() string {
	return fmt.Sprintf("%s:%s:%s", a.CreatorID, a.FanID, a.Type)
}

// OfferStatus — состояние скидочного предложения.
type OfferStatus string

const (
	OfferActive   OfferStatus = "active"
	OfferRedeemed OfferStatus = "redeemed"
	OfferExpired  OfferStatus = "expired"
)

// DiscountOffer — ограниченное по времени предложение для одного фаната.
// Статусы redeemed и expired конечные, повторное использование невозможно.
type DiscountOffer struct {
	ID              string      `json:"id"`
	Code            string      `json:"code"`
	CreatorID       string      `json:"creator_id"`
	FanID           string      `json:"fan_id"`
	ActionID        string      `json:"action_id,omitempty"`
	DiscountPercent int         `json:"discount_percent"`
	OriginalPrice   int64       `json:"original_price"`
	DiscountedPrice int64       `json:"discounted_price"`
	Status          OfferStatus `json:"status"`
	ExpiresAt       time.Time   `json:"expires_at"`
	ReminderSent    bool        `json:"reminder_sent"`
	RedeemedAt      *time.Time  `json:"redeemed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Savings возвращает размер скидки предложения.
func (o DiscountOffer) Savings() int64 {
	return o.OriginalPrice - o.DiscountedPrice
}

// OfferStats — агрегированная статистика предложений автора.
type OfferStats struct {
	CreatorID string `json:"creator_id"`
	Purchases int64  `json:"purchases"`
	Revenue   int64  `json:"revenue"`
	Savings   int64  `json:"savings"`
}

// SkipReason объясняет, почему действие не было запланировано.
// Пропуск — ожидаемый исход, а не ошибка.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipCooldown       SkipReason = "cooldown_active"
	SkipLowScore       SkipReason = "score_below_threshold"
	SkipActiveOffer    SkipReason = "active_offer_exists"
	SkipNoConversation SkipReason = "no_conversation"
	SkipFanNotFound    SkipReason = "fan_not_found"
	SkipRecentlyActive SkipReason = "fan_recently_active"
)

// ScheduleResult — итог попытки планирования.
type ScheduleResult struct {
	Scheduled bool             `json:"scheduled"`
	Skip      SkipReason       `json:"skip_reason,omitempty"`
	Action    *ScheduledAction `json:"action,omitempty"`
	Offer     *DiscountOffer   `json:"offer,omitempty"`
}
