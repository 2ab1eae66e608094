package domain

import (
	"context"
	"time"
)

// ProfileRepo управляет профилями пар фанат+автор.
type ProfileRepo interface {
	GetProfile(ctx context.Context, creatorID, fanID string) (FanProfile, error)
	UpsertProfile(ctx context.Context, profile FanProfile) (FanProfile, error)
	TouchLastSeen(ctx context.Context, creatorID, fanID string, at time.Time) error
	// ListLeastRecentlyScored возвращает профили, отсортированные по давности оценки.
	ListLeastRecentlyScored(ctx context.Context, creatorID string, limit int) ([]FanProfile, error)
}

// ScoreRepo хранит рассчитанные оценки фанатов.
type ScoreRepo interface {
	UpsertScore(ctx context.Context, score LeadScore) error
	GetScore(ctx context.Context, creatorID, fanID string) (LeadScore, error)
}

// MessageRepo — читающая сторона внешнего стора сообщений.
type MessageRepo interface {
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	CountFanMessages(ctx context.Context, creatorID, fanID string, since time.Time) (int, error)
	// AverageFanResponseLatency возвращает среднее время ответа фаната.
	// Второй результат false, если ответов за период не было.
	AverageFanResponseLatency(ctx context.Context, creatorID, fanID string, since time.Time) (time.Duration, bool, error)
	ListRecentFanMessages(ctx context.Context, creatorID, fanID string, limit int) ([]Message, error)
	ActiveConversation(ctx context.Context, creatorID, fanID string) (Conversation, error)
}

// ActionRepo управляет запланированными действиями.
type ActionRepo interface {
	CreateAction(ctx context.Context, action ScheduledAction) (ScheduledAction, error)
	GetAction(ctx context.Context, id string) (ScheduledAction, error)
	// LastActionTime возвращает время последнего действия заданного типа
	// для пары фанат+автор либо nil, если действий не было.
	LastActionTime(ctx context.Context, creatorID, fanID string, typ ActionType) (*time.Time, error)
	HasActiveOffer(ctx context.Context, creatorID, fanID string) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledAction, error)
	// ClaimAction атомарно переводит действие из from в to.
	// Возвращает false, если действие уже покинуло состояние from.
	ClaimAction(ctx context.Context, id string, from, to ActionStatus) (bool, error)
	FinishAction(ctx context.Context, id string, status ActionStatus, errText string, at time.Time) error
	AdvanceFunnel(ctx context.Context, id string, from, to ActionStatus) (bool, error)
}

// OfferRepo управляет скидочными предложениями и их статистикой.
type OfferRepo interface {
	CreateOffer(ctx context.Context, offer DiscountOffer) (DiscountOffer, error)
	GetOfferByCode(ctx context.Context, code string) (DiscountOffer, error)
	// RedeemOffer атомарно гасит предложение и обновляет статистику автора.
	// Просроченное предложение попутно переводится в expired.
	RedeemOffer(ctx context.Context, code, fanID string, now time.Time) (DiscountOffer, error)
	ListOffersNearDeadline(ctx context.Context, now time.Time, window time.Duration, limit int) ([]DiscountOffer, error)
	// MarkReminderSent взводит одноразовый флаг напоминания.
	MarkReminderSent(ctx context.Context, id string) (bool, error)
	// ExpireDueOffers переводит просроченные активные предложения в expired
	// и возвращает id связанных действий, чтобы вызывающий закрыл их воронки.
	ExpireDueOffers(ctx context.Context, now time.Time) ([]string, error)
	GetOfferStats(ctx context.Context, creatorID string) (OfferStats, error)
}

// LedgerRepo управляет счетами и журналом кредитов.
type LedgerRepo interface {
	EnsureAccount(ctx context.Context, creatorID, fanID string) (CreditAccount, error)
	GetAccount(ctx context.Context, creatorID, fanID string) (CreditAccount, error)
	// ApplyTransaction атомарно меняет баланс и добавляет строку журнала.
	// Списание сверх баланса отклоняется с ErrInsufficientFunds без побочных эффектов.
	ApplyTransaction(ctx context.Context, txn CreditTransaction) (CreditTransaction, error)
	ListTransactions(ctx context.Context, creatorID, fanID string, limit int) ([]CreditTransaction, error)
	// ListExpiredGrants возвращает необработанные начисления с истёкшим сроком.
	ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]CreditTransaction, error)
	// ApplyExpiration помечает начисления обработанными и списывает
	// min(сумма только что помеченных, баланс), записывая строку expiration.
	// Уже обработанные параллельным свипом строки в сумму не входят,
	// повторный вызов — no-op.
	ApplyExpiration(ctx context.Context, creatorID, fanID string, grantIDs []string) (int64, error)
	ListDueRecurringGrants(ctx context.Context, now time.Time, limit int) ([]RecurringGrant, error)
	// AdvanceRecurringGrant сдвигает nextGrantAt строго от ожидаемого значения.
	AdvanceRecurringGrant(ctx context.Context, id string, from, next time.Time) (bool, error)
}

// MediaRepo — читающая сторона каталога контента.
type MediaRepo interface {
	GetMedia(ctx context.Context, creatorID, mediaID string) (MediaItem, error)
	ListMedia(ctx context.Context, creatorID string, ids []string) ([]MediaItem, error)
}

// PurchaseRepo хранит покупки контента.
type PurchaseRepo interface {
	HasPurchase(ctx context.Context, creatorID, fanID, mediaID string) (bool, error)
	ListPurchasedMedia(ctx context.Context, creatorID, fanID string, mediaIDs []string) (map[string]bool, error)
	SpentSince(ctx context.Context, creatorID, fanID string, since time.Time) (int64, error)
}

// UnlockParams — параметры атомарной разблокировки контента.
type UnlockParams struct {
	CreatorID string
	FanID     string
	MediaID   string
	Price     int64
	OfferCode string
}

// UnlockRepo выполняет списание, запись покупки, инкремент счётчика
// и погашение кода скидки (если передан) одной транзакцией. Код
// сужается до офферов автора контента, скидка применяется к Price
// внутри транзакции. Частичное выполнение невозможно: отказ по
// балансу откатывает и погашение кода.
type UnlockRepo interface {
	UnlockMedia(ctx context.Context, params UnlockParams) (UnlockResult, error)
}

// SubscriptionRepo — читающая сторона стора подписок.
type SubscriptionRepo interface {
	// ActiveSubscription возвращает nil без ошибки, если активной подписки нет.
	ActiveSubscription(ctx context.Context, creatorID, fanID string, now time.Time) (*Subscription, error)
}

// Mailer — провайдер-агностичный шлюз исходящих сообщений.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PayloadRequest — запрос на генерацию содержимого действия.
type PayloadRequest struct {
	Type      ActionType
	Language  string
	FanName   string
	Creator   string
	Variables map[string]string
}

// PayloadGenerator строит содержимое действия.
type PayloadGenerator interface {
	Generate(ctx context.Context, req PayloadRequest) (ActionPayload, error)
}

// IntentSignal — результат анализа намерений в переписке.
type IntentSignal struct {
	HighMatches      []string
	MediumMatches    []string
	LowMatches       []string
	AskedAboutLocked bool
}

// IntentDetector извлекает сигналы намерений из сообщений.
// Эвристика заменяемая: планировщик зависит только от интерфейса.
type IntentDetector interface {
	Detect(messages []Message) IntentSignal
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
