package domain

import "time"

// FanProfile описывает состояние пары фанат+автор.
// Все запросы в системе секционируются ключом (CreatorID, FanID).
type FanProfile struct {
	CreatorID     string
	FanID         string
	TotalSpent    int64
	LastSeenAt    *time.Time
	SpendingTier  SpendingTier
	Language      string
	ActivityLevel string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SpendingTier — ступень трат фаната за всё время.
type SpendingTier string

const (
	TierNone  SpendingTier = "none"
	TierLow   SpendingTier = "low"
	TierMid   SpendingTier = "mid"
	TierHigh  SpendingTier = "high"
	TierWhale SpendingTier = "whale"
)

// ScoreFactor — одна поправка к под-оценке, пригодная для аудита.
type ScoreFactor struct {
	Name        string  `json:"name"`
	Impact      int     `json:"impact"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// LeadScore — составная оценка монетизационного потенциала фаната.
// Пересчитывается целиком: частичных обновлений не бывает.
type LeadScore struct {
	CreatorID           string        `json:"creator_id"`
	FanID               string        `json:"fan_id"`
	Overall             int           `json:"overall"`
	Engagement          int           `json:"engagement"`
	Spending            int           `json:"spending"`
	Intent              int           `json:"intent"`
	Recency             int           `json:"recency"`
	Factors             []ScoreFactor `json:"factors"`
	PredictedLTV        int64         `json:"predicted_ltv"`
	PurchaseProbability float64       `json:"purchase_probability"`
	ChurnRisk           float64       `json:"churn_risk"`
	LastCalculatedAt    time.Time     `json:"last_calculated_at"`
}

// Conversation — активный диалог фаната с автором (читается из внешнего стора).
type Conversation struct {
	ID        string
	CreatorID string
	FanID     string
	Active    bool
	UpdatedAt time.Time
}

// Message — сообщение диалога.
type Message struct {
	ID             string
	ConversationID string
	CreatorID      string
	FanID          string
	FromFan        bool
	Text           string
	SentAt         time.Time
}

// CreditAccount — баланс кредитов пары фанат+автор.
// Поле Balance всегда равно сумме всех транзакций счёта.
type CreditAccount struct {
	CreatorID string    `json:"creator_id"`
	FanID     string    `json:"fan_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionType — бизнесовая причина движения кредитов.
type TransactionType string

const (
	TxnGrant      TransactionType = "grant"
	TxnRecurring  TransactionType = "recurring_grant"
	TxnSpend      TransactionType = "spend"
	TxnUnlock     TransactionType = "unlock"
	TxnExpiration TransactionType = "expiration"
)

// CreditTransaction — неизменяемая строка журнала кредитов.
// ResultingBalance позволяет восстановить журнал без поля Balance на счёте.
type CreditTransaction struct {
	ID               string          `json:"id"`
	CreatorID        string          `json:"creator_id"`
	FanID            string          `json:"fan_id"`
	Amount           int64           `json:"amount"`
	ResultingBalance int64           `json:"resulting_balance"`
	Type             TransactionType `json:"type"`
	Description      string          `json:"description,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	SubscriptionID   string          `json:"subscription_id,omitempty"`
	MediaID          string          `json:"media_id,omitempty"`
	MessageID        string          `json:"message_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// RecurringGrant — расписание регулярного начисления кредитов.
type RecurringGrant struct {
	ID           string
	CreatorID    string
	FanID        string
	Amount       int64
	IntervalDays int
	NextGrantAt  time.Time
	CreatedAt    time.Time
}

// MediaItem — единица контента с тегами доступа.
// Движок читает теги, но никогда их не меняет.
type MediaItem struct {
	ID            string
	CreatorID     string
	IsFree        bool
	IsVIP         bool
	IsPPV         bool
	UnlockPrice   int64
	PurchaseCount int64
	CreatedAt     time.Time
}

// Purchase — факт разовой покупки контента.
type Purchase struct {
	ID        string
	CreatorID string
	FanID     string
	MediaID   string
	Price     int64
	CreatedAt time.Time
}

// Subscription — активная подписка фаната с конфигурацией регулярных кредитов.
type Subscription struct {
	ID               string
	CreatorID        string
	FanID            string
	Tier             string
	IsVIP            bool
	RecurringCredits int64
	ExpiresAt        time.Time
}

// Active сообщает, действует ли подписка на момент now.
func (s Subscription) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
