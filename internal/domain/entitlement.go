package domain

// AccessReason объясняет решение о доступе к контенту.
type AccessReason string

const (
	ReasonFree                 AccessReason = "free"
	ReasonPurchased            AccessReason = "purchased"
	ReasonSubscribed           AccessReason = "subscribed"
	ReasonLoginRequired        AccessReason = "login_required"
	ReasonVIPRequired          AccessReason = "vip_required"
	ReasonPPVLocked            AccessReason = "ppv_locked"
	ReasonSubscriptionRequired AccessReason = "subscription_required"
)

// AccessDecision — разрешённый или отклонённый доступ с причиной.
// Для ppv_locked UnlockPrice содержит цену разблокировки.
type AccessDecision struct {
	Allowed     bool         `json:"allowed"`
	Reason      AccessReason `json:"reason"`
	UnlockPrice int64        `json:"unlock_price,omitempty"`
}

// UnlockResult — итог атомарной разблокировки контента.
type UnlockResult struct {
	Purchase    Purchase          `json:"purchase"`
	Transaction CreditTransaction `json:"transaction"`
	Balance     int64             `json:"balance"`
}
