package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ProfileRepo      = (*Postgres)(nil)
	_ domain.ScoreRepo        = (*Postgres)(nil)
	_ domain.MessageRepo      = (*Postgres)(nil)
	_ domain.ActionRepo       = (*Postgres)(nil)
	_ domain.OfferRepo        = (*Postgres)(nil)
	_ domain.LedgerRepo       = (*Postgres)(nil)
	_ domain.MediaRepo        = (*Postgres)(nil)
	_ domain.PurchaseRepo     = (*Postgres)(nil)
	_ domain.UnlockRepo       = (*Postgres)(nil)
	_ domain.SubscriptionRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetProfile возвращает профиль пары фанат+автор.
func (p *Postgres) GetProfile(ctx context.Context, creatorID, fanID string) (domain.FanProfile, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		profile  domain.FanProfile
		lastSeen sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT creator_id, fan_id, total_spent, last_seen_at, spending_tier, language, activity_level, created_at, updated_at
FROM fan_profiles WHERE creator_id=$1 AND fan_id=$2
`, creatorID, fanID).Scan(&profile.CreatorID, &profile.FanID, &profile.TotalSpent, &lastSeen,
		&profile.SpendingTier, &profile.Language, &profile.ActivityLevel, &profile.CreatedAt, &profile.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_get", "fan_profiles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FanProfile{}, domain.ErrFanNotFound
	}
	if err != nil {
		return domain.FanProfile{}, err
	}
	if lastSeen.Valid {
		ts := lastSeen.Time
		profile.LastSeenAt = &ts
	}
	return profile, nil
}

// UpsertProfile создаёт или обновляет профиль.
func (p *Postgres) UpsertProfile(ctx context.Context, profile domain.FanProfile) (domain.FanProfile, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var lastSeen sql.NullTime
	if profile.LastSeenAt != nil {
		lastSeen = sql.NullTime{Time: *profile.LastSeenAt, Valid: true}
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO fan_profiles (creator_id, fan_id, total_spent, last_seen_at, spending_tier, language, activity_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
ON CONFLICT (creator_id, fan_id) DO UPDATE SET
	total_spent = EXCLUDED.total_spent,
	last_seen_at = COALESCE(EXCLUDED.last_seen_at, fan_profiles.last_seen_at),
	spending_tier = EXCLUDED.spending_tier,
	language = EXCLUDED.language,
	activity_level = EXCLUDED.activity_level,
	updated_at = now()
RETURNING created_at, updated_at
`, profile.CreatorID, profile.FanID, profile.TotalSpent, lastSeen,
		profile.SpendingTier, profile.Language, profile.ActivityLevel).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_upsert", "fan_profiles", start, err)
	if err != nil {
		return domain.FanProfile{}, err
	}
	return profile, nil
}

// TouchLastSeen обновляет время последнего визита фаната.
func (p *Postgres) TouchLastSeen(ctx context.Context, creatorID, fanID string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE fan_profiles SET last_seen_at=$3, updated_at=now()
WHERE creator_id=$1 AND fan_id=$2 AND (last_seen_at IS NULL OR last_seen_at < $3)
`, creatorID, fanID, at)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_touch", "fan_profiles", start, err)
	return err
}

// ListLeastRecentlyScored возвращает профили автора, давно не оценённые.
// Профили без оценки идут первыми.
func (p *Postgres) ListLeastRecentlyScored(ctx context.Context, creatorID string, limit int) ([]domain.FanProfile, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT f.creator_id, f.fan_id, f.total_spent, f.last_seen_at, f.spending_tier, f.language, f.activity_level, f.created_at, f.updated_at
FROM fan_profiles f
LEFT JOIN lead_scores s ON s.creator_id=f.creator_id AND s.fan_id=f.fan_id
WHERE f.creator_id=$1
ORDER BY s.last_calculated_at ASC NULLS FIRST
LIMIT $2
`, creatorID, limit)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_list_stale", "fan_profiles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.FanProfile
	for rows.Next() {
		var (
			profile  domain.FanProfile
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&profile.CreatorID, &profile.FanID, &profile.TotalSpent, &lastSeen,
			&profile.SpendingTier, &profile.Language, &profile.ActivityLevel, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			ts := lastSeen.Time
			profile.LastSeenAt = &ts
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// ListCreators возвращает идентификаторы авторов, у которых есть
// хотя бы один профиль фаната. Используется воркером пересчёта оценок.
func (p *Postgres) ListCreators(ctx context.Context) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT creator_id FROM fan_profiles`)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_list_creators", "fan_profiles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creators []string
	for rows.Next() {
		var creatorID string
		if err := rows.Scan(&creatorID); err != nil {
			return nil, err
		}
		creators = append(creators, creatorID)
	}
	return creators, rows.Err()
}

// UpsertScore сохраняет пересчитанную оценку целиком.
func (p *Postgres) UpsertScore(ctx context.Context, score domain.LeadScore) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO lead_scores (creator_id, fan_id, overall, engagement, spending, intent, recency, factors, predicted_ltv, purchase_probability, churn_risk, last_calculated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (creator_id, fan_id) DO UPDATE SET
	overall = EXCLUDED.overall,
	engagement = EXCLUDED.engagement,
	spending = EXCLUDED.spending,
	intent = EXCLUDED.intent,
	recency = EXCLUDED.recency,
	factors = EXCLUDED.factors,
	predicted_ltv = EXCLUDED.predicted_ltv,
	purchase_probability = EXCLUDED.purchase_probability,
	churn_risk = EXCLUDED.churn_risk,
	last_calculated_at = EXCLUDED.last_calculated_at
`, score.CreatorID, score.FanID, score.Overall, score.Engagement, score.Spending, score.Intent, score.Recency,
		factors, score.PredictedLTV, score.PurchaseProbability, score.ChurnRisk, score.LastCalculatedAt)
	metrics.ObserveNetworkRequest("postgres", "lead_scores_upsert", "lead_scores", start, err)
	return err
}

// GetScore возвращает последнюю рассчитанную оценку.
func (p *Postgres) GetScore(ctx context.Context, creatorID, fanID string) (domain.LeadScore, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		score   domain.LeadScore
		factors []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT creator_id, fan_id, overall, engagement, spending, intent, recency, factors, predicted_ltv, purchase_probability, churn_risk, last_calculated_at
FROM lead_scores WHERE creator_id=$1 AND fan_id=$2
`, creatorID, fanID).Scan(&score.CreatorID, &score.FanID, &score.Overall, &score.Engagement, &score.Spending,
		&score.Intent, &score.Recency, &factors, &score.PredictedLTV, &score.PurchaseProbability,
		&score.ChurnRisk, &score.LastCalculatedAt)
	metrics.ObserveNetworkRequest("postgres", "lead_scores_get", "lead_scores", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeadScore{}, domain.ErrScoreNotFound
	}
	if err != nil {
		return domain.LeadScore{}, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &score.Factors); err != nil {
			return domain.LeadScore{}, err
		}
	}
	return score, nil
}

// AppendMessage сохраняет сообщение и поддерживает активный диалог пары.
func (p *Postgres) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
WITH conv AS (
	INSERT INTO conversations (id, creator_id, fan_id, active, updated_at)
	VALUES (COALESCE(NULLIF($1,''), $3||':'||$4), $3, $4, true, $7)
	ON CONFLICT (creator_id, fan_id) DO UPDATE SET active=true, updated_at=$7
	RETURNING id
)
INSERT INTO messages (id, conversation_id, creator_id, fan_id, from_fan, text, sent_at)
SELECT $2, conv.id, $3, $4, $5, $6, $7 FROM conv
RETURNING conversation_id
`, msg.ConversationID, msg.ID, msg.CreatorID, msg.FanID, msg.FromFan, msg.Text, msg.SentAt).Scan(&msg.ConversationID)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// CountFanMessages считает входящие от фаната с указанного момента.
func (p *Postgres) CountFanMessages(ctx context.Context, creatorID, fanID string, since time.Time) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM messages
WHERE creator_id=$1 AND fan_id=$2 AND from_fan AND sent_at >= $3
`, creatorID, fanID, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "messages_count_fan", "messages", start, err)
	return count, err
}

// AverageFanResponseLatency считает среднее время ответа фаната на
// сообщения автора. Второй результат false, если ответов не было.
func (p *Postgres) AverageFanResponseLatency(ctx context.Context, creatorID, fanID string, since time.Time) (time.Duration, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var seconds sql.NullFloat64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXTRACT(EPOCH FROM avg(latency)) FROM (
	SELECT sent_at - lag(sent_at) OVER (ORDER BY sent_at) AS latency,
	       from_fan,
	       lag(from_fan) OVER (ORDER BY sent_at) AS prev_from_fan
	FROM messages
	WHERE creator_id=$1 AND fan_id=$2 AND sent_at >= $3
) pairs
WHERE from_fan AND prev_from_fan = false
`, creatorID, fanID, since).Scan(&seconds)
	metrics.ObserveNetworkRequest("postgres", "messages_avg_latency", "messages", start, err)
	if err != nil {
		return 0, false, err
	}
	if !seconds.Valid {
		return 0, false, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), true, nil
}

// ListRecentFanMessages возвращает последние входящие от фаната,
// новые первыми.
func (p *Postgres) ListRecentFanMessages(ctx context.Context, creatorID, fanID string, limit int) ([]domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, conversation_id, creator_id, fan_id, from_fan, text, sent_at
FROM messages
WHERE creator_id=$1 AND fan_id=$2 AND from_fan
ORDER BY sent_at DESC
LIMIT $3
`, creatorID, fanID, limit)
	metrics.ObserveNetworkRequest("postgres", "messages_list_fan", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.CreatorID, &msg.FanID, &msg.FromFan, &msg.Text, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ActiveConversation возвращает активный диалог пары.
func (p *Postgres) ActiveConversation(ctx context.Context, creatorID, fanID string) (domain.Conversation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var conv domain.Conversation
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, creator_id, fan_id, active, updated_at
FROM conversations WHERE creator_id=$1 AND fan_id=$2 AND active
`, creatorID, fanID).Scan(&conv.ID, &conv.CreatorID, &conv.FanID, &conv.Active, &conv.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "conversations_get_active", "conversations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// SaveMedia сохраняет каталог контента автора батчем.
func (p *Postgres) SaveMedia(ctx context.Context, creatorID string, items []domain.MediaItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
INSERT INTO media_items (creator_id, id, is_free, is_vip, is_ppv, unlock_price, created_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (creator_id, id) DO UPDATE SET is_free=EXCLUDED.is_free, is_vip=EXCLUDED.is_vip, is_ppv=EXCLUDED.is_ppv, unlock_price=EXCLUDED.unlock_price
`, creatorID, item.ID, item.IsFree, item.IsVIP, item.IsPPV, item.UnlockPrice)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "media_send_batch", "media_items", start, nil)
	defer br.Close()
	for range items {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "media_batch_exec", "media_items", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetMedia возвращает единицу контента автора.
func (p *Postgres) GetMedia(ctx context.Context, creatorID, mediaID string) (domain.MediaItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var item domain.MediaItem
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, creator_id, is_free, is_vip, is_ppv, unlock_price, purchase_count, created_at
FROM media_items WHERE creator_id=$1 AND id=$2
`, creatorID, mediaID).Scan(&item.ID, &item.CreatorID, &item.IsFree, &item.IsVIP, &item.IsPPV,
		&item.UnlockPrice, &item.PurchaseCount, &item.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "media_items_get", "media_items", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MediaItem{}, domain.ErrMediaNotFound
	}
	if err != nil {
		return domain.MediaItem{}, err
	}
	return item, nil
}

// ListMedia возвращает контент автора по списку идентификаторов.
func (p *Postgres) ListMedia(ctx context.Context, creatorID string, ids []string) ([]domain.MediaItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, is_free, is_vip, is_ppv, unlock_price, purchase_count, created_at
FROM media_items WHERE creator_id=$1 AND id = ANY($2)
`, creatorID, ids)
	metrics.ObserveNetworkRequest("postgres", "media_items_list", "media_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.MediaItem
	for rows.Next() {
		var item domain.MediaItem
		if err := rows.Scan(&item.ID, &item.CreatorID, &item.IsFree, &item.IsVIP, &item.IsPPV,
			&item.UnlockPrice, &item.PurchaseCount, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// HasPurchase проверяет факт покупки конкретной единицы контента.
func (p *Postgres) HasPurchase(ctx context.Context, creatorID, fanID, mediaID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM purchases WHERE creator_id=$1 AND fan_id=$2 AND media_id=$3)
`, creatorID, fanID, mediaID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "purchases_exists", "purchases", start, err)
	return exists, err
}

// ListPurchasedMedia возвращает купленные фанатом позиции из списка.
func (p *Postgres) ListPurchasedMedia(ctx context.Context, creatorID, fanID string, mediaIDs []string) (map[string]bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT media_id FROM purchases WHERE creator_id=$1 AND fan_id=$2 AND media_id = ANY($3)
`, creatorID, fanID, mediaIDs)
	metrics.ObserveNetworkRequest("postgres", "purchases_list_media", "purchases", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owned := make(map[string]bool, len(mediaIDs))
	for rows.Next() {
		var mediaID string
		if err := rows.Scan(&mediaID); err != nil {
			return nil, err
		}
		owned[mediaID] = true
	}
	return owned, rows.Err()
}

// SpentSince суммирует траты фаната с указанного момента.
func (p *Postgres) SpentSince(ctx context.Context, creatorID, fanID string, since time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var spent int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(sum(price), 0) FROM purchases
WHERE creator_id=$1 AND fan_id=$2 AND created_at >= $3
`, creatorID, fanID, since).Scan(&spent)
	metrics.ObserveNetworkRequest("postgres", "purchases_spent_since", "purchases", start, err)
	return spent, err
}

// ActiveSubscription возвращает действующую подписку либо nil.
func (p *Postgres) ActiveSubscription(ctx context.Context, creatorID, fanID string, now time.Time) (*domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var sub domain.Subscription
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, creator_id, fan_id, tier, is_vip, recurring_credits, expires_at
FROM subscriptions
WHERE creator_id=$1 AND fan_id=$2 AND expires_at > $3
ORDER BY expires_at DESC
LIMIT 1
`, creatorID, fanID, now).Scan(&sub.ID, &sub.CreatorID, &sub.FanID, &sub.Tier, &sub.IsVIP, &sub.RecurringCredits, &sub.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_get_active", "subscriptions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
