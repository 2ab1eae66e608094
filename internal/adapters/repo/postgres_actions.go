package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// CreateAction сохраняет новое PENDING-действие.
func (p *Postgres) CreateAction(ctx context.Context, action domain.ScheduledAction) (domain.ScheduledAction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	payload, err := json.Marshal(action.Payload)
	if err != nil {
		return domain.ScheduledAction{}, err
	}

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO scheduled_actions (id, creator_id, fan_id, type, channel, scheduled_at, payload, status, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'',$9)
RETURNING created_at
`, action.ID, action.CreatorID, action.FanID, action.Type, action.Channel,
		action.ScheduledAt, payload, action.Status, action.CreatedAt).Scan(&action.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_insert", "scheduled_actions", start, err)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	return action, nil
}

// GetAction возвращает действие по идентификатору.
func (p *Postgres) GetAction(ctx context.Context, id string) (domain.ScheduledAction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		action  domain.ScheduledAction
		payload []byte
		sentAt  sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, creator_id, fan_id, type, channel, scheduled_at, payload, status, error, sent_at, created_at
FROM scheduled_actions WHERE id=$1
`, id).Scan(&action.ID, &action.CreatorID, &action.FanID, &action.Type, &action.Channel,
		&action.ScheduledAt, &payload, &action.Status, &action.Error, &sentAt, &action.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_get", "scheduled_actions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledAction{}, domain.ErrActionNotFound
	}
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &action.Payload); err != nil {
			return domain.ScheduledAction{}, err
		}
	}
	if sentAt.Valid {
		ts := sentAt.Time
		action.SentAt = &ts
	}
	return action, nil
}

// LastActionTime возвращает время последнего действия типа для пары.
func (p *Postgres) LastActionTime(ctx context.Context, creatorID, fanID string, typ domain.ActionType) (*time.Time, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var at time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT created_at FROM scheduled_actions
WHERE creator_id=$1 AND fan_id=$2 AND type=$3
ORDER BY created_at DESC
LIMIT 1
`, creatorID, fanID, typ).Scan(&at)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_last", "scheduled_actions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// HasActiveOffer проверяет наличие непогашенного предложения пары.
func (p *Postgres) HasActiveOffer(ctx context.Context, creatorID, fanID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM discount_offers
	WHERE creator_id=$1 AND fan_id=$2 AND status=$3
)
`, creatorID, fanID, domain.OfferActive).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_active_exists", "discount_offers", start, err)
	return exists, err
}

// ListDue возвращает наступившие PENDING-действия в порядке наступления.
func (p *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledAction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, fan_id, type, channel, scheduled_at, payload, status, error, sent_at, created_at
FROM scheduled_actions
WHERE status=$1 AND scheduled_at <= $2
ORDER BY scheduled_at
LIMIT $3
`, domain.ActionPending, now, limit)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_list_due", "scheduled_actions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.ScheduledAction
	for rows.Next() {
		var (
			action  domain.ScheduledAction
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&action.ID, &action.CreatorID, &action.FanID, &action.Type, &action.Channel,
			&action.ScheduledAt, &payload, &action.Status, &action.Error, &sentAt, &action.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &action.Payload); err != nil {
				return nil, err
			}
		}
		if sentAt.Valid {
			ts := sentAt.Time
			action.SentAt = &ts
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// ClaimAction атомарно переводит действие из from в to. Возвращает
// false, если действие уже покинуло состояние from.
func (p *Postgres) ClaimAction(ctx context.Context, id string, from, to domain.ActionStatus) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE scheduled_actions SET status=$3 WHERE id=$1 AND status=$2
`, id, from, to)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_claim", "scheduled_actions", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// FinishAction записывает итог обработки действия.
func (p *Postgres) FinishAction(ctx context.Context, id string, status domain.ActionStatus, errText string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var sentAt sql.NullTime
	if status == domain.ActionSent {
		sentAt = sql.NullTime{Time: at, Valid: true}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE scheduled_actions SET status=$2, error=$3, sent_at=COALESCE($4, sent_at)
WHERE id=$1
`, id, status, errText, sentAt)
	metrics.ObserveNetworkRequest("postgres", "scheduled_actions_finish", "scheduled_actions", start, err)
	return err
}

// AdvanceFunnel двигает воронку действия строго вперёд.
func (p *Postgres) AdvanceFunnel(ctx context.Context, id string, from, to domain.ActionStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, nil
	}
	return p.ClaimAction(ctx, id, from, to)
}

// CreateOffer сохраняет новое скидочное предложение.
func (p *Postgres) CreateOffer(ctx context.Context, offer domain.DiscountOffer) (domain.DiscountOffer, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO discount_offers (id, code, creator_id, fan_id, action_id, discount_percent, original_price, discounted_price, status, expires_at, reminder_sent, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false,$11)
RETURNING created_at
`, offer.ID, offer.Code, offer.CreatorID, offer.FanID, offer.ActionID, offer.DiscountPercent,
		offer.OriginalPrice, offer.DiscountedPrice, offer.Status, offer.ExpiresAt, offer.CreatedAt).Scan(&offer.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_insert", "discount_offers", start, err)
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	return offer, nil
}

// GetOfferByCode возвращает предложение по коду.
func (p *Postgres) GetOfferByCode(ctx context.Context, code string) (domain.DiscountOffer, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	offer, err := scanOffer(p.pool.QueryRow(ctx, `
SELECT id, code, creator_id, fan_id, action_id, discount_percent, original_price, discounted_price, status, expires_at, reminder_sent, redeemed_at, created_at
FROM discount_offers WHERE code=$1
`, code))
	metrics.ObserveNetworkRequest("postgres", "discount_offers_get_by_code", "discount_offers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountOffer{}, domain.ErrOfferNotFound
	}
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	return offer, nil
}

func scanOffer(row pgx.Row) (domain.DiscountOffer, error) {
	var (
		offer      domain.DiscountOffer
		redeemedAt sql.NullTime
	)
	err := row.Scan(&offer.ID, &offer.Code, &offer.CreatorID, &offer.FanID, &offer.ActionID,
		&offer.DiscountPercent, &offer.OriginalPrice, &offer.DiscountedPrice, &offer.Status,
		&offer.ExpiresAt, &offer.ReminderSent, &redeemedAt, &offer.CreatedAt)
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	if redeemedAt.Valid {
		ts := redeemedAt.Time
		offer.RedeemedAt = &ts
	}
	return offer, nil
}

// RedeemOffer атомарно гасит предложение и обновляет статистику
// автора. Различимые отказы: не найдено, не активно, чужой код,
// просрочено. Просрочка попутно переводит предложение в expired.
func (p *Postgres) RedeemOffer(ctx context.Context, code, fanID string, now time.Time) (domain.DiscountOffer, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "discount_offers", start, err)
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	defer tx.Rollback(ctx)

	offer, err := p.redeemOfferTx(ctx, tx, code, "", fanID, now)
	if errors.Is(err, domain.ErrOfferExpired) {
		start = time.Now()
		commitErr := tx.Commit(ctx)
		metrics.ObserveNetworkRequest("postgres", "commit", "discount_offers", start, commitErr)
		if commitErr != nil {
			return domain.DiscountOffer{}, commitErr
		}
		return domain.DiscountOffer{}, err
	}
	if err != nil {
		return domain.DiscountOffer{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "discount_offers", start, err)
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	return offer, nil
}

// redeemOfferTx гасит код внутри уже открытой транзакции вызывающего:
// строка оффера блокируется FOR UPDATE, терминальный переход в REDEEMED
// и инкремент offer_stats остаются под общим коммитом. Непустой
// creatorID дополнительно требует, чтобы оффер принадлежал этому
// автору. При истёкшем сроке строка переводится в EXPIRED, вызывающий
// обязан закоммитить транзакцию и вернуть ErrOfferExpired.
func (p *Postgres) redeemOfferTx(ctx context.Context, tx pgx.Tx, code, creatorID, fanID string, now time.Time) (domain.DiscountOffer, error) {
	start := time.Now()
	offer, err := scanOffer(tx.QueryRow(ctx, `
SELECT id, code, creator_id, fan_id, action_id, discount_percent, original_price, discounted_price, status, expires_at, reminder_sent, redeemed_at, created_at
FROM discount_offers WHERE code=$1 FOR UPDATE
`, code))
	metrics.ObserveNetworkRequest("postgres", "discount_offers_get_for_update", "discount_offers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountOffer{}, domain.ErrOfferNotFound
	}
	if err != nil {
		return domain.DiscountOffer{}, err
	}

	if offer.Status != domain.OfferActive {
		return domain.DiscountOffer{}, domain.ErrOfferNotActive
	}
	if offer.FanID != fanID {
		return domain.DiscountOffer{}, domain.ErrOfferWrongOwner
	}
	if creatorID != "" && offer.CreatorID != creatorID {
		return domain.DiscountOffer{}, domain.ErrOfferWrongOwner
	}
	if !offer.ExpiresAt.After(now) {
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE discount_offers SET status=$2 WHERE id=$1`, offer.ID, domain.OfferExpired)
		metrics.ObserveNetworkRequest("postgres", "discount_offers_expire_one", "discount_offers", start, err)
		if err != nil {
			return domain.DiscountOffer{}, err
		}
		return domain.DiscountOffer{}, domain.ErrOfferExpired
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE discount_offers SET status=$2, redeemed_at=$3 WHERE id=$1
`, offer.ID, domain.OfferRedeemed, now)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_redeem", "discount_offers", start, err)
	if err != nil {
		return domain.DiscountOffer{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO offer_stats (creator_id, purchases, revenue, savings)
VALUES ($1, 1, $2, $3)
ON CONFLICT (creator_id) DO UPDATE SET
	purchases = offer_stats.purchases + 1,
	revenue = offer_stats.revenue + EXCLUDED.revenue,
	savings = offer_stats.savings + EXCLUDED.savings
`, offer.CreatorID, offer.DiscountedPrice, offer.Savings())
	metrics.ObserveNetworkRequest("postgres", "offer_stats_upsert", "offer_stats", start, err)
	if err != nil {
		return domain.DiscountOffer{}, err
	}

	offer.Status = domain.OfferRedeemed
	offer.RedeemedAt = &now
	return offer, nil
}

// ListOffersNearDeadline возвращает активные предложения, по которым
// ещё не отправлено напоминание и дедлайн внутри окна.
func (p *Postgres) ListOffersNearDeadline(ctx context.Context, now time.Time, window time.Duration, limit int) ([]domain.DiscountOffer, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, code, creator_id, fan_id, action_id, discount_percent, original_price, discounted_price, status, expires_at, reminder_sent, redeemed_at, created_at
FROM discount_offers
WHERE status=$1 AND NOT reminder_sent AND expires_at > $2 AND expires_at <= $3
ORDER BY expires_at
LIMIT $4
`, domain.OfferActive, now, now.Add(window), limit)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_list_near_deadline", "discount_offers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []domain.DiscountOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// MarkReminderSent взводит одноразовый флаг напоминания. Возвращает
// false, если флаг уже был взведён параллельным свипом.
func (p *Postgres) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE discount_offers SET reminder_sent=true WHERE id=$1 AND NOT reminder_sent
`, id)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_mark_reminder", "discount_offers", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ExpireDueOffers переводит просроченные активные предложения в expired
// и возвращает id связанных действий.
func (p *Postgres) ExpireDueOffers(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
UPDATE discount_offers SET status=$2 WHERE status=$1 AND expires_at <= $3
RETURNING action_id
`, domain.OfferActive, domain.OfferExpired, now)
	metrics.ObserveNetworkRequest("postgres", "discount_offers_expire_due", "discount_offers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actionIDs []string
	for rows.Next() {
		var actionID sql.NullString
		if err := rows.Scan(&actionID); err != nil {
			return nil, err
		}
		if actionID.Valid && actionID.String != "" {
			actionIDs = append(actionIDs, actionID.String)
		}
	}
	return actionIDs, rows.Err()
}

// GetOfferStats возвращает агрегированную статистику автора.
func (p *Postgres) GetOfferStats(ctx context.Context, creatorID string) (domain.OfferStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	stats := domain.OfferStats{CreatorID: creatorID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT purchases, revenue, savings FROM offer_stats WHERE creator_id=$1
`, creatorID).Scan(&stats.Purchases, &stats.Revenue, &stats.Savings)
	metrics.ObserveNetworkRequest("postgres", "offer_stats_get", "offer_stats", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return domain.OfferStats{}, err
	}
	return stats, nil
}
