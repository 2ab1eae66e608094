package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// EnsureAccount создаёт счёт пары, если его ещё нет.
func (p *Postgres) EnsureAccount(ctx context.Context, creatorID, fanID string) (domain.CreditAccount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var account domain.CreditAccount
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO credit_accounts (creator_id, fan_id, balance, created_at, updated_at)
VALUES ($1,$2,0,now(),now())
ON CONFLICT (creator_id, fan_id) DO UPDATE SET updated_at = credit_accounts.updated_at
RETURNING creator_id, fan_id, balance, created_at, updated_at
`, creatorID, fanID).Scan(&account.CreatorID, &account.FanID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_ensure", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	return account, nil
}

// GetAccount возвращает счёт пары фанат+автор.
func (p *Postgres) GetAccount(ctx context.Context, creatorID, fanID string) (domain.CreditAccount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var account domain.CreditAccount
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT creator_id, fan_id, balance, created_at, updated_at
FROM credit_accounts WHERE creator_id=$1 AND fan_id=$2
`, creatorID, fanID).Scan(&account.CreatorID, &account.FanID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_get", "credit_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditAccount{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.CreditAccount{}, err
	}
	return account, nil
}

// ApplyTransaction атомарно меняет баланс и добавляет строку журнала.
// Счёт блокируется FOR UPDATE, поэтому два конкурентных списания не
// могут одновременно пройти проверку баланса.
func (p *Postgres) ApplyTransaction(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE creator_id=$1 AND fan_id=$2 FOR UPDATE
`, txn.CreatorID, txn.FanID).Scan(&balance)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_get_for_update", "credit_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditTransaction{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	if balance+txn.Amount < 0 {
		return domain.CreditTransaction{}, domain.ErrInsufficientFunds
	}
	txn.ResultingBalance = balance + txn.Amount

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE credit_accounts SET balance=$3, updated_at=now() WHERE creator_id=$1 AND fan_id=$2
`, txn.CreatorID, txn.FanID, txn.ResultingBalance)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_update", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions (id, creator_id, fan_id, amount, resulting_balance, type, description, expires_at, subscription_id, media_id, message_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, txn.ID, txn.CreatorID, txn.FanID, txn.Amount, txn.ResultingBalance, txn.Type, txn.Description,
		nullableTime(txn.ExpiresAt), txn.SubscriptionID, txn.MediaID, txn.MessageID, txn.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_insert", "credit_transactions", start, err)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return txn, nil
}

func nullableTime(ts *time.Time) sql.NullTime {
	if ts == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *ts, Valid: true}
}

// ListTransactions возвращает строки журнала пары, новые первыми.
func (p *Postgres) ListTransactions(ctx context.Context, creatorID, fanID string, limit int) ([]domain.CreditTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, fan_id, amount, resulting_balance, type, description, expires_at, processed_at, subscription_id, media_id, message_id, created_at
FROM credit_transactions
WHERE creator_id=$1 AND fan_id=$2
ORDER BY created_at DESC
LIMIT $3
`, creatorID, fanID, limit)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_list", "credit_transactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.CreditTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgx.Row) (domain.CreditTransaction, error) {
	var (
		txn         domain.CreditTransaction
		expiresAt   sql.NullTime
		processedAt sql.NullTime
	)
	err := row.Scan(&txn.ID, &txn.CreatorID, &txn.FanID, &txn.Amount, &txn.ResultingBalance, &txn.Type,
		&txn.Description, &expiresAt, &processedAt, &txn.SubscriptionID, &txn.MediaID, &txn.MessageID, &txn.CreatedAt)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	if expiresAt.Valid {
		ts := expiresAt.Time
		txn.ExpiresAt = &ts
	}
	if processedAt.Valid {
		ts := processedAt.Time
		txn.ProcessedAt = &ts
	}
	return txn, nil
}

// ListExpiredGrants возвращает необработанные начисления с истёкшим сроком.
func (p *Postgres) ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]domain.CreditTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, fan_id, amount, resulting_balance, type, description, expires_at, processed_at, subscription_id, media_id, message_id, created_at
FROM credit_transactions
WHERE amount > 0 AND expires_at IS NOT NULL AND expires_at <= $1 AND processed_at IS NULL
ORDER BY creator_id, fan_id, expires_at
LIMIT $2
`, now, limit)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_list_expired", "credit_transactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.CreditTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, txn)
	}
	return grants, rows.Err()
}

// ApplyExpiration помечает начисления обработанными и списывает сумму
// только тех строк, которые пометил именно этот вызов. Строки, уже
// захваченные параллельным свипом, в сумму не входят, поэтому
// пересекающиеся свипы не списывают одно начисление дважды.
func (p *Postgres) ApplyExpiration(ctx context.Context, creatorID, fanID string, grantIDs []string) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_accounts", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	start = time.Now()
	rows, err := tx.Query(ctx, `
UPDATE credit_transactions SET processed_at=$2
WHERE id = ANY($1) AND processed_at IS NULL
RETURNING amount
`, grantIDs, now)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_mark_processed", "credit_transactions", start, err)
	if err != nil {
		return 0, err
	}
	var claimed int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return 0, err
		}
		claimed += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if claimed <= 0 {
		return 0, nil
	}

	var balance int64
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE creator_id=$1 AND fan_id=$2 FOR UPDATE
`, creatorID, fanID).Scan(&balance)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_get_for_update", "credit_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	removed := claimed
	if removed > balance {
		removed = balance
	}
	if removed <= 0 {
		start = time.Now()
		err = tx.Commit(ctx)
		metrics.ObserveNetworkRequest("postgres", "commit", "credit_accounts", start, err)
		return 0, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE credit_accounts SET balance = balance - $3, updated_at=now() WHERE creator_id=$1 AND fan_id=$2
`, creatorID, fanID, removed)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_update", "credit_accounts", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions (id, creator_id, fan_id, amount, resulting_balance, type, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,'expired credits',$7)
`, uuid.NewString(), creatorID, fanID, -removed, balance-removed, domain.TxnExpiration, now)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_insert", "credit_transactions", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_accounts", start, err)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListDueRecurringGrants возвращает наступившие расписания начислений.
func (p *Postgres) ListDueRecurringGrants(ctx context.Context, now time.Time, limit int) ([]domain.RecurringGrant, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, creator_id, fan_id, amount, interval_days, next_grant_at, created_at
FROM recurring_grants
WHERE next_grant_at <= $1
ORDER BY next_grant_at
LIMIT $2
`, now, limit)
	metrics.ObserveNetworkRequest("postgres", "recurring_grants_list_due", "recurring_grants", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.RecurringGrant
	for rows.Next() {
		var grant domain.RecurringGrant
		if err := rows.Scan(&grant.ID, &grant.CreatorID, &grant.FanID, &grant.Amount,
			&grant.IntervalDays, &grant.NextGrantAt, &grant.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// AdvanceRecurringGrant сдвигает nextGrantAt строго от ожидаемого
// значения. Возвращает false, если расписание уже сдвинул
// параллельный свип.
func (p *Postgres) AdvanceRecurringGrant(ctx context.Context, id string, from, next time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE recurring_grants SET next_grant_at=$3 WHERE id=$1 AND next_grant_at=$2
`, id, from, next)
	metrics.ObserveNetworkRequest("postgres", "recurring_grants_advance", "recurring_grants", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// UnlockMedia выполняет списание, запись покупки, инкремент счётчика
// и погашение кода скидки одной транзакцией. Неудачное списание
// откатывает и погашение: код не сгорает без покупки.
func (p *Postgres) UnlockMedia(ctx context.Context, params domain.UnlockParams) (domain.UnlockResult, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "purchases", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	price := params.Price
	if params.OfferCode != "" {
		offer, err := p.redeemOfferTx(ctx, tx, params.OfferCode, params.CreatorID, params.FanID, now)
		if errors.Is(err, domain.ErrOfferExpired) {
			start = time.Now()
			commitErr := tx.Commit(ctx)
			metrics.ObserveNetworkRequest("postgres", "commit", "discount_offers", start, commitErr)
			if commitErr != nil {
				return domain.UnlockResult{}, commitErr
			}
			return domain.UnlockResult{}, err
		}
		if err != nil {
			return domain.UnlockResult{}, err
		}
		price = price - price*int64(offer.DiscountPercent)/100
	}

	var balance int64
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE creator_id=$1 AND fan_id=$2 FOR UPDATE
`, params.CreatorID, params.FanID).Scan(&balance)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_get_for_update", "credit_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UnlockResult{}, domain.ErrInsufficientFunds
	}
	if err != nil {
		return domain.UnlockResult{}, err
	}
	if balance < price {
		return domain.UnlockResult{}, domain.ErrInsufficientFunds
	}

	txn := domain.CreditTransaction{
		ID:               uuid.NewString(),
		CreatorID:        params.CreatorID,
		FanID:            params.FanID,
		Amount:           -price,
		ResultingBalance: balance - price,
		Type:             domain.TxnUnlock,
		Description:      "media unlock",
		MediaID:          params.MediaID,
		CreatedAt:        now,
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE credit_accounts SET balance=$3, updated_at=now() WHERE creator_id=$1 AND fan_id=$2
`, params.CreatorID, params.FanID, txn.ResultingBalance)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_update", "credit_accounts", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions (id, creator_id, fan_id, amount, resulting_balance, type, description, media_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, txn.ID, txn.CreatorID, txn.FanID, txn.Amount, txn.ResultingBalance, txn.Type, txn.Description, txn.MediaID, txn.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_transactions_insert", "credit_transactions", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	purchase := domain.Purchase{
		ID:        uuid.NewString(),
		CreatorID: params.CreatorID,
		FanID:     params.FanID,
		MediaID:   params.MediaID,
		Price:     price,
		CreatedAt: now,
	}
	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO purchases (id, creator_id, fan_id, media_id, price, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, purchase.ID, purchase.CreatorID, purchase.FanID, purchase.MediaID, purchase.Price, purchase.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "purchases_insert", "purchases", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE media_items SET purchase_count = purchase_count + 1 WHERE creator_id=$1 AND id=$2
`, params.CreatorID, params.MediaID)
	metrics.ObserveNetworkRequest("postgres", "media_items_increment", "media_items", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE fan_profiles SET total_spent = total_spent + $3, updated_at=now()
WHERE creator_id=$1 AND fan_id=$2
`, params.CreatorID, params.FanID, price)
	metrics.ObserveNetworkRequest("postgres", "fan_profiles_add_spent", "fan_profiles", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "purchases", start, err)
	if err != nil {
		return domain.UnlockResult{}, err
	}

	return domain.UnlockResult{
		Purchase:    purchase,
		Transaction: txn,
		Balance:     txn.ResultingBalance,
	}, nil
}
