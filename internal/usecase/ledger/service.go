package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

const sweepBatchLimit = 500

// Meta — необязательные атрибуты транзакции.
type Meta struct {
	Description    string
	SubscriptionID string
	MediaID        string
	MessageID      string
}

// Service реализует журнал кредитов с истекающими начислениями.
type Service struct {
	repo       domain.LedgerRepo
	expiryDays int
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис журнала.
func NewService(repo domain.LedgerRepo, expiryDays int, log zerolog.Logger) *Service {
	if expiryDays <= 0 {
		expiryDays = 30
	}
	return &Service{repo: repo, expiryDays: expiryDays, log: log, now: time.Now}
}

// WithClock подменяет источник времени. Используется в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Grant начисляет кредиты со сроком жизни N дней.
func (s *Service) Grant(ctx context.Context, creatorID, fanID string, amount int64, typ domain.TransactionType, meta Meta) (domain.CreditTransaction, error) {
	if err := validateAccountKey(creatorID, fanID); err != nil {
		return domain.CreditTransaction{}, err
	}
	if amount <= 0 {
		return domain.CreditTransaction{}, fmt.Errorf("%w: grant amount must be positive", domain.ErrValidation)
	}
	if typ == "" {
		typ = domain.TxnGrant
	}

	if _, err := s.repo.EnsureAccount(ctx, creatorID, fanID); err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("создание счёта: %w", err)
	}

	now := s.now().UTC()
	expires := now.AddDate(0, 0, s.expiryDays)
	txn := domain.CreditTransaction{
		ID:             uuid.NewString(),
		CreatorID:      creatorID,
		FanID:          fanID,
		Amount:         amount,
		Type:           typ,
		Description:    meta.Description,
		ExpiresAt:      &expires,
		SubscriptionID: meta.SubscriptionID,
		MediaID:        meta.MediaID,
		MessageID:      meta.MessageID,
		CreatedAt:      now,
	}
	applied, err := s.repo.ApplyTransaction(ctx, txn)
	if err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("начисление кредитов: %w", err)
	}
	metrics.CreditsMovedTotal.WithLabelValues(string(typ)).Add(float64(amount))
	return applied, nil
}

// Spend списывает кредиты. Списания не истекают.
// При нехватке средств возвращает ErrInsufficientFunds без побочных эффектов.
func (s *Service) Spend(ctx context.Context, creatorID, fanID string, amount int64, typ domain.TransactionType, meta Meta) (domain.CreditTransaction, error) {
	if err := validateAccountKey(creatorID, fanID); err != nil {
		return domain.CreditTransaction{}, err
	}
	if amount <= 0 {
		return domain.CreditTransaction{}, fmt.Errorf("%w: spend amount must be positive", domain.ErrValidation)
	}
	if typ == "" {
		typ = domain.TxnSpend
	}

	txn := domain.CreditTransaction{
		ID:             uuid.NewString(),
		CreatorID:      creatorID,
		FanID:          fanID,
		Amount:         -amount,
		Type:           typ,
		Description:    meta.Description,
		SubscriptionID: meta.SubscriptionID,
		MediaID:        meta.MediaID,
		MessageID:      meta.MessageID,
		CreatedAt:      s.now().UTC(),
	}
	applied, err := s.repo.ApplyTransaction(ctx, txn)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	metrics.CreditsMovedTotal.WithLabelValues(string(typ)).Add(float64(amount))
	return applied, nil
}

// Balance возвращает счёт пары фанат+автор.
func (s *Service) Balance(ctx context.Context, creatorID, fanID string) (domain.CreditAccount, error) {
	if err := validateAccountKey(creatorID, fanID); err != nil {
		return domain.CreditAccount{}, err
	}
	return s.repo.GetAccount(ctx, creatorID, fanID)
}

// History возвращает строки журнала, новые первыми.
func (s *Service) History(ctx context.Context, creatorID, fanID string, limit int) ([]domain.CreditTransaction, error) {
	if err := validateAccountKey(creatorID, fanID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, creatorID, fanID, limit)
}

// ExpirationReport — итог свипа истечений.
type ExpirationReport struct {
	Accounts int
	Removed  int64
}

// SweepExpirations группирует просроченные начисления по счетам и списывает
// не больше, чем осталось на балансе. Повторный запуск — no-op.
func (s *Service) SweepExpirations(ctx context.Context) (ExpirationReport, error) {
	now := s.now().UTC()
	grants, err := s.repo.ListExpiredGrants(ctx, now, sweepBatchLimit)
	if err != nil {
		return ExpirationReport{}, fmt.Errorf("выборка просроченных начислений: %w", err)
	}
	if len(grants) == 0 {
		return ExpirationReport{}, nil
	}

	type group struct {
		creatorID string
		fanID     string
		ids       []string
	}
	groups := map[string]*group{}
	var order []string
	for _, grant := range grants {
		key := grant.CreatorID + ":" + grant.FanID
		g, ok := groups[key]
		if !ok {
			g = &group{creatorID: grant.CreatorID, fanID: grant.FanID}
			groups[key] = g
			order = append(order, key)
		}
		g.ids = append(g.ids, grant.ID)
	}

	var report ExpirationReport
	for _, key := range order {
		g := groups[key]
		removed, err := s.repo.ApplyExpiration(ctx, g.creatorID, g.fanID, g.ids)
		if err != nil {
			s.log.Error().Err(err).Str("creator", g.creatorID).Str("fan", g.fanID).Msg("ledger: списание истёкших кредитов не удалось")
			continue
		}
		report.Accounts++
		report.Removed += removed
		if removed > 0 {
			metrics.CreditsMovedTotal.WithLabelValues(string(domain.TxnExpiration)).Add(float64(removed))
		}
	}
	return report, nil
}

// SweepRecurringGrants начисляет кредиты по наступившим расписаниям.
// Защита от двойного начисления — строго сравнение nextGrantAt.
func (s *Service) SweepRecurringGrants(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDueRecurringGrants(ctx, now, sweepBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("выборка расписаний: %w", err)
	}

	granted := 0
	for _, schedule := range due {
		next := schedule.NextGrantAt.AddDate(0, 0, schedule.IntervalDays)
		ok, err := s.repo.AdvanceRecurringGrant(ctx, schedule.ID, schedule.NextGrantAt, next)
		if err != nil {
			s.log.Error().Err(err).Str("schedule", schedule.ID).Msg("ledger: сдвиг расписания не удался")
			continue
		}
		if !ok {
			// параллельный свип уже обработал расписание
			continue
		}
		if _, err := s.Grant(ctx, schedule.CreatorID, schedule.FanID, schedule.Amount, domain.TxnRecurring, Meta{
			Description:    "regular subscription credits",
			SubscriptionID: schedule.ID,
		}); err != nil {
			s.log.Error().Err(err).Str("schedule", schedule.ID).Msg("ledger: регулярное начисление не удалось")
			continue
		}
		granted++
	}
	return granted, nil
}

func validateAccountKey(creatorID, fanID string) error {
	if creatorID == "" || fanID == "" {
		return fmt.Errorf("%w: creator and fan ids are required", domain.ErrValidation)
	}
	return nil
}
