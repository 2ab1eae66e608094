package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fanpilot/internal/domain"
)

type memLedger struct {
	accounts  map[string]*domain.CreditAccount
	txns      []domain.CreditTransaction
	schedules map[string]*domain.RecurringGrant
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts:  map[string]*domain.CreditAccount{},
		schedules: map[string]*domain.RecurringGrant{},
	}
}

func key(creatorID, fanID string) string { return creatorID + ":" + fanID }

func (m *memLedger) EnsureAccount(_ context.Context, creatorID, fanID string) (domain.CreditAccount, error) {
	k := key(creatorID, fanID)
	if acc, ok := m.accounts[k]; ok {
		return *acc, nil
	}
	acc := &domain.CreditAccount{CreatorID: creatorID, FanID: fanID}
	m.accounts[k] = acc
	return *acc, nil
}

func (m *memLedger) GetAccount(_ context.Context, creatorID, fanID string) (domain.CreditAccount, error) {
	acc, ok := m.accounts[key(creatorID, fanID)]
	if !ok {
		return domain.CreditAccount{}, domain.ErrAccountNotFound
	}
	return *acc, nil
}

func (m *memLedger) ApplyTransaction(_ context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error) {
	k := key(txn.CreatorID, txn.FanID)
	acc, ok := m.accounts[k]
	if !ok {
		acc = &domain.CreditAccount{CreatorID: txn.CreatorID, FanID: txn.FanID}
		m.accounts[k] = acc
	}
	if acc.Balance+txn.Amount < 0 {
		return domain.CreditTransaction{}, domain.ErrInsufficientFunds
	}
	acc.Balance += txn.Amount
	txn.ResultingBalance = acc.Balance
	m.txns = append(m.txns, txn)
	return txn, nil
}

func (m *memLedger) ListTransactions(_ context.Context, creatorID, fanID string, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txns[i].CreatorID == creatorID && m.txns[i].FanID == fanID {
			out = append(out, m.txns[i])
		}
	}
	return out, nil
}

func (m *memLedger) ListExpiredGrants(_ context.Context, now time.Time, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	for _, txn := range m.txns {
		if txn.Amount <= 0 || txn.ExpiresAt == nil || txn.ProcessedAt != nil {
			continue
		}
		if !txn.ExpiresAt.After(now) {
			out = append(out, txn)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memLedger) ApplyExpiration(_ context.Context, creatorID, fanID string, grantIDs []string) (int64, error) {
	acc, ok := m.accounts[key(creatorID, fanID)]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	ids := map[string]bool{}
	for _, id := range grantIDs {
		ids[id] = true
	}
	var claimed int64
	now := time.Now()
	for i := range m.txns {
		if ids[m.txns[i].ID] && m.txns[i].ProcessedAt == nil {
			claimed += m.txns[i].Amount
			ts := now
			m.txns[i].ProcessedAt = &ts
		}
	}
	if claimed <= 0 {
		return 0, nil
	}
	removed := claimed
	if removed > acc.Balance {
		removed = acc.Balance
	}
	if removed > 0 {
		acc.Balance -= removed
		m.txns = append(m.txns, domain.CreditTransaction{
			ID:               "exp-" + grantIDs[0],
			CreatorID:        creatorID,
			FanID:            fanID,
			Amount:           -removed,
			ResultingBalance: acc.Balance,
			Type:             domain.TxnExpiration,
			CreatedAt:        now,
		})
	}
	return removed, nil
}

func (m *memLedger) ListDueRecurringGrants(_ context.Context, now time.Time, limit int) ([]domain.RecurringGrant, error) {
	var out []domain.RecurringGrant
	for _, s := range m.schedules {
		if !s.NextGrantAt.After(now) {
			out = append(out, *s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memLedger) AdvanceRecurringGrant(_ context.Context, id string, from, next time.Time) (bool, error) {
	s, ok := m.schedules[id]
	if !ok {
		return false, nil
	}
	if !s.NextGrantAt.Equal(from) {
		return false, nil
	}
	s.NextGrantAt = next
	return true, nil
}

func (m *memLedger) balanceFromRows(creatorID, fanID string) int64 {
	var sum int64
	for _, txn := range m.txns {
		if txn.CreatorID == creatorID && txn.FanID == fanID {
			sum += txn.Amount
		}
	}
	return sum
}

type testClock struct{ current time.Time }

func (c *testClock) now() time.Time { return c.current }

func newTestService(repo *memLedger, expiryDays int, clock *testClock) *Service {
	return NewService(repo, expiryDays, zerolog.Nop()).WithClock(clock.now)
}

func TestBalanceEqualsSumOfTransactions(t *testing.T) {
	repo := newMemLedger()
	clock := &testClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	service := newTestService(repo, 30, clock)
	ctx := context.Background()

	steps := []struct {
		grant bool
		sum   int64
	}{{true, 1000}, {true, 250}, {false, 400}, {true, 100}, {false, 700}}
	for _, step := range steps {
		var err error
		if step.grant {
			_, err = service.Grant(ctx, "c1", "f1", step.sum, "", Meta{})
		} else {
			_, err = service.Spend(ctx, "c1", "f1", step.sum, "", Meta{})
		}
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		acc, err := service.Balance(ctx, "c1", "f1")
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if acc.Balance != repo.balanceFromRows("c1", "f1") {
			t.Fatalf("баланс %d разошёлся с суммой строк %d", acc.Balance, repo.balanceFromRows("c1", "f1"))
		}
	}
}

func TestSpendRejectedOnInsufficientFunds(t *testing.T) {
	repo := newMemLedger()
	clock := &testClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	service := newTestService(repo, 30, clock)
	ctx := context.Background()

	if _, err := service.Grant(ctx, "c1", "f1", 500, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err := service.Spend(ctx, "c1", "f1", 1000, "", Meta{})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("ожидали ErrInsufficientFunds, получили %v", err)
	}
	acc, _ := service.Balance(ctx, "c1", "f1")
	if acc.Balance != 500 {
		t.Fatalf("баланс должен остаться 500, получили %d", acc.Balance)
	}
	if len(repo.txns) != 1 {
		t.Fatalf("отклонённое списание не должно оставлять строк, их %d", len(repo.txns))
	}
}

func TestValidationBeforeMutation(t *testing.T) {
	repo := newMemLedger()
	clock := &testClock{current: time.Now()}
	service := newTestService(repo, 30, clock)
	ctx := context.Background()

	if _, err := service.Grant(ctx, "c1", "f1", 0, "", Meta{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if _, err := service.Spend(ctx, "c1", "f1", -5, "", Meta{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if _, err := service.Grant(ctx, "", "f1", 10, "", Meta{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation по ключу счёта, получили %v", err)
	}
	if len(repo.txns) != 0 {
		t.Fatalf("валидация должна срабатывать до мутаций")
	}
}

func TestExpirationRemovesOnlyUnspentRemainder(t *testing.T) {
	repo := newMemLedger()
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{current: day0}
	service := newTestService(repo, 6, clock)
	ctx := context.Background()

	if _, err := service.Grant(ctx, "c1", "f1", 2000, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	clock.current = day0.AddDate(0, 0, 2)
	if _, err := service.Spend(ctx, "c1", "f1", 500, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	clock.current = day0.AddDate(0, 0, 7)
	report, err := service.SweepExpirations(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Removed != 1500 {
		t.Fatalf("должно списаться ровно 1500, списано %d", report.Removed)
	}
	acc, _ := service.Balance(ctx, "c1", "f1")
	if acc.Balance != 0 {
		t.Fatalf("итоговый баланс должен быть 0, получили %d", acc.Balance)
	}
	expirations := 0
	for _, txn := range repo.txns {
		if txn.Type == domain.TxnExpiration {
			expirations++
			if txn.Amount != -1500 {
				t.Fatalf("ожидали строку expiration на -1500, получили %d", txn.Amount)
			}
		}
	}
	if expirations != 1 {
		t.Fatalf("ожидали ровно одну строку expiration, их %d", expirations)
	}
}

func TestExpirationSweepIdempotent(t *testing.T) {
	repo := newMemLedger()
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{current: day0}
	service := newTestService(repo, 3, clock)
	ctx := context.Background()

	if _, err := service.Grant(ctx, "c1", "f1", 300, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	clock.current = day0.AddDate(0, 0, 4)
	first, err := service.SweepExpirations(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Removed != 300 {
		t.Fatalf("первый свип должен списать 300, списал %d", first.Removed)
	}
	second, err := service.SweepExpirations(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Removed != 0 || second.Accounts != 0 {
		t.Fatalf("повторный свип должен быть no-op, получили %+v", second)
	}
}

func TestOverlappingSweepsDoNotDoubleDeduct(t *testing.T) {
	repo := newMemLedger()
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{current: day0}
	service := newTestService(repo, 3, clock)
	ctx := context.Background()

	g1, err := service.Grant(ctx, "c1", "f1", 600, "", Meta{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	g2, err := service.Grant(ctx, "c1", "f1", 400, "", Meta{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	// Свип A успел обработать только первое начисление, свип B стартовал
	// раньше и держит устаревший снимок с обеими строками.
	clock.current = day0.AddDate(0, 0, 4)
	removedA, err := repo.ApplyExpiration(ctx, "c1", "f1", []string{g1.ID})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if removedA != 600 {
		t.Fatalf("свип A списывает 600, списал %d", removedA)
	}

	removedB, err := repo.ApplyExpiration(ctx, "c1", "f1", []string{g1.ID, g2.ID})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if removedB != 400 {
		t.Fatalf("свип B списывает только свою строку 400, списал %d", removedB)
	}

	acc, _ := service.Balance(ctx, "c1", "f1")
	if acc.Balance != 0 {
		t.Fatalf("итоговый баланс должен быть 0, получили %d", acc.Balance)
	}
	var expired int64
	for _, txn := range repo.txns {
		if txn.Type == domain.TxnExpiration {
			expired += -txn.Amount
		}
	}
	if expired != 1000 {
		t.Fatalf("суммарно должно списаться 1000, списано %d", expired)
	}
}

func TestExpirationNeverDrivesBalanceNegative(t *testing.T) {
	repo := newMemLedger()
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{current: day0}
	service := newTestService(repo, 3, clock)
	ctx := context.Background()

	if _, err := service.Grant(ctx, "c1", "f1", 1000, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.Spend(ctx, "c1", "f1", 950, "", Meta{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	clock.current = day0.AddDate(0, 0, 4)
	report, err := service.SweepExpirations(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Removed != 50 {
		t.Fatalf("списываться должен остаток 50, списано %d", report.Removed)
	}
	acc, _ := service.Balance(ctx, "c1", "f1")
	if acc.Balance != 0 {
		t.Fatalf("баланс не должен уходить в минус, получили %d", acc.Balance)
	}
}

func TestRecurringGrantsNoDoubleGrant(t *testing.T) {
	repo := newMemLedger()
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{current: day0}
	service := newTestService(repo, 30, clock)
	ctx := context.Background()

	repo.schedules["sub1"] = &domain.RecurringGrant{
		ID: "sub1", CreatorID: "c1", FanID: "f1", Amount: 100, IntervalDays: 30, NextGrantAt: day0,
	}

	granted, err := service.SweepRecurringGrants(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if granted != 1 {
		t.Fatalf("ожидали одно начисление, получили %d", granted)
	}
	granted, err = service.SweepRecurringGrants(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if granted != 0 {
		t.Fatalf("повторный свип не должен начислять, получили %d", granted)
	}
	acc, _ := service.Balance(ctx, "c1", "f1")
	if acc.Balance != 100 {
		t.Fatalf("баланс должен быть 100, получили %d", acc.Balance)
	}
	if !repo.schedules["sub1"].NextGrantAt.Equal(day0.AddDate(0, 0, 30)) {
		t.Fatalf("расписание должно сдвинуться на интервал")
	}
}
