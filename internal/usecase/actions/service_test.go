package actions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fanpilot/internal/domain"
)

type stubProfiles struct {
	profiles map[string]domain.FanProfile
}

func profileKey(creatorID, fanID string) string { return creatorID + ":" + fanID }

func (s *stubProfiles) GetProfile(_ context.Context, creatorID, fanID string) (domain.FanProfile, error) {
	p, ok := s.profiles[profileKey(creatorID, fanID)]
	if !ok {
		return domain.FanProfile{}, domain.ErrFanNotFound
	}
	return p, nil
}

func (s *stubProfiles) UpsertProfile(_ context.Context, p domain.FanProfile) (domain.FanProfile, error) {
	s.profiles[profileKey(p.CreatorID, p.FanID)] = p
	return p, nil
}

func (s *stubProfiles) TouchLastSeen(_ context.Context, creatorID, fanID string, at time.Time) error {
	if p, ok := s.profiles[profileKey(creatorID, fanID)]; ok {
		p.LastSeenAt = &at
		s.profiles[profileKey(creatorID, fanID)] = p
	}
	return nil
}

func (s *stubProfiles) ListLeastRecentlyScored(_ context.Context, creatorID string, limit int) ([]domain.FanProfile, error) {
	var out []domain.FanProfile
	for _, p := range s.profiles {
		if p.CreatorID == creatorID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubScores struct {
	scores map[string]domain.LeadScore
}

func (s *stubScores) UpsertScore(_ context.Context, score domain.LeadScore) error {
	s.scores[profileKey(score.CreatorID, score.FanID)] = score
	return nil
}

func (s *stubScores) GetScore(_ context.Context, creatorID, fanID string) (domain.LeadScore, error) {
	score, ok := s.scores[profileKey(creatorID, fanID)]
	if !ok {
		return domain.LeadScore{}, domain.ErrScoreNotFound
	}
	return score, nil
}

type stubMessages struct {
	conversations map[string]domain.Conversation
	appended      []domain.Message
}

func (s *stubMessages) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.appended = append(s.appended, msg)
	return msg, nil
}

func (s *stubMessages) CountFanMessages(context.Context, string, string, time.Time) (int, error) {
	return 0, nil
}

func (s *stubMessages) AverageFanResponseLatency(context.Context, string, string, time.Time) (time.Duration, bool, error) {
	return 0, false, nil
}

func (s *stubMessages) ListRecentFanMessages(context.Context, string, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (s *stubMessages) ActiveConversation(_ context.Context, creatorID, fanID string) (domain.Conversation, error) {
	conv, ok := s.conversations[profileKey(creatorID, fanID)]
	if !ok {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, nil
}

type stubActionRepo struct {
	items       map[string]*domain.ScheduledAction
	last        map[string]time.Time
	activeOffer bool
	// due подменяет выборку ListDue, имитируя устаревший снимок
	due []domain.ScheduledAction
}

func newStubActionRepo() *stubActionRepo {
	return &stubActionRepo{items: map[string]*domain.ScheduledAction{}, last: map[string]time.Time{}}
}

func (s *stubActionRepo) CreateAction(_ context.Context, action domain.ScheduledAction) (domain.ScheduledAction, error) {
	copied := action
	s.items[action.ID] = &copied
	s.last[action.CooldownKey()] = action.CreatedAt
	return action, nil
}

func (s *stubActionRepo) GetAction(_ context.Context, id string) (domain.ScheduledAction, error) {
	a, ok := s.items[id]
	if !ok {
		return domain.ScheduledAction{}, domain.ErrActionNotFound
	}
	return *a, nil
}

func (s *stubActionRepo) LastActionTime(_ context.Context, creatorID, fanID string, typ domain.ActionType) (*time.Time, error) {
	at, ok := s.last[creatorID+":"+fanID+":"+string(typ)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (s *stubActionRepo) HasActiveOffer(context.Context, string, string) (bool, error) {
	return s.activeOffer, nil
}

func (s *stubActionRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledAction, error) {
	if s.due != nil {
		return s.due, nil
	}
	var out []domain.ScheduledAction
	for _, a := range s.items {
		if a.Status == domain.ActionPending && !a.ScheduledAt.After(now) && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubActionRepo) ClaimAction(_ context.Context, id string, from, to domain.ActionStatus) (bool, error) {
	a, ok := s.items[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (s *stubActionRepo) FinishAction(_ context.Context, id string, status domain.ActionStatus, errText string, at time.Time) error {
	a, ok := s.items[id]
	if !ok {
		return domain.ErrActionNotFound
	}
	a.Status = status
	a.Error = errText
	if status == domain.ActionSent {
		a.SentAt = &at
	}
	return nil
}

func (s *stubActionRepo) AdvanceFunnel(_ context.Context, id string, from, to domain.ActionStatus) (bool, error) {
	a, ok := s.items[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

type stubOffers struct {
	created      []domain.DiscountOffer
	near         []domain.DiscountOffer
	reminderSent map[string]bool
	redeemErr    error
	redeemed     domain.DiscountOffer
	stats        domain.OfferStats
}

func newStubOffers() *stubOffers {
	return &stubOffers{reminderSent: map[string]bool{}}
}

func (s *stubOffers) CreateOffer(_ context.Context, offer domain.DiscountOffer) (domain.DiscountOffer, error) {
	s.created = append(s.created, offer)
	return offer, nil
}

func (s *stubOffers) GetOfferByCode(_ context.Context, code string) (domain.DiscountOffer, error) {
	for _, o := range s.created {
		if o.Code == code {
			return o, nil
		}
	}
	return domain.DiscountOffer{}, domain.ErrOfferNotFound
}

func (s *stubOffers) RedeemOffer(context.Context, string, string, time.Time) (domain.DiscountOffer, error) {
	if s.redeemErr != nil {
		return domain.DiscountOffer{}, s.redeemErr
	}
	return s.redeemed, nil
}

func (s *stubOffers) ListOffersNearDeadline(context.Context, time.Time, time.Duration, int) ([]domain.DiscountOffer, error) {
	return s.near, nil
}

func (s *stubOffers) MarkReminderSent(_ context.Context, id string) (bool, error) {
	if s.reminderSent[id] {
		return false, nil
	}
	s.reminderSent[id] = true
	return true, nil
}

func (s *stubOffers) ExpireDueOffers(_ context.Context, now time.Time) ([]string, error) {
	var actionIDs []string
	for i := range s.created {
		o := &s.created[i]
		if o.Status == domain.OfferActive && !o.ExpiresAt.After(now) {
			o.Status = domain.OfferExpired
			if o.ActionID != "" {
				actionIDs = append(actionIDs, o.ActionID)
			}
		}
	}
	return actionIDs, nil
}

func (s *stubOffers) GetOfferStats(context.Context, string) (domain.OfferStats, error) {
	return s.stats, nil
}

type sentMail struct {
	to, subject, body string
}

type stubMailer struct {
	sent   []sentMail
	failTo string
}

func (s *stubMailer) Send(_ context.Context, to, subject, body string) error {
	if s.failTo != "" && to == s.failTo {
		return errors.New("smtp: connection refused")
	}
	s.sent = append(s.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req domain.PayloadRequest) (domain.ActionPayload, error) {
	return domain.ActionPayload{
		Subject:   "hello " + req.FanName,
		Body:      "body for " + string(req.Type),
		OfferCode: req.Variables["offer_code"],
		Source:    domain.PayloadSourceTemplate,
	}, nil
}

type fixture struct {
	service  *Service
	profiles *stubProfiles
	scores   *stubScores
	messages *stubMessages
	actions  *stubActionRepo
	offers   *stubOffers
	mailer   *stubMailer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		profiles: &stubProfiles{profiles: map[string]domain.FanProfile{}},
		scores:   &stubScores{scores: map[string]domain.LeadScore{}},
		messages: &stubMessages{conversations: map[string]domain.Conversation{}},
		actions:  newStubActionRepo(),
		offers:   newStubOffers(),
		mailer:   &stubMailer{},
		now:      now,
	}
	gen := stubGenerator{}
	strategies := []TypeStrategy{
		NewBumpStrategy(40, 48*time.Hour, gen),
		NewFlashSaleStrategy(55, 168*time.Hour, 24*time.Hour, gen),
		NewReengageStrategy(20, 336*time.Hour, gen),
	}
	terms := OfferTerms{TTL: 24 * time.Hour, ReminderWindow: 3 * time.Hour, DiscountPercent: 30, BasePrice: 1000}
	f.service = NewService(f.profiles, f.scores, f.messages, f.actions, f.offers, f.mailer, strategies, terms, 100, zerolog.Nop()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) addFan(creatorID, fanID string, overall int, lastSeen time.Time) {
	f.profiles.profiles[profileKey(creatorID, fanID)] = domain.FanProfile{
		CreatorID: creatorID, FanID: fanID, Language: "en", LastSeenAt: &lastSeen,
	}
	f.scores.scores[profileKey(creatorID, fanID)] = domain.LeadScore{
		CreatorID: creatorID, FanID: fanID, Overall: overall,
	}
	f.messages.conversations[profileKey(creatorID, fanID)] = domain.Conversation{
		CreatorID: creatorID, FanID: fanID, Active: true,
	}
}

func TestScheduleCooldownReturnsSkipNotSecondRow(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 80, f.now.Add(-time.Hour))
	ctx := context.Background()

	first, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionBump)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !first.Scheduled {
		t.Fatalf("первое планирование должно пройти, пропуск: %s", first.Skip)
	}

	second, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionBump)
	if err != nil {
		t.Fatalf("пропуск не должен быть ошибкой: %v", err)
	}
	if second.Scheduled || second.Skip != domain.SkipCooldown {
		t.Fatalf("ожидали пропуск по кулдауну, получили %+v", second)
	}
	if len(f.actions.items) != 1 {
		t.Fatalf("внутри кулдауна второй строки быть не должно, их %d", len(f.actions.items))
	}
}

func TestScheduleDistinguishableSkipReasons(t *testing.T) {
	f := newFixture(t)
	lastSeen := f.now.Add(-time.Hour)
	f.addFan("c1", "low", 10, lastSeen)
	ctx := context.Background()

	result, err := f.service.Schedule(ctx, "c1", "low", domain.ActionBump)
	if err != nil || result.Skip != domain.SkipLowScore {
		t.Fatalf("ожидали пропуск по оценке, получили %+v, %v", result, err)
	}

	result, err = f.service.Schedule(ctx, "c1", "ghost", domain.ActionBump)
	if err != nil || result.Skip != domain.SkipFanNotFound {
		t.Fatalf("ожидали пропуск по отсутствию фаната, получили %+v, %v", result, err)
	}

	f.addFan("c1", "rich", 90, lastSeen)
	f.actions.activeOffer = true
	result, err = f.service.Schedule(ctx, "c1", "rich", domain.ActionFlashSale)
	if err != nil || result.Skip != domain.SkipActiveOffer {
		t.Fatalf("ожидали пропуск по активному предложению, получили %+v, %v", result, err)
	}

	result, err = f.service.Schedule(ctx, "c1", "rich", domain.ActionReengage)
	if err != nil || result.Skip != domain.SkipRecentlyActive {
		t.Fatalf("ожидали пропуск по свежему визиту, получили %+v, %v", result, err)
	}

	f.addFan("c1", "silent", 90, lastSeen)
	delete(f.messages.conversations, profileKey("c1", "silent"))
	result, err = f.service.Schedule(ctx, "c1", "silent", domain.ActionBump)
	if err != nil || result.Skip != domain.SkipNoConversation {
		t.Fatalf("ожидали пропуск по отсутствию диалога, получили %+v, %v", result, err)
	}
}

func TestScheduleFlashSaleCreatesOffer(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 70, f.now.Add(-time.Hour))
	ctx := context.Background()

	result, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionFlashSale)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !result.Scheduled || result.Offer == nil {
		t.Fatalf("флеш-распродажа должна создать предложение, получили %+v", result)
	}
	offer := result.Offer
	if !strings.HasPrefix(offer.Code, "SALE-") {
		t.Fatalf("неожиданный формат кода: %s", offer.Code)
	}
	if offer.DiscountedPrice != 700 {
		t.Fatalf("цена со скидкой 30%% от 1000 должна быть 700, получили %d", offer.DiscountedPrice)
	}
	if offer.ActionID != result.Action.ID {
		t.Fatalf("предложение должно ссылаться на действие")
	}
	if result.Action.Payload.OfferCode != offer.Code {
		t.Fatalf("код предложения должен попасть в полезную нагрузку")
	}
	if !offer.ExpiresAt.Equal(f.now.Add(24 * time.Hour)) {
		t.Fatalf("дедлайн предложения должен быть через сутки, получили %s", offer.ExpiresAt)
	}
}

func TestProcessDueClaimsEachActionOnce(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 80, f.now.Add(-time.Hour))
	ctx := context.Background()

	result, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionBump)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f.now = f.now.Add(time.Hour)

	// оба прохода видят один и тот же устаревший снимок выборки
	f.actions.due = []domain.ScheduledAction{*f.actions.items[result.Action.ID]}

	first, err := f.service.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Claimed != 1 || first.Sent != 1 {
		t.Fatalf("первый проход должен отправить действие, получили %+v", first)
	}
	second, err := f.service.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Claimed != 0 {
		t.Fatalf("повторный захват отправленного действия недопустим, получили %+v", second)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("письмо должно уйти ровно один раз, ушло %d", len(f.mailer.sent))
	}
}

func TestProcessDueCancelsWhenConversationGone(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 80, f.now.Add(-time.Hour))
	ctx := context.Background()

	result, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionBump)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	delete(f.messages.conversations, profileKey("c1", "f1"))
	f.now = f.now.Add(time.Hour)

	report, err := f.service.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Cancelled != 1 {
		t.Fatalf("действие без диалога должно отменяться, получили %+v", report)
	}
	action := f.actions.items[result.Action.ID]
	if action.Status != domain.ActionCancelled || action.Error == "" {
		t.Fatalf("ожидали cancelled с причиной, получили %s %q", action.Status, action.Error)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("отменённое действие не должно отправляться")
	}
}

func TestProcessDueIsolatesSendFailures(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 80, f.now.Add(-time.Hour))
	f.addFan("c1", "f2", 80, f.now.Add(-time.Hour))
	f.mailer.failTo = "f1"
	ctx := context.Background()

	if _, err := f.service.Schedule(ctx, "c1", "f1", domain.ActionBump); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := f.service.Schedule(ctx, "c1", "f2", domain.ActionBump); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f.now = f.now.Add(time.Hour)

	report, err := f.service.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("сбой одного действия не должен ронять проход: %v", err)
	}
	if report.Failed != 1 || report.Sent != 1 {
		t.Fatalf("ожидали один сбой и одну отправку, получили %+v", report)
	}
	for _, a := range f.actions.items {
		if a.FanID == "f1" && (a.Status != domain.ActionFailed || a.Error == "") {
			t.Fatalf("сбойное действие должно хранить ошибку, получили %s %q", a.Status, a.Error)
		}
	}
}

func TestTerminalActionNeverReclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failed := domain.ScheduledAction{
		ID: "a1", CreatorID: "c1", FanID: "f1", Type: domain.ActionBump,
		Channel: domain.ChannelDirect, Status: domain.ActionFailed,
		ScheduledAt: f.now.Add(-time.Hour),
	}
	f.actions.items["a1"] = &failed
	f.actions.due = []domain.ScheduledAction{failed}

	report, err := f.service.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Claimed != 0 {
		t.Fatalf("терминальное действие нельзя захватить повторно, получили %+v", report)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("терминальное действие не должно отправляться")
	}
}

func TestRedeemPassesDistinctReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, want := range []error{
		domain.ErrOfferNotFound,
		domain.ErrOfferNotActive,
		domain.ErrOfferWrongOwner,
		domain.ErrOfferExpired,
	} {
		f.offers.redeemErr = want
		if _, err := f.service.Redeem(ctx, "SALE-XXXX", "f1"); !errors.Is(err, want) {
			t.Fatalf("ожидали %v, получили %v", want, err)
		}
	}
}

func TestRedeemAdvancesFunnelToConverted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.items["a1"] = &domain.ScheduledAction{ID: "a1", Status: domain.ActionSent}
	f.offers.redeemed = domain.DiscountOffer{
		ID: "o1", Code: "SALE-AAAA", CreatorID: "c1", FanID: "f1",
		ActionID: "a1", Status: domain.OfferRedeemed,
	}

	offer, err := f.service.Redeem(ctx, "SALE-AAAA", "f1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if offer.Status != domain.OfferRedeemed {
		t.Fatalf("предложение должно быть погашено")
	}
	if f.actions.items["a1"].Status != domain.ActionConverted {
		t.Fatalf("воронка действия должна дойти до converted, получили %s", f.actions.items["a1"].Status)
	}
}

func TestSweepRemindersSendsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.offers.near = []domain.DiscountOffer{{
		ID: "o1", Code: "SALE-BBBB", CreatorID: "c1", FanID: "f1",
		Status: domain.OfferActive, ExpiresAt: f.now.Add(2 * time.Hour),
	}}

	sent, err := f.service.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sent != 1 {
		t.Fatalf("первый свип должен отправить напоминание, отправлено %d", sent)
	}
	sent, err = f.service.SweepReminders(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sent != 0 {
		t.Fatalf("повторный свип не должен слать второе напоминание, отправлено %d", sent)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("ровно одно письмо напоминания, ушло %d", len(f.mailer.sent))
	}
}

func TestSweepExpiryClosesLinkedActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.items["a-sent"] = &domain.ScheduledAction{ID: "a-sent", Status: domain.ActionSent}
	f.actions.items["a-pending"] = &domain.ScheduledAction{ID: "a-pending", Status: domain.ActionPending}
	f.actions.items["a-live"] = &domain.ScheduledAction{ID: "a-live", Status: domain.ActionSent}
	f.offers.created = []domain.DiscountOffer{
		{ID: "o1", Code: "SALE-CCCC", ActionID: "a-sent", Status: domain.OfferActive, ExpiresAt: f.now.Add(-time.Minute)},
		{ID: "o2", Code: "SALE-DDDD", ActionID: "a-pending", Status: domain.OfferActive, ExpiresAt: f.now.Add(-time.Minute)},
		{ID: "o3", Code: "SALE-EEEE", ActionID: "a-live", Status: domain.OfferActive, ExpiresAt: f.now.Add(time.Hour)},
	}

	expired, err := f.service.SweepExpiry(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if expired != 2 {
		t.Fatalf("просрочены два предложения, свип насчитал %d", expired)
	}
	if got := f.actions.items["a-sent"].Status; got != domain.ActionExpired {
		t.Fatalf("отправленное действие мёртвого предложения должно истечь, статус %s", got)
	}
	if got := f.actions.items["a-pending"].Status; got != domain.ActionExpired {
		t.Fatalf("неотправленное действие мёртвого предложения должно истечь, статус %s", got)
	}
	if got := f.actions.items["a-live"].Status; got != domain.ActionSent {
		t.Fatalf("действие живого предложения трогать нельзя, статус %s", got)
	}
	if got := f.offers.created[2].Status; got != domain.OfferActive {
		t.Fatalf("живое предложение должно остаться активным, статус %s", got)
	}
}

func TestFunnelIsForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.items["a1"] = &domain.ScheduledAction{ID: "a1", Status: domain.ActionSent}

	if err := f.service.MarkOpened(ctx, "a1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := f.service.MarkClicked(ctx, "a1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := f.service.MarkOpened(ctx, "a1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("возврат воронки назад должен давать конфликт, получили %v", err)
	}
	if f.actions.items["a1"].Status != domain.ActionClicked {
		t.Fatalf("статус не должен откатываться, получили %s", f.actions.items["a1"].Status)
	}
}

func TestOnMessageReceivedTriggersFlashSaleInline(t *testing.T) {
	f := newFixture(t)
	f.addFan("c1", "f1", 70, f.now.Add(-time.Hour))
	ctx := context.Background()

	result, err := f.service.OnMessageReceived(ctx, domain.Message{
		CreatorID: "c1", FanID: "f1", FromFan: true, Text: "how much for the full set?",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !result.Scheduled || result.Offer == nil {
		t.Fatalf("входящее от фаната должно запускать флеш-распродажу, получили %+v", result)
	}
	if len(f.messages.appended) != 1 {
		t.Fatalf("сообщение должно сохраняться")
	}

	quiet, err := f.service.OnMessageReceived(ctx, domain.Message{
		CreatorID: "c1", FanID: "f1", FromFan: false, Text: "thanks!",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if quiet.Scheduled {
		t.Fatalf("исходящее сообщение не должно планировать действий")
	}
}
