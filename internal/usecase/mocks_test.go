//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger so test output stays clean.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// MockPaymentRepo is an in-memory PaymentRepository with the same
// conditional-write semantics as the Postgres implementation.
type MockPaymentRepo struct {
	mu    sync.Mutex
	store map[string]*model.Payment

	CreateFunc            func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	CompleteIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepo) FindByIDAndUser(ctx context.Context, tx repository.Tx, id string, userID int64) (*model.Payment, error) {
	p, err := m.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *MockPaymentRepo) FindByProviderRef(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) SetCharge(ctx context.Context, tx repository.Tx, id, providerRef, payURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return domain.ErrNotPending
	}
	p.Status = model.PaymentStatusWaitingRedirect
	p.ProviderRef = providerRef
	p.PaymentURL = payURL
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockPaymentRepo) SetEmail(ctx context.Context, tx repository.Tx, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.UserEmail = email
	return nil
}

func (m *MockPaymentRepo) SetAccessNote(ctx context.Context, tx repository.Tx, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.AccessNote = note
	return nil
}

func (m *MockPaymentRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error) {
	if m.CompleteIfPendingFunc != nil {
		return m.CompleteIfPendingFunc(ctx, tx, id, paidAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status.Terminal() {
		return false, nil
	}
	p.Status = model.PaymentStatusCompleted
	pa := paidAt
	p.PaidAt = &pa
	p.UpdatedAt = paidAt
	return true, nil
}

func (m *MockPaymentRepo) MarkIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status.Terminal() {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockPaymentRepo) ListWaitingOlderThan(ctx context.Context, tx repository.Tx, method model.PaymentMethod, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.Method == method && p.Status == model.PaymentStatusWaitingRedirect && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) CountPayments(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

func (m *MockPaymentRepo) CountDistinctUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]struct{})
	for _, p := range m.store {
		seen[p.UserID] = struct{}{}
	}
	return len(seen), nil
}

// Put stores a record verbatim, bypassing transition checks. Used by tests
// to age or reshape records.
func (m *MockPaymentRepo) Put(p *model.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
}

// Get returns the stored record directly, for assertions.
func (m *MockPaymentRepo) Get(id string) *model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// ---- Subscription repo ----

type MockSubscriptionRepo struct {
	mu    sync.Mutex
	store map[int64]*model.Subscription

	UpsertFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{store: make(map[int64]*model.Subscription)}
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.UserID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepo) FindByProviderSubscriptionRef(ctx context.Context, tx repository.Tx, ref string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.store {
		if s.ProviderSubscriptionRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) ListDueForRenewal(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.AutoRenew && !s.CurrentPeriodEnd.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockSubscriptionRepo) SetAutoRenew(ctx context.Context, tx repository.Tx, userID int64, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	s.AutoRenew = on
	return nil
}

func (m *MockSubscriptionRepo) MarkPastDue(ctx context.Context, tx repository.Tx, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = model.SubscriptionStatusPastDue
	return nil
}

func (m *MockSubscriptionRepo) CountActive(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive {
			n++
		}
	}
	return n, nil
}

func (m *MockSubscriptionRepo) Get(userID int64) *model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[userID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// ---- Transaction manager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs the function immediately without a real transaction unless a
// test overrides WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// MockGateway implements adapter.PaymentGateway with configurable behavior.
type MockGateway struct {
	GatewayMethod model.PaymentMethod
	NeedEmail     bool

	CreateChargeFunc func(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error)
	FetchStatusFunc  func(ctx context.Context, providerRef string) (*adapter.ChargeStatus, error)
	CancelChargeFunc func(ctx context.Context, providerRef string) error

	mu          sync.Mutex
	ChargeCalls []adapter.ChargeRequest
	CancelCalls []string
	FetchedRefs []string
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string                { return "mock_" + string(m.GatewayMethod) }
func (m *MockGateway) Method() model.PaymentMethod { return m.GatewayMethod }
func (m *MockGateway) RequiresEmail() bool         { return m.NeedEmail }

func (m *MockGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	m.mu.Lock()
	m.ChargeCalls = append(m.ChargeCalls, req)
	m.mu.Unlock()
	if m.CreateChargeFunc != nil {
		return m.CreateChargeFunc(ctx, req)
	}
	return &adapter.Charge{ProviderRef: req.PaymentID, PayURL: "https://pay.example/" + req.PaymentID}, nil
}

func (m *MockGateway) FetchStatus(ctx context.Context, providerRef string) (*adapter.ChargeStatus, error) {
	m.mu.Lock()
	m.FetchedRefs = append(m.FetchedRefs, providerRef)
	m.mu.Unlock()
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx, providerRef)
	}
	return &adapter.ChargeStatus{Paid: false, RawStatus: "created"}, nil
}

func (m *MockGateway) CancelCharge(ctx context.Context, providerRef string) error {
	m.mu.Lock()
	m.CancelCalls = append(m.CancelCalls, providerRef)
	m.mu.Unlock()
	if m.CancelChargeFunc != nil {
		return m.CancelChargeFunc(ctx, providerRef)
	}
	return nil
}

// MockRecurringGateway adds the recurring charge surface.
type MockRecurringGateway struct {
	MockGateway
	ChargeRecurringFunc func(ctx context.Context, subscriptionRef string, amountMinor int64) (*adapter.Charge, error)

	RecurringCalls []string
}

var _ adapter.RecurringGateway = (*MockRecurringGateway)(nil)

func (m *MockRecurringGateway) ChargeRecurring(ctx context.Context, subscriptionRef string, amountMinor int64) (*adapter.Charge, error) {
	m.mu.Lock()
	m.RecurringCalls = append(m.RecurringCalls, subscriptionRef)
	m.mu.Unlock()
	if m.ChargeRecurringFunc != nil {
		return m.ChargeRecurringFunc(ctx, subscriptionRef, amountMinor)
	}
	return &adapter.Charge{ProviderRef: "renew-" + subscriptionRef}, nil
}

// ---- Bot notifier ----

type MockBot struct {
	mu   sync.Mutex
	Sent []string // texts, in send order

	SendMessageFunc func(ctx context.Context, tgID int64, text string) error
}

var _ adapter.BotAdapter = (*MockBot)(nil)

func (m *MockBot) SendMessage(ctx context.Context, tgID int64, text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, tgID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, text)
	return nil
}

func (m *MockBot) SendButtons(ctx context.Context, tgID int64, text string, rows [][]adapter.InlineButton) error {
	return m.SendMessage(ctx, tgID, text)
}

func (m *MockBot) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// ---- Community gate ----

type MockGate struct {
	mu sync.Mutex

	Status    string // returned by MemberStatus
	StatusErr error
	Link      string
	LinkErr   error
	UnbanErr  error

	LinkCalls  int
	UnbanCalls int
}

var _ adapter.CommunityGate = (*MockGate)(nil)

func (m *MockGate) MemberStatus(ctx context.Context, userID int64) (string, error) {
	if m.StatusErr != nil {
		return "", m.StatusErr
	}
	if m.Status == "" {
		return adapter.MemberStatusNotFound, nil
	}
	return m.Status, nil
}

func (m *MockGate) CreateInviteLink(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.LinkCalls++
	m.mu.Unlock()
	if m.LinkErr != nil {
		return "", m.LinkErr
	}
	if m.Link == "" {
		return "https://t.me/+invite", nil
	}
	return m.Link, nil
}

func (m *MockGate) Unban(ctx context.Context, userID int64) error {
	m.mu.Lock()
	m.UnbanCalls++
	m.mu.Unlock()
	return m.UnbanErr
}
