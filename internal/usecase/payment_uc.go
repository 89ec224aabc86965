// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/infra/logging"
	"telegram-paywall-bot/internal/infra/metrics"
)

// CompletionSource labels which path confirmed a payment, for logs and
// metrics. Every path converges on the same Complete call.
type CompletionSource string

const (
	SourceWebhook CompletionSource = "webhook"
	SourcePoll    CompletionSource = "poll"
	SourceSweep   CompletionSource = "sweep"
)

// UserInfo is the Telegram profile snapshot stored on the payment record.
type UserInfo struct {
	Username  string
	FirstName string
	LastName  string
}

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase is the reconciliation engine. It is the only component
// allowed to transition payment status; transports and workers feed it
// confirmations and it applies them exactly once.
type PaymentUseCase interface {
	Start(ctx context.Context, userID int64, method model.PaymentMethod, info UserInfo) (*model.Payment, error)
	Confirm(ctx context.Context, userID int64, paymentID string) (*model.Payment, error)
	SetEmail(ctx context.Context, userID int64, paymentID, email string) (*model.Payment, error)
	// CheckStatus answers the user's "have you seen my money" poll. When the
	// provider reports the charge paid it completes the payment inline, so a
	// lost webhook never strands a paying user.
	CheckStatus(ctx context.Context, userID int64, paymentID string) (*model.Payment, bool, error)
	Cancel(ctx context.Context, userID int64, paymentID string) error

	// Complete is the single confirmation entry point. It returns the payment,
	// whether this call performed the transition (false means an earlier call
	// already had), and an error only for infrastructure failures or attempts
	// to complete a payment already in a different terminal state.
	Complete(ctx context.Context, paymentID string, source CompletionSource) (*model.Payment, bool, error)
	CompleteByProviderRef(ctx context.Context, providerRef string, source CompletionSource) (*model.Payment, bool, error)
	// CompleteRecurring records a provider-initiated recurring charge against
	// the subscription holding the given provider reference.
	CompleteRecurring(ctx context.Context, subscriptionRef, chargeRef string, amountMinor int64, source CompletionSource) (*model.Payment, bool, error)

	// RenewDue charges every subscription whose paid period has ended. Safe
	// to re-run: a renewed subscription is no longer due.
	RenewDue(ctx context.Context, now time.Time, limit int) (renewed, failed int, err error)
	// ExpireStale closes crypto invoices the provider will no longer honor.
	ExpireStale(ctx context.Context, window time.Duration, limit int) (int, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager

	subUC  SubscriptionUseCase
	access AccessUseCase

	gateways  map[model.PaymentMethod]adapter.PaymentGateway
	recurring adapter.RecurringGateway

	notifier adapter.BotAdapter

	priceMinor int64
	currency   string
	supportURL string

	log *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	txm repository.TransactionManager,
	subUC SubscriptionUseCase,
	access AccessUseCase,
	gateways []adapter.PaymentGateway,
	notifier adapter.BotAdapter,
	priceMinor int64,
	currency string,
	supportURL string,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	u := &paymentUC{
		payments:   payments,
		subs:       subs,
		txm:        txm,
		subUC:      subUC,
		access:     access,
		gateways:   make(map[model.PaymentMethod]adapter.PaymentGateway, len(gateways)),
		notifier:   notifier,
		priceMinor: priceMinor,
		currency:   currency,
		supportURL: supportURL,
		log:        &l,
	}
	for _, gw := range gateways {
		u.gateways[gw.Method()] = gw
		if rg, ok := gw.(adapter.RecurringGateway); ok {
			u.recurring = rg
		}
	}
	return u
}

func (u *paymentUC) gateway(method model.PaymentMethod) (adapter.PaymentGateway, error) {
	// Synthetic renewal payments belong to the recurring provider.
	if method == model.MethodRenewal {
		method = model.MethodRecurring
	}
	gw, ok := u.gateways[method]
	if !ok {
		return nil, fmt.Errorf("no gateway for method %q: %w", method, domain.ErrInvalidArgument)
	}
	return gw, nil
}

// --- user-facing lifecycle ---

func (u *paymentUC) Start(ctx context.Context, userID int64, method model.PaymentMethod, info UserInfo) (*model.Payment, error) {
	if _, err := u.gateway(method); err != nil {
		return nil, err
	}
	p := model.NewPayment(userID, method, u.priceMinor, u.currency)
	p.Username = info.Username
	p.FirstName = info.FirstName
	p.LastName = info.LastName

	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	metrics.IncPayment(string(method), string(model.PaymentStatusPending))
	logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Str("method", string(method)).Msg("payment started")
	return p, nil
}

func (u *paymentUC) Confirm(ctx context.Context, userID int64, paymentID string) (*model.Payment, error) {
	gwByID := func(p *model.Payment) (adapter.PaymentGateway, error) { return u.gateway(p.Method) }

	var result *model.Payment
	// The row lock serializes two concurrent confirm taps so only one
	// provider charge is ever created for the payment.
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.UserID != userID {
			return domain.ErrNotFound
		}
		if p.Status == model.PaymentStatusWaitingRedirect && p.PaymentURL != "" {
			result = p // re-confirm is a no-op, hand back the same link
			return nil
		}
		if p.Status != model.PaymentStatusPending {
			return domain.ErrNotPending
		}

		gw, err := gwByID(p)
		if err != nil {
			return err
		}
		if gw.RequiresEmail() && p.UserEmail == "" {
			return domain.ErrEmailRequired
		}

		charge, err := gw.CreateCharge(ctx, adapter.ChargeRequest{
			PaymentID:   p.ID,
			UserID:      p.UserID,
			AmountMinor: p.AmountMinor,
			Currency:    p.Currency,
			Description: "Community access, 1 month",
			Email:       p.UserEmail,
		})
		if err != nil {
			return fmt.Errorf("create charge: %w", err)
		}
		if err := u.payments.SetCharge(ctx, tx, p.ID, charge.ProviderRef, charge.PayURL); err != nil {
			return err
		}
		p.Status = model.PaymentStatusWaitingRedirect
		p.ProviderRef = charge.ProviderRef
		p.PaymentURL = charge.PayURL
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPayment(string(result.Method), string(model.PaymentStatusWaitingRedirect))
	return result, nil
}

func (u *paymentUC) SetEmail(ctx context.Context, userID int64, paymentID, email string) (*model.Payment, error) {
	p, err := u.payments.FindByIDAndUser(ctx, repository.NoTX, paymentID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return nil, domain.ErrNotPending
	}
	if err := u.payments.SetEmail(ctx, repository.NoTX, p.ID, email); err != nil {
		return nil, err
	}
	p.UserEmail = email
	return p, nil
}

func (u *paymentUC) CheckStatus(ctx context.Context, userID int64, paymentID string) (*model.Payment, bool, error) {
	p, err := u.payments.FindByIDAndUser(ctx, repository.NoTX, paymentID, userID)
	if err != nil {
		return nil, false, err
	}
	if p.Status == model.PaymentStatusCompleted {
		return p, true, nil
	}
	if p.Status.Terminal() || p.ProviderRef == "" {
		return p, false, nil
	}

	gw, err := u.gateway(p.Method)
	if err != nil {
		return nil, false, err
	}
	st, err := gw.FetchStatus(ctx, p.ProviderRef)
	if err != nil {
		return nil, false, err
	}
	if !st.Paid {
		logging.With(ctx, u.log).Debug().Str("payment_id", p.ID).Str("provider_status", st.RawStatus).Msg("not paid yet")
		return p, false, nil
	}

	completed, _, err := u.Complete(ctx, p.ID, SourcePoll)
	if err != nil {
		return nil, false, err
	}
	return completed, true, nil
}

func (u *paymentUC) Cancel(ctx context.Context, userID int64, paymentID string) error {
	p, err := u.payments.FindByIDAndUser(ctx, repository.NoTX, paymentID, userID)
	if err != nil {
		return err
	}
	if p.Status == model.PaymentStatusCompleted {
		return domain.ErrNotPending
	}
	if p.Status.Terminal() {
		return nil // already closed, cancel twice is fine
	}

	if p.ProviderRef != "" {
		gw, err := u.gateway(p.Method)
		if err == nil {
			if err := gw.CancelCharge(ctx, p.ProviderRef); err != nil {
				// Advisory only; the local record is what gates access.
				logging.With(ctx, u.log).Warn().Err(err).Str("payment_id", p.ID).Msg("provider cancel failed")
			}
		}
	}

	won, err := u.payments.MarkIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusCancelled)
	if err != nil {
		return err
	}
	if won {
		metrics.IncPayment(string(p.Method), string(model.PaymentStatusCancelled))
		logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Msg("payment cancelled by user")
	}
	return nil
}

// --- the confirmation funnel ---

func (u *paymentUC) Complete(ctx context.Context, paymentID string, source CompletionSource) (*model.Payment, bool, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, false, err
	}

	if p.Status == model.PaymentStatusCompleted {
		metrics.IncDuplicateConfirmation(string(source))
		logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Str("source", string(source)).Msg("duplicate confirmation, no-op")
		return p, false, nil
	}
	if p.Status.Terminal() {
		return p, false, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, domain.ErrNotPending)
	}

	now := time.Now()
	won, err := u.payments.CompleteIfPending(ctx, repository.NoTX, p.ID, now)
	if err != nil {
		return nil, false, err
	}
	if !won {
		// Raced with another confirmation path; re-read to tell a duplicate
		// from a conflicting terminal transition.
		fresh, ferr := u.payments.FindByID(ctx, repository.NoTX, p.ID)
		if ferr != nil {
			return nil, false, ferr
		}
		if fresh.Status == model.PaymentStatusCompleted {
			metrics.IncDuplicateConfirmation(string(source))
			return fresh, false, nil
		}
		return fresh, false, fmt.Errorf("payment %s is %s: %w", fresh.ID, fresh.Status, domain.ErrNotPending)
	}

	p.Status = model.PaymentStatusCompleted
	p.PaidAt = &now
	metrics.IncPayment(string(p.Method), string(model.PaymentStatusCompleted))
	metrics.IncCompletion(string(source))
	logging.With(ctx, u.log).Info().Str("payment_id", p.ID).Str("source", string(source)).Msg("payment completed")

	u.activate(ctx, p)
	return p, true, nil
}

func (u *paymentUC) CompleteByProviderRef(ctx context.Context, providerRef string, source CompletionSource) (*model.Payment, bool, error) {
	p, err := u.payments.FindByProviderRef(ctx, repository.NoTX, providerRef)
	if err != nil {
		return nil, false, err
	}
	return u.Complete(ctx, p.ID, source)
}

func (u *paymentUC) CompleteRecurring(ctx context.Context, subscriptionRef, chargeRef string, amountMinor int64, source CompletionSource) (*model.Payment, bool, error) {
	// Providers retry the same notification until acknowledged; the charge
	// ref identifies it, so a replay funnels into the payment it already
	// created instead of fabricating a second renewal.
	if chargeRef != "" {
		prior, err := u.payments.FindByProviderRef(ctx, repository.NoTX, chargeRef)
		switch {
		case err == nil:
			return u.Complete(ctx, prior.ID, source)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, err
		}
	}

	sub, err := u.subs.FindByProviderSubscriptionRef(ctx, repository.NoTX, subscriptionRef)
	if err != nil {
		return nil, false, err
	}
	if amountMinor == 0 {
		amountMinor = sub.AmountMinor
	}

	p := model.NewPayment(sub.UserID, model.MethodRenewal, amountMinor, sub.Currency)
	p.ProviderRef = chargeRef
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Same notification delivered twice within one millisecond; the
			// winner's Complete already ran.
			return nil, false, nil
		}
		return nil, false, err
	}
	return u.Complete(ctx, p.ID, source)
}

// activate runs the post-completion sequence: extend the subscription, grant
// chat access, tell the user. The money is already confirmed, so a failed
// step is logged for manual follow-up, never rolled back.
func (u *paymentUC) activate(ctx context.Context, p *model.Payment) {
	log := logging.With(ctx, u.log)

	providerSubRef := ""
	if p.Method == model.MethodRecurring {
		providerSubRef = p.ProviderRef
	}
	sub, err := u.subUC.Activate(ctx, p, providerSubRef)
	if err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("subscription activation failed after completed payment")
	}

	outcome := u.access.Grant(ctx, p.UserID)
	if outcome.Kind == GrantFailed {
		log.Error().Str("payment_id", p.ID).Str("reason", outcome.Reason).Msg("access grant failed after completed payment")
		if err := u.payments.SetAccessNote(ctx, repository.NoTX, p.ID, outcome.Reason); err != nil {
			log.Error().Err(err).Str("payment_id", p.ID).Msg("recording access note failed")
		}
	}

	if err := u.notifier.SendMessage(ctx, p.UserID, u.completionText(outcome, sub)); err != nil {
		log.Warn().Err(err).Int64("user_id", p.UserID).Msg("completion notification failed")
	}
}

func (u *paymentUC) completionText(outcome GrantOutcome, sub *model.Subscription) string {
	until := ""
	if sub != nil {
		until = fmt.Sprintf("\nAccess is paid until %s.", sub.CurrentPeriodEnd.Format("02.01.2006"))
	}
	switch outcome.Kind {
	case GrantLink:
		return fmt.Sprintf("✅ Payment received!%s\n\nYour personal invite link (one use):\n%s", until, outcome.InviteLink)
	case GrantAlreadyMember, GrantIsOwner:
		return fmt.Sprintf("✅ Payment received!%s\n\nYou are already in the community, nothing else to do.", until)
	case GrantNoLink:
		return fmt.Sprintf("✅ Payment received!%s\n\nYour access to the community has been restored.", until)
	default:
		return fmt.Sprintf("✅ Payment received!%s\n\nWe could not add you to the community automatically. Please contact support: %s", until, u.supportURL)
	}
}

// --- scheduled sweeps ---

func (u *paymentUC) RenewDue(ctx context.Context, now time.Time, limit int) (int, int, error) {
	due, err := u.subs.ListDueForRenewal(ctx, repository.NoTX, now, limit)
	if err != nil {
		return 0, 0, err
	}

	renewed, failed := 0, 0
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return renewed, failed, err
		}
		if u.recurring == nil || sub.ProviderSubscriptionRef == "" {
			u.renewalFailed(ctx, sub, fmt.Errorf("no recurring charge capability: %w", domain.ErrOperationFailed))
			failed++
			continue
		}

		charge, err := u.recurring.ChargeRecurring(ctx, sub.ProviderSubscriptionRef, sub.AmountMinor)
		if err != nil {
			u.renewalFailed(ctx, sub, err)
			failed++
			continue
		}

		p := model.NewPayment(sub.UserID, model.MethodRenewal, sub.AmountMinor, sub.Currency)
		p.ProviderRef = charge.ProviderRef
		if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
			u.log.Error().Err(err).Int64("user_id", sub.UserID).Msg("recording renewal payment failed")
			failed++
			continue
		}
		if _, _, err := u.Complete(ctx, p.ID, SourceSweep); err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("completing renewal failed")
			failed++
			continue
		}
		metrics.IncRenewal("renewed")
		renewed++
	}
	return renewed, failed, nil
}

func (u *paymentUC) renewalFailed(ctx context.Context, sub *model.Subscription, cause error) {
	u.log.Warn().Err(cause).Int64("user_id", sub.UserID).Msg("renewal charge failed, marking past due")
	metrics.IncRenewal("failed")
	if err := u.subUC.MarkPastDue(ctx, sub.UserID); err != nil {
		u.log.Error().Err(err).Int64("user_id", sub.UserID).Msg("marking past due failed")
	}
	text := fmt.Sprintf("⚠️ We could not renew your subscription automatically. Your access expires on %s. Use /start to pay manually.",
		sub.CurrentPeriodEnd.Format("02.01.2006"))
	if err := u.notifier.SendMessage(ctx, sub.UserID, text); err != nil {
		u.log.Warn().Err(err).Int64("user_id", sub.UserID).Msg("renewal failure notification failed")
	}
}

func (u *paymentUC) ExpireStale(ctx context.Context, window time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-window)
	stale, err := u.payments.ListWaitingOlderThan(ctx, repository.NoTX, model.MethodCrypto, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		won, err := u.payments.MarkIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusExpired)
		if err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("expiring payment failed")
			continue
		}
		if !won {
			continue // completed or cancelled while we were looking
		}
		expired++
		metrics.IncPayment(string(p.Method), string(model.PaymentStatusExpired))
		text := "⌛ Your crypto invoice has expired. Use /start to create a new one."
		if err := u.notifier.SendMessage(ctx, p.UserID, text); err != nil {
			u.log.Warn().Err(err).Int64("user_id", p.UserID).Msg("expiry notification failed")
		}
	}
	return expired, nil
}
