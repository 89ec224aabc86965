//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/usecase"
)

// paymentUCTestDeps bundles fresh mocks for each test.
type paymentUCTestDeps struct {
	payments  *MockPaymentRepo
	subs      *MockSubscriptionRepo
	tm        *MockTxManager
	card      *MockGateway
	recurring *MockRecurringGateway
	crypto    *MockGateway
	bot       *MockBot
	gate      *MockGate
	uc        usecase.PaymentUseCase
}

func newPaymentUCDeps() *paymentUCTestDeps {
	deps := &paymentUCTestDeps{
		payments:  NewMockPaymentRepo(),
		subs:      NewMockSubscriptionRepo(),
		tm:        &MockTxManager{},
		card:      &MockGateway{GatewayMethod: model.MethodCard},
		recurring: &MockRecurringGateway{MockGateway: MockGateway{GatewayMethod: model.MethodRecurring}},
		crypto:    &MockGateway{GatewayMethod: model.MethodCrypto, NeedEmail: true},
		bot:       &MockBot{},
		gate:      &MockGate{},
	}
	logger := newTestLogger()
	subUC := usecase.NewSubscriptionUseCase(deps.subs, logger)
	accessUC := usecase.NewAccessUseCase(deps.gate, logger)
	deps.uc = usecase.NewPaymentUseCase(
		deps.payments, deps.subs, deps.tm,
		subUC, accessUC,
		[]adapter.PaymentGateway{deps.card, deps.recurring, deps.crypto},
		deps.bot,
		10000, "RUB", "https://t.me/support",
		logger,
	)
	return deps
}

// startWaiting creates a payment and moves it to waiting_for_redirect.
func startWaiting(t *testing.T, deps *paymentUCTestDeps, userID int64, method model.PaymentMethod) *model.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := deps.uc.Start(ctx, userID, method, usecase.UserInfo{Username: "alice"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if method == model.MethodCrypto {
		if _, err := deps.uc.SetEmail(ctx, userID, p.ID, "alice@example.com"); err != nil {
			t.Fatalf("SetEmail: %v", err)
		}
	}
	p, err = deps.uc.Confirm(ctx, userID, p.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return p
}

func TestPaymentUseCase_StartAndConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending payment with the id convention", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p, err := deps.uc.Start(ctx, 42, model.MethodCard, usecase.UserInfo{Username: "alice"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if p.Status != model.PaymentStatusPending {
			t.Fatalf("status = %s, want pending", p.Status)
		}
		if !strings.HasPrefix(p.ID, "card_") || !strings.HasSuffix(p.ID, "_42") {
			t.Fatalf("unexpected id %q", p.ID)
		}
		if p.AmountMinor != 10000 || p.Currency != "RUB" {
			t.Fatalf("price not applied: %d %s", p.AmountMinor, p.Currency)
		}
	})

	t.Run("confirm records the charge and stays idempotent", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)
		if p.Status != model.PaymentStatusWaitingRedirect || p.PaymentURL == "" {
			t.Fatalf("confirm result: %s url=%q", p.Status, p.PaymentURL)
		}

		again, err := deps.uc.Confirm(ctx, 42, p.ID)
		if err != nil {
			t.Fatalf("re-confirm: %v", err)
		}
		if again.PaymentURL != p.PaymentURL {
			t.Fatalf("re-confirm produced a different link")
		}
		if got := len(deps.card.ChargeCalls); got != 1 {
			t.Fatalf("provider charges = %d, want 1", got)
		}
	})

	t.Run("crypto without email is rejected before the provider is called", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p, err := deps.uc.Start(ctx, 42, model.MethodCrypto, usecase.UserInfo{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := deps.uc.Confirm(ctx, 42, p.ID); !errors.Is(err, domain.ErrEmailRequired) {
			t.Fatalf("err = %v, want ErrEmailRequired", err)
		}
		if len(deps.crypto.ChargeCalls) != 0 {
			t.Fatalf("provider was called without an email")
		}
	})

	t.Run("another user's payment is invisible", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)
		if _, err := deps.uc.Confirm(ctx, 99, p.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown method is rejected", func(t *testing.T) {
		deps := newPaymentUCDeps()
		if _, err := deps.uc.Start(ctx, 42, model.PaymentMethod("sofort"), usecase.UserInfo{}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestPaymentUseCase_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("first completion activates, grants and notifies exactly once", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)

		done, transitioned, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if !transitioned {
			t.Fatalf("first completion must transition")
		}
		if done.Status != model.PaymentStatusCompleted || done.PaidAt == nil {
			t.Fatalf("status=%s paidAt=%v", done.Status, done.PaidAt)
		}

		sub := deps.subs.Get(42)
		if sub == nil || sub.Status != model.SubscriptionStatusActive {
			t.Fatalf("subscription not activated: %+v", sub)
		}
		wantEnd := time.Now().AddDate(0, 1, 0)
		if d := sub.CurrentPeriodEnd.Sub(wantEnd); d < -time.Minute || d > time.Minute {
			t.Fatalf("period end %v, want about %v", sub.CurrentPeriodEnd, wantEnd)
		}
		if deps.gate.LinkCalls != 1 {
			t.Fatalf("invite links created = %d, want 1", deps.gate.LinkCalls)
		}
		if deps.bot.SentCount() != 1 {
			t.Fatalf("notifications = %d, want 1", deps.bot.SentCount())
		}
	})

	t.Run("duplicate confirmation is a silent no-op", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)

		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("first Complete: %v", err)
		}
		firstEnd := deps.subs.Get(42).CurrentPeriodEnd

		done, transitioned, err := deps.uc.Complete(ctx, p.ID, usecase.SourcePoll)
		if err != nil {
			t.Fatalf("second Complete: %v", err)
		}
		if transitioned {
			t.Fatalf("duplicate must not transition")
		}
		if done.Status != model.PaymentStatusCompleted {
			t.Fatalf("status = %s", done.Status)
		}
		if !deps.subs.Get(42).CurrentPeriodEnd.Equal(firstEnd) {
			t.Fatalf("duplicate extended the subscription")
		}
		if deps.bot.SentCount() != 1 {
			t.Fatalf("duplicate sent another notification")
		}
	})

	t.Run("losing the conditional write performs no side effects", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)

		// Simulate a race: another writer completes between the read and the
		// conditional update.
		deps.payments.CompleteIfPendingFunc = func(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error) {
			deps.payments.CompleteIfPendingFunc = nil
			if _, err := deps.payments.CompleteIfPending(ctx, tx, id, paidAt); err != nil {
				return false, err
			}
			return false, nil
		}

		_, transitioned, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if transitioned {
			t.Fatalf("loser must report no transition")
		}
		if deps.bot.SentCount() != 0 {
			t.Fatalf("loser sent a notification")
		}
		if deps.subs.Get(42) != nil {
			t.Fatalf("loser activated the subscription")
		}
	})

	t.Run("completion of a cancelled payment fails with ErrNotPending", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)
		if err := deps.uc.Cancel(ctx, 42, p.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); !errors.Is(err, domain.ErrNotPending) {
			t.Fatalf("err = %v, want ErrNotPending", err)
		}
	})

	t.Run("access failure is recorded but payment stays completed", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.gate.LinkErr = errors.New("bot is not admin")
		deps.gate.UnbanErr = errors.New("bot is not admin")
		p := startWaiting(t, deps, 42, model.MethodCard)

		done, transitioned, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook)
		if err != nil || !transitioned {
			t.Fatalf("Complete: %v transitioned=%v", err, transitioned)
		}
		if done.Status != model.PaymentStatusCompleted {
			t.Fatalf("status = %s", done.Status)
		}
		stored := deps.payments.Get(p.ID)
		if stored.AccessNote == "" {
			t.Fatalf("access failure not recorded")
		}
		// The user still hears about the payment, pointed at support.
		if deps.bot.SentCount() != 1 {
			t.Fatalf("notifications = %d, want 1", deps.bot.SentCount())
		}
	})

	t.Run("recurring completion stores the provider subscription ref", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodRecurring)

		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		sub := deps.subs.Get(42)
		if sub.ProviderSubscriptionRef != p.ProviderRef {
			t.Fatalf("provider ref %q, want %q", sub.ProviderSubscriptionRef, p.ProviderRef)
		}
	})
}

func TestPaymentUseCase_CheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("poll path completes when the provider reports paid", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.card.FetchStatusFunc = func(ctx context.Context, ref string) (*adapter.ChargeStatus, error) {
			return &adapter.ChargeStatus{Paid: true, RawStatus: "state_100"}, nil
		}
		p := startWaiting(t, deps, 42, model.MethodCard)

		done, paid, err := deps.uc.CheckStatus(ctx, 42, p.ID)
		if err != nil {
			t.Fatalf("CheckStatus: %v", err)
		}
		if !paid || done.Status != model.PaymentStatusCompleted {
			t.Fatalf("paid=%v status=%s", paid, done.Status)
		}
		if deps.subs.Get(42) == nil {
			t.Fatalf("subscription not activated through poll path")
		}
	})

	t.Run("unpaid poll leaves the payment waiting", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)

		got, paid, err := deps.uc.CheckStatus(ctx, 42, p.ID)
		if err != nil {
			t.Fatalf("CheckStatus: %v", err)
		}
		if paid || got.Status != model.PaymentStatusWaitingRedirect {
			t.Fatalf("paid=%v status=%s", paid, got.Status)
		}
	})

	t.Run("provider outage propagates as ErrProviderUnavailable", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.card.FetchStatusFunc = func(ctx context.Context, ref string) (*adapter.ChargeStatus, error) {
			return nil, domain.ErrProviderUnavailable
		}
		p := startWaiting(t, deps, 42, model.MethodCard)
		if _, _, err := deps.uc.CheckStatus(ctx, 42, p.ID); !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Fatalf("err = %v, want ErrProviderUnavailable", err)
		}
	})
}

func TestPaymentUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel is idempotent and best-effort on the provider", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.card.CancelChargeFunc = func(ctx context.Context, ref string) error {
			return domain.ErrProviderUnavailable
		}
		p := startWaiting(t, deps, 42, model.MethodCard)

		if err := deps.uc.Cancel(ctx, 42, p.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got := deps.payments.Get(p.ID).Status; got != model.PaymentStatusCancelled {
			t.Fatalf("status = %s", got)
		}
		// second cancel is a no-op
		if err := deps.uc.Cancel(ctx, 42, p.ID); err != nil {
			t.Fatalf("second Cancel: %v", err)
		}
	})

	t.Run("completed payments cannot be cancelled", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCard)
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := deps.uc.Cancel(ctx, 42, p.ID); !errors.Is(err, domain.ErrNotPending) {
			t.Fatalf("err = %v, want ErrNotPending", err)
		}
	})
}

func TestPaymentUseCase_CompleteRecurring(t *testing.T) {
	ctx := context.Background()

	t.Run("provider renewal notification extends the subscription", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodRecurring)
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		firstEnd := deps.subs.Get(42).CurrentPeriodEnd

		done, transitioned, err := deps.uc.CompleteRecurring(ctx, p.ProviderRef, "inv-777", 10000, usecase.SourceWebhook)
		if err != nil {
			t.Fatalf("CompleteRecurring: %v", err)
		}
		if !transitioned || done.Method != model.MethodRenewal {
			t.Fatalf("transitioned=%v method=%s", transitioned, done.Method)
		}
		if !deps.subs.Get(42).CurrentPeriodEnd.After(firstEnd) {
			t.Fatalf("renewal did not push the period end forward")
		}
		// the original subscription handle must survive the renewal
		if deps.subs.Get(42).ProviderSubscriptionRef != p.ProviderRef {
			t.Fatalf("provider ref lost on renewal")
		}
	})

	t.Run("retried notification with the same charge ref is a no-op", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodRecurring)
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}

		done, _, err := deps.uc.CompleteRecurring(ctx, p.ProviderRef, "inv-777", 10000, usecase.SourceWebhook)
		if err != nil {
			t.Fatalf("CompleteRecurring: %v", err)
		}
		endAfterRenewal := deps.subs.Get(42).CurrentPeriodEnd
		sentAfterRenewal := deps.bot.SentCount()

		// The provider delivers the identical notification again until it
		// reads an acknowledgement.
		again, transitioned, err := deps.uc.CompleteRecurring(ctx, p.ProviderRef, "inv-777", 10000, usecase.SourceWebhook)
		if err != nil {
			t.Fatalf("retried CompleteRecurring: %v", err)
		}
		if transitioned {
			t.Fatalf("retry reported a fresh transition")
		}
		if again == nil || again.ID != done.ID {
			t.Fatalf("retry resolved payment %+v, want %s", again, done.ID)
		}
		if !deps.subs.Get(42).CurrentPeriodEnd.Equal(endAfterRenewal) {
			t.Fatalf("retry moved the period end again")
		}
		if deps.bot.SentCount() != sentAfterRenewal {
			t.Fatalf("retry sent another notification")
		}
	})

	t.Run("unknown subscription ref is ErrNotFound", func(t *testing.T) {
		deps := newPaymentUCDeps()
		if _, _, err := deps.uc.CompleteRecurring(ctx, "ghost", "inv-1", 10000, usecase.SourceWebhook); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestPaymentUseCase_RenewDue(t *testing.T) {
	ctx := context.Background()

	t.Run("due subscriptions are charged and extended, sweep re-run is a no-op", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodRecurring)
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		// Force the subscription overdue.
		sub := deps.subs.Get(42)
		sub.CurrentPeriodEnd = time.Now().Add(-time.Hour)
		if err := deps.subs.Upsert(ctx, nil, sub); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		renewed, failed, err := deps.uc.RenewDue(ctx, time.Now(), 100)
		if err != nil {
			t.Fatalf("RenewDue: %v", err)
		}
		if renewed != 1 || failed != 0 {
			t.Fatalf("renewed=%d failed=%d", renewed, failed)
		}
		if !deps.subs.Get(42).CurrentPeriodEnd.After(time.Now()) {
			t.Fatalf("period end not pushed forward")
		}

		renewed, failed, err = deps.uc.RenewDue(ctx, time.Now(), 100)
		if err != nil {
			t.Fatalf("second RenewDue: %v", err)
		}
		if renewed != 0 || failed != 0 {
			t.Fatalf("second sweep did work: renewed=%d failed=%d", renewed, failed)
		}
	})

	t.Run("failed charge marks past_due and prompts manual payment", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.recurring.ChargeRecurringFunc = func(ctx context.Context, ref string, amount int64) (*adapter.Charge, error) {
			return nil, domain.ErrProviderRejected
		}
		p := startWaiting(t, deps, 42, model.MethodRecurring)
		if _, _, err := deps.uc.Complete(ctx, p.ID, usecase.SourceWebhook); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		sent := deps.bot.SentCount()
		sub := deps.subs.Get(42)
		sub.CurrentPeriodEnd = time.Now().Add(-time.Hour)
		if err := deps.subs.Upsert(ctx, nil, sub); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		renewed, failed, err := deps.uc.RenewDue(ctx, time.Now(), 100)
		if err != nil {
			t.Fatalf("RenewDue: %v", err)
		}
		if renewed != 0 || failed != 1 {
			t.Fatalf("renewed=%d failed=%d", renewed, failed)
		}
		if deps.subs.Get(42).Status != model.SubscriptionStatusPastDue {
			t.Fatalf("subscription not past_due")
		}
		if deps.bot.SentCount() != sent+1 {
			t.Fatalf("user not notified about the failed renewal")
		}
	})
}

func TestPaymentUseCase_ExpireStale(t *testing.T) {
	ctx := context.Background()

	t.Run("stale crypto invoices expire and the user is told", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCrypto)

		// Age the record past the window.
		aged := deps.payments.Get(p.ID)
		aged.CreatedAt = time.Now().Add(-time.Hour)
		deps.payments.Put(aged)

		n, err := deps.uc.ExpireStale(ctx, 15*time.Minute, 100)
		if err != nil {
			t.Fatalf("ExpireStale: %v", err)
		}
		if n != 1 {
			t.Fatalf("expired = %d, want 1", n)
		}
		if got := deps.payments.Get(p.ID).Status; got != model.PaymentStatusExpired {
			t.Fatalf("status = %s, want expired", got)
		}
	})

	t.Run("fresh invoices are left alone", func(t *testing.T) {
		deps := newPaymentUCDeps()
		p := startWaiting(t, deps, 42, model.MethodCrypto)

		n, err := deps.uc.ExpireStale(ctx, 15*time.Minute, 100)
		if err != nil {
			t.Fatalf("ExpireStale: %v", err)
		}
		if n != 0 {
			t.Fatalf("expired = %d, want 0", n)
		}
		if got := deps.payments.Get(p.ID).Status; got != model.PaymentStatusWaitingRedirect {
			t.Fatalf("status = %s, want waiting_for_redirect", got)
		}
	})
}
