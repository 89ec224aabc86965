// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type SubscriptionUseCase interface {
	// Activate extends the user's subscription by one calendar month from
	// the moment of activation and records the payment that paid for it.
	Activate(ctx context.Context, p *model.Payment, providerSubRef string) (*model.Subscription, error)
	Status(ctx context.Context, userID int64) (*model.Subscription, error)
	ToggleAutoRenew(ctx context.Context, userID int64) (bool, error)
	MarkPastDue(ctx context.Context, userID int64) error
}

type subscriptionUC struct {
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, logger *zerolog.Logger) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{subs: subs, log: &l}
}

func (u *subscriptionUC) Activate(ctx context.Context, p *model.Payment, providerSubRef string) (*model.Subscription, error) {
	now := time.Now()

	sub := &model.Subscription{
		UserID:                  p.UserID,
		Status:                  model.SubscriptionStatusActive,
		CurrentPeriodEnd:        now.AddDate(0, 1, 0),
		AutoRenew:               true,
		LastPaymentID:           p.ID,
		Method:                  p.Method,
		AmountMinor:             p.AmountMinor,
		Currency:                p.Currency,
		ProviderSubscriptionRef: providerSubRef,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	existing, err := u.subs.FindByUser(ctx, repository.NoTX, p.UserID)
	switch {
	case err == nil:
		// Renewals keep the user's auto-renew choice and the original
		// provider subscription handle if the new activation has none.
		sub.AutoRenew = existing.AutoRenew
		sub.CreatedAt = existing.CreatedAt
		if providerSubRef == "" {
			sub.ProviderSubscriptionRef = existing.ProviderSubscriptionRef
		}
	case errors.Is(err, domain.ErrNotFound):
		// first activation
	default:
		return nil, err
	}

	if err := u.subs.Upsert(ctx, repository.NoTX, sub); err != nil {
		return nil, err
	}
	metrics.IncSubscriptionEvent("activated")
	u.log.Info().Int64("user_id", p.UserID).Str("payment_id", p.ID).
		Time("period_end", sub.CurrentPeriodEnd).Msg("subscription activated")
	return sub, nil
}

func (u *subscriptionUC) Status(ctx context.Context, userID int64) (*model.Subscription, error) {
	sub, err := u.subs.FindByUser(ctx, repository.NoTX, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoSubscription
		}
		return nil, err
	}
	return sub, nil
}

func (u *subscriptionUC) ToggleAutoRenew(ctx context.Context, userID int64) (bool, error) {
	sub, err := u.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	next := !sub.AutoRenew
	if err := u.subs.SetAutoRenew(ctx, repository.NoTX, userID, next); err != nil {
		return false, err
	}
	return next, nil
}

func (u *subscriptionUC) MarkPastDue(ctx context.Context, userID int64) error {
	if err := u.subs.MarkPastDue(ctx, repository.NoTX, userID); err != nil {
		return err
	}
	metrics.IncSubscriptionEvent("past_due")
	return nil
}
