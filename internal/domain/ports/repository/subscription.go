package repository

import (
	"context"
	"time"

	"telegram-paywall-bot/internal/domain/model"
)

type SubscriptionRepository interface {
	// Upsert inserts or replaces the single row keyed by user id.
	Upsert(ctx context.Context, tx Tx, s *model.Subscription) error

	FindByUser(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)
	FindByProviderSubscriptionRef(ctx context.Context, tx Tx, ref string) (*model.Subscription, error)

	// ListDueForRenewal returns subscriptions with auto-renew on whose paid
	// period has ended, oldest expiry first.
	ListDueForRenewal(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	SetAutoRenew(ctx context.Context, tx Tx, userID int64, on bool) error
	MarkPastDue(ctx context.Context, tx Tx, userID int64) error

	CountActive(ctx context.Context) (int, error)
}
