package repository

import (
	"context"
	"time"

	"telegram-paywall-bot/internal/domain/model"
)

type PaymentRepository interface {
	// Create inserts a new payment; returns domain.ErrAlreadyExists when the
	// id is already taken.
	Create(ctx context.Context, tx Tx, p *model.Payment) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByIDAndUser scopes the lookup to the owning user; the user-facing
	// poll/cancel paths must never act on another user's payment.
	FindByIDAndUser(ctx context.Context, tx Tx, id string, userID int64) (*model.Payment, error)
	FindByProviderRef(ctx context.Context, tx Tx, ref string) (*model.Payment, error)

	// SetCharge records the provider charge and moves pending -> waiting_for_redirect.
	SetCharge(ctx context.Context, tx Tx, id, providerRef, payURL string) error
	SetEmail(ctx context.Context, tx Tx, id, email string) error
	SetAccessNote(ctx context.Context, tx Tx, id, note string) error

	// CompleteIfPending atomically transitions to completed and stamps paid_at,
	// but only when the current status is still non-terminal. Returns whether
	// this caller won the transition; the loser must perform no side effects.
	CompleteIfPending(ctx context.Context, tx Tx, id string, paidAt time.Time) (bool, error)
	// MarkIfPending is the same conditional write for the other terminal
	// statuses (cancelled_by_user, expired).
	MarkIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus) (bool, error)

	// ListWaitingOlderThan returns waiting_for_redirect payments of the given
	// method created before the cutoff, oldest first.
	ListWaitingOlderThan(ctx context.Context, tx Tx, method model.PaymentMethod, olderThan time.Time, limit int) ([]*model.Payment, error)

	// Admin lookup helpers.
	ListByUser(ctx context.Context, tx Tx, userID int64, limit int) ([]*model.Payment, error)
	CountPayments(ctx context.Context) (int, error)
	CountDistinctUsers(ctx context.Context) (int, error)
}
