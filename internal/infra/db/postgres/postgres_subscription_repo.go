package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `user_id, status, current_period_end, auto_renew, last_payment_id, method, amount_minor, currency, provider_subscription_ref, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(&s.UserID, &s.Status, &s.CurrentPeriodEnd, &s.AutoRenew, &s.LastPaymentID, &s.Method, &s.AmountMinor, &s.Currency, &s.ProviderSubscriptionRef, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

// Upsert keeps exactly one row per user: a renewal updates the existing row.
func (r *subscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  user_id, status, current_period_end, auto_renew, last_payment_id, method, amount_minor, currency, provider_subscription_ref, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (user_id) DO UPDATE SET
  status=$2, current_period_end=$3, auto_renew=$4, last_payment_id=$5, method=$6, amount_minor=$7, currency=$8, provider_subscription_ref=$9, updated_at=$11;`

	_, err := execSQL(ctx, r.pool, tx, q, s.UserID, s.Status, s.CurrentPeriodEnd, s.AutoRenew, s.LastPaymentID, s.Method, s.AmountMinor, s.Currency, s.ProviderSubscriptionRef, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindByProviderSubscriptionRef(ctx context.Context, tx repository.Tx, ref string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE provider_subscription_ref=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, ref)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) ListDueForRenewal(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE auto_renew = TRUE AND current_period_end <= $1
 ORDER BY current_period_end ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) SetAutoRenew(ctx context.Context, tx repository.Tx, userID int64, on bool) error {
	const q = `UPDATE subscriptions SET auto_renew=$2, updated_at=NOW() WHERE user_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, on)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) MarkPastDue(ctx context.Context, tx repository.Tx, userID int64) error {
	const q = `UPDATE subscriptions SET status=$2, updated_at=NOW() WHERE user_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, model.SubscriptionStatusPastDue)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) CountActive(ctx context.Context) (int, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT COUNT(*) FROM subscriptions WHERE status='active' AND current_period_end > NOW();`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
