package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, method, status, provider_ref, amount_minor, currency, payment_url, user_email, username, first_name, last_name, access_note, created_at, updated_at, paid_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(&p.ID, &p.UserID, &p.Method, &p.Status, &p.ProviderRef, &p.AmountMinor, &p.Currency, &p.PaymentURL, &p.UserEmail, &p.Username, &p.FirstName, &p.LastName, &p.AccessNote, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, method, status, provider_ref, amount_minor, currency, payment_url, user_email, username, first_name, last_name, access_note, created_at, updated_at, paid_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.Method, p.Status, p.ProviderRef, p.AmountMinor, p.Currency, p.PaymentURL, p.UserEmail, p.Username, p.FirstName, p.LastName, p.AccessNote, p.CreatedAt, p.UpdatedAt, p.PaidAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByIDAndUser(ctx context.Context, tx repository.Tx, id string, userID int64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1 AND user_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, id, userID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderRef(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, ref)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// SetCharge moves pending -> waiting_for_redirect while recording the
// provider reference and redirect URL.
func (r *paymentRepo) SetCharge(ctx context.Context, tx repository.Tx, id, providerRef, payURL string) error {
	const q = `
UPDATE payments
   SET status=$2, provider_ref=$3, payment_url=$4, updated_at=NOW()
 WHERE id=$1 AND status=$5;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, model.PaymentStatusWaitingRedirect, providerRef, payURL, model.PaymentStatusPending)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotPending
	}
	return nil
}

func (r *paymentRepo) SetEmail(ctx context.Context, tx repository.Tx, id, email string) error {
	const q = `UPDATE payments SET user_email=$2, updated_at=NOW() WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id, email); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) SetAccessNote(ctx context.Context, tx repository.Tx, id, note string) error {
	const q = `UPDATE payments SET access_note=$2, updated_at=NOW() WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id, note); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

// CompleteIfPending atomically finishes the payment only when it has not
// reached a terminal status yet. The first writer wins; paid_at is written
// exactly once.
func (r *paymentRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status=$2, paid_at=$3, updated_at=NOW()
 WHERE id=$1
   AND status IN ('pending','waiting_for_redirect');`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, model.PaymentStatusCompleted, paidAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payments
   SET status=$2, updated_at=NOW()
 WHERE id=$1
   AND status IN ('pending','waiting_for_redirect');`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, status)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListWaitingOlderThan(ctx context.Context, tx repository.Tx, method model.PaymentMethod, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='waiting_for_redirect' AND method=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, method, olderThan, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]*model.Payment, error) {
	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *paymentRepo) CountPayments(ctx context.Context) (int, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT COUNT(*) FROM payments;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *paymentRepo) CountDistinctUsers(ctx context.Context) (int, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT COUNT(DISTINCT user_id) FROM payments;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
