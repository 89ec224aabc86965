package adapter

import (
	"context"

	"telegram-paywall-bot/internal/domain/model"
)

// ChargeRequest carries everything a provider needs to create a charge.
type ChargeRequest struct {
	PaymentID   string // also used as the provider invoice id where the provider allows it
	UserID      int64
	AmountMinor int64
	Currency    string
	Description string
	Email       string // empty unless the provider requires a fiscal receipt
}

// Charge is the provider's answer to a successful charge creation.
type Charge struct {
	ProviderRef string
	PayURL      string
}

// ChargeStatus normalizes a provider's native status vocabulary.
type ChargeStatus struct {
	Paid        bool
	RawStatus   string // provider wording, for logs
	AmountMinor int64  // as reported by the provider, 0 when unknown
}

// PaymentGateway is the hex port for payment providers.
// CreateCharge failures are classified with domain.ErrProviderUnavailable
// (transient, retryable) or domain.ErrProviderRejected (terminal).
type PaymentGateway interface {
	Name() string
	Method() model.PaymentMethod
	// RequiresEmail reports whether a charge cannot be created without a
	// customer email (fiscal receipt requirement).
	RequiresEmail() bool

	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	// FetchStatus is the fallback used by the user-initiated poll path.
	FetchStatus(ctx context.Context, providerRef string) (*ChargeStatus, error)
	// CancelCharge is best-effort advisory cleanup; callers log failures
	// and proceed with the local cancellation regardless.
	CancelCharge(ctx context.Context, providerRef string) error
}

// RecurringGateway extends PaymentGateway for providers with native
// recurring billing.
type RecurringGateway interface {
	PaymentGateway
	// ChargeRecurring charges a stored subscription reference without user
	// interaction. Used by the renewal sweep.
	ChargeRecurring(ctx context.Context, subscriptionRef string, amountMinor int64) (*Charge, error)
}
