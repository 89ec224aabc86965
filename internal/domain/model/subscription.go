package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusPastDue SubscriptionStatus = "past_due" // last renewal attempt failed
)

// Subscription is the community-access entitlement, one row per user.
// A new payment updates this row, it never duplicates it.
type Subscription struct {
	UserID           int64 // unique key
	Status           SubscriptionStatus
	CurrentPeriodEnd time.Time
	AutoRenew        bool

	LastPaymentID string
	Method        PaymentMethod
	AmountMinor   int64
	Currency      string

	// ProviderSubscriptionRef correlates provider-native recurring billing
	// notifications. Empty for non-recurring methods.
	ProviderSubscriptionRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the paid period has run out.
func (s *Subscription) Expired(now time.Time) bool {
	return !s.CurrentPeriodEnd.After(now)
}
