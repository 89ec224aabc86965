package model

import (
	"fmt"
	"time"
)

type PaymentMethod string

const (
	MethodCard      PaymentMethod = "card"      // redirect checkout, bank card
	MethodRecurring PaymentMethod = "recurring" // provider-native recurring subscription
	MethodCrypto    PaymentMethod = "crypto"    // cryptocurrency invoice
	MethodRenewal   PaymentMethod = "renewal"   // synthetic payment created by the renewal sweep
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"              // record created, no charge yet
	PaymentStatusWaitingRedirect PaymentStatus = "waiting_for_redirect" // charge created, user sent to provider
	PaymentStatusCompleted       PaymentStatus = "completed"            // money confirmed
	PaymentStatusCancelled       PaymentStatus = "cancelled_by_user"
	PaymentStatusExpired         PaymentStatus = "expired" // provider-side invoice window passed
)

// Terminal reports whether no further status transition is allowed.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// Payment records one external payment attempt.
type Payment struct {
	ID          string // "{method}_{unixMilli}_{userID}"
	UserID      int64  // Telegram user id
	Method      PaymentMethod
	Status      PaymentStatus
	ProviderRef string // provider charge/invoice reference; empty until the charge is created
	AmountMinor int64  // minor currency units (kopecks)
	Currency    string
	PaymentURL  string // redirect target shown to the user
	UserEmail   string // collected only when the provider needs a fiscal receipt

	// Snapshot of the Telegram profile at creation, for admin lookup.
	Username  string
	FirstName string
	LastName  string

	// AccessNote records a post-payment access-grant failure so audit can
	// tell it apart from a payment failure. Empty on the happy path.
	AccessNote string

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time // set exactly once, on first transition into completed
}

// NewPayment builds a pending payment with the conventional id pattern.
func NewPayment(userID int64, method PaymentMethod, amountMinor int64, currency string) *Payment {
	now := time.Now()
	return &Payment{
		ID:          fmt.Sprintf("%s_%d_%d", method, now.UnixMilli(), userID),
		UserID:      userID,
		Method:      method,
		Status:      PaymentStatusPending,
		AmountMinor: amountMinor,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
