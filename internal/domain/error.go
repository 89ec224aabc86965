package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payment lifecycle errors
	ErrAuthenticationFailed = errors.New("notification signature verification failed")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrProviderRejected     = errors.New("payment provider rejected the request")
	ErrNotPending           = errors.New("payment is no longer pending")
	ErrEmailRequired        = errors.New("email required before creating this charge")

	// Access errors
	ErrNoSubscription = errors.New("no subscription for user")
)
