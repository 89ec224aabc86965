package repository

import "context"

// Conversation steps. Idle is represented by a missing state.
const (
	StepAwaitingAdminQuery = "awaiting_admin_query"
	StepAwaitingEmail      = "awaiting_email"
)

// ConversationState holds a user's progress in a multi-step flow.
// Stored with a TTL so abandoned flows clear themselves.
type ConversationState struct {
	Step string            `json:"step"`
	Data map[string]string `json:"data"` // collected info, e.g. payment_id
}

// StateRepository is the port for per-user conversational state.
type StateRepository interface {
	SetState(ctx context.Context, tgID int64, state *ConversationState) error
	GetState(ctx context.Context, tgID int64) (*ConversationState, error)
	ClearState(ctx context.Context, tgID int64) error
}
