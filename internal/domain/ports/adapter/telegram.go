package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// BotAdapter sends messages back to users.
type BotAdapter interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
	SendButtons(ctx context.Context, telegramID int64, text string, rows [][]InlineButton) error
}

// Community member statuses as reported by the messaging platform.
const (
	MemberStatusCreator       = "creator"
	MemberStatusAdministrator = "administrator"
	MemberStatusMember        = "member"
	MemberStatusRestricted    = "restricted"
	MemberStatusLeft          = "left"
	MemberStatusKicked        = "kicked"
	MemberStatusNotFound      = "not_found"
)

// CommunityGate wraps the membership surface of the gated chat.
type CommunityGate interface {
	// MemberStatus returns one of the MemberStatus* constants. A user the
	// platform has never seen in the chat maps to MemberStatusNotFound.
	MemberStatus(ctx context.Context, userID int64) (string, error)
	// CreateInviteLink returns a fresh single-redemption invite link.
	CreateInviteLink(ctx context.Context) (string, error)
	// Unban lifts a previous ban. Implementations return nil when the user
	// was not banned in the first place.
	Unban(ctx context.Context, userID int64) error
}
