// File: internal/usecase/access_uc.go
package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/infra/metrics"
)

type GrantKind string

const (
	GrantAlreadyMember GrantKind = "already_member"
	GrantIsOwner       GrantKind = "is_owner"
	GrantLink          GrantKind = "granted_link"
	GrantNoLink        GrantKind = "granted_no_link"
	GrantFailed        GrantKind = "failed"
)

// GrantOutcome is the discriminated result of an access grant attempt.
type GrantOutcome struct {
	Kind       GrantKind
	InviteLink string // set only for GrantLink
	Reason     string // set only for GrantFailed
}

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

type AccessUseCase interface {
	// Grant is idempotent: a user who already has access gets a no-op
	// outcome, never a second invite link.
	Grant(ctx context.Context, userID int64) GrantOutcome
}

type accessUC struct {
	gate adapter.CommunityGate
	log  *zerolog.Logger
}

func NewAccessUseCase(gate adapter.CommunityGate, logger *zerolog.Logger) *accessUC {
	l := logger.With().Str("component", "AccessUC").Logger()
	return &accessUC{gate: gate, log: &l}
}

func (u *accessUC) Grant(ctx context.Context, userID int64) GrantOutcome {
	status, err := u.gate.MemberStatus(ctx, userID)
	if err != nil {
		// A failed membership check must not block a paying user; proceed as
		// if the user were outside the chat and let the invite path decide.
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("member status check failed")
		status = adapter.MemberStatusNotFound
	}

	switch status {
	case adapter.MemberStatusCreator:
		metrics.IncAccessGrant(string(GrantIsOwner))
		return GrantOutcome{Kind: GrantIsOwner}
	case adapter.MemberStatusAdministrator, adapter.MemberStatusMember, adapter.MemberStatusRestricted:
		metrics.IncAccessGrant(string(GrantAlreadyMember))
		return GrantOutcome{Kind: GrantAlreadyMember}
	}

	link, linkErr := u.gate.CreateInviteLink(ctx)

	if status == adapter.MemberStatusKicked {
		// Lifting the ban lets the invite link work. "Not banned" comes back
		// as nil from the adapter; anything else is logged and, when a link
		// was already obtained, does not abort the grant.
		if err := u.gate.Unban(ctx, userID); err != nil {
			u.log.Warn().Err(err).Int64("user_id", userID).Msg("unban failed")
			if linkErr != nil {
				metrics.IncAccessGrant(string(GrantFailed))
				return GrantOutcome{Kind: GrantFailed, Reason: "unban failed: " + err.Error()}
			}
		}
	}

	if linkErr == nil && link != "" {
		metrics.IncAccessGrant(string(GrantLink))
		return GrantOutcome{Kind: GrantLink, InviteLink: link}
	}

	// No invite-link capability for this chat type: restore membership
	// directly by lifting any ban.
	u.log.Warn().Err(linkErr).Int64("user_id", userID).Msg("invite link unavailable, falling back to unban")
	if err := u.gate.Unban(ctx, userID); err != nil {
		metrics.IncAccessGrant(string(GrantFailed))
		return GrantOutcome{Kind: GrantFailed, Reason: "invite link and unban both failed"}
	}
	metrics.IncAccessGrant(string(GrantNoLink))
	return GrantOutcome{Kind: GrantNoLink}
}
