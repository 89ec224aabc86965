// File: internal/application/bot_facade.go
package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/infra/metrics"
	"telegram-paywall-bot/internal/infra/payment"
	"telegram-paywall-bot/internal/usecase"
)

// Reply is what the Telegram adapter forwards to the chat: text plus an
// optional inline keyboard.
type Reply struct {
	Text    string
	Buttons [][]adapter.InlineButton
}

func textReply(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

// BotFacade composes usecases into high-level bot interactions. The Telegram
// adapter stays a dumb pipe: it parses updates, calls the facade, sends the
// reply.
type BotFacade struct {
	PayUC  usecase.PaymentUseCase
	SubUC  usecase.SubscriptionUseCase
	States repository.StateRepository

	Payments repository.PaymentRepository
	Subs     repository.SubscriptionRepository

	adminIDs   map[int64]struct{}
	supportURL string
	log        *zerolog.Logger
}

func NewBotFacade(
	payUC usecase.PaymentUseCase,
	subUC usecase.SubscriptionUseCase,
	states repository.StateRepository,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	adminIDs []int64,
	supportURL string,
	logger *zerolog.Logger,
) *BotFacade {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	l := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{
		PayUC:      payUC,
		SubUC:      subUC,
		States:     states,
		Payments:   payments,
		Subs:       subs,
		adminIDs:   admins,
		supportURL: supportURL,
		log:        &l,
	}
}

func (b *BotFacade) IsAdmin(tgID int64) bool {
	_, ok := b.adminIDs[tgID]
	return ok
}

// HandleStart greets the user: an active subscriber sees their status, anyone
// else gets the payment method chooser.
func (b *BotFacade) HandleStart(ctx context.Context, tgID int64) (Reply, error) {
	_ = b.States.ClearState(ctx, tgID)

	sub, err := b.SubUC.Status(ctx, tgID)
	if err != nil && !errors.Is(err, domain.ErrNoSubscription) {
		return Reply{}, err
	}
	if sub != nil && !sub.Expired(time.Now()) {
		return b.subscriptionReply(sub), nil
	}
	return b.methodChooser(), nil
}

func (b *BotFacade) methodChooser() Reply {
	return Reply{
		Text: "Choose how you want to pay for community access (1 month):",
		Buttons: [][]adapter.InlineButton{
			{{Text: "💳 Bank card", Data: "choose:card"}},
			{{Text: "🔁 Card with auto-renewal", Data: "choose:recurring"}},
			{{Text: "🪙 Cryptocurrency", Data: "choose:crypto"}},
		},
	}
}

func (b *BotFacade) subscriptionReply(sub *model.Subscription) Reply {
	autoRenew := "off"
	if sub.AutoRenew {
		autoRenew = "on"
	}
	status := "active"
	if sub.Status == model.SubscriptionStatusPastDue {
		status = "past due (last renewal failed)"
	}
	text := fmt.Sprintf("Your subscription is %s.\nPaid until: %s\nAuto-renewal: %s",
		status, sub.CurrentPeriodEnd.Format("02.01.2006"), autoRenew)
	return Reply{
		Text: text,
		Buttons: [][]adapter.InlineButton{
			{{Text: "🔄 Toggle auto-renewal", Data: "sub:autorenew"}},
			{{Text: "💳 Pay for another month", Data: "choose:card"}},
		},
	}
}

// HandleCallback routes inline keyboard presses. The data format is
// "verb:argument". The profile snapshot is stored on new payments for the
// admin lookup.
func (b *BotFacade) HandleCallback(ctx context.Context, tgID int64, data string, info usecase.UserInfo) (Reply, error) {
	verb, arg, _ := strings.Cut(data, ":")
	switch verb {
	case "choose":
		return b.handleChoose(ctx, tgID, model.PaymentMethod(arg), info)
	case "confirm":
		return b.handleConfirm(ctx, tgID, arg)
	case "check":
		return b.handleCheck(ctx, tgID, arg)
	case "cancel":
		return b.handleCancel(ctx, tgID, arg)
	case "sub":
		return b.handleSubAction(ctx, tgID, arg)
	case "admin":
		return b.handleAdminAction(ctx, tgID, arg)
	}
	return textReply("Unknown action. Use /start."), nil
}

func (b *BotFacade) handleChoose(ctx context.Context, tgID int64, method model.PaymentMethod, info usecase.UserInfo) (Reply, error) {
	p, err := b.PayUC.Start(ctx, tgID, method, info)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return textReply("This payment method is not available right now."), nil
		}
		return Reply{}, err
	}
	return b.handleConfirm(ctx, tgID, p.ID)
}

func (b *BotFacade) handleConfirm(ctx context.Context, tgID int64, paymentID string) (Reply, error) {
	p, err := b.PayUC.Confirm(ctx, tgID, paymentID)
	switch {
	case errors.Is(err, domain.ErrEmailRequired):
		state := &repository.ConversationState{
			Step: repository.StepAwaitingEmail,
			Data: map[string]string{"payment_id": paymentID},
		}
		if serr := b.States.SetState(ctx, tgID, state); serr != nil {
			return Reply{}, serr
		}
		return textReply("An email address is required for the payment receipt. Please send it as a message."), nil
	case errors.Is(err, domain.ErrNotFound):
		return textReply("Payment not found. Use /start to begin again."), nil
	case errors.Is(err, domain.ErrNotPending):
		return textReply("This payment can no longer be paid. Use /start to begin again."), nil
	case errors.Is(err, domain.ErrProviderUnavailable):
		return textReply("The payment provider is temporarily unavailable. Please try again in a few minutes."), nil
	case errors.Is(err, domain.ErrProviderRejected):
		return textReply("The payment provider rejected the request. Please contact support: %s", b.supportURL), nil
	case err != nil:
		return Reply{}, err
	}

	text := fmt.Sprintf("Invoice for %s %s is ready. Pay using the button below, then press \"I have paid\".",
		payment.FormatOutSum(p.AmountMinor), p.Currency)
	return Reply{
		Text: text,
		Buttons: [][]adapter.InlineButton{
			{{Text: "💳 Pay", URL: p.PaymentURL}},
			{{Text: "✅ I have paid", Data: "check:" + p.ID}},
			{{Text: "❌ Cancel", Data: "cancel:" + p.ID}},
		},
	}, nil
}

func (b *BotFacade) handleCheck(ctx context.Context, tgID int64, paymentID string) (Reply, error) {
	p, paid, err := b.PayUC.CheckStatus(ctx, tgID, paymentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return textReply("Payment not found. Use /start to begin again."), nil
	case errors.Is(err, domain.ErrProviderUnavailable):
		return textReply("Could not reach the payment provider. Please try again in a minute."), nil
	case err != nil:
		return Reply{}, err
	}
	if paid {
		// The completion notification with the invite link is sent by the
		// reconciliation engine; this is just the tap acknowledgement.
		return textReply("Payment confirmed ✅"), nil
	}
	if p.Status.Terminal() {
		return textReply("This payment is closed (%s). Use /start to begin again.", p.Status), nil
	}
	return textReply("The payment has not arrived yet. If you have just paid, wait a minute and press the button again."), nil
}

func (b *BotFacade) handleCancel(ctx context.Context, tgID int64, paymentID string) (Reply, error) {
	err := b.PayUC.Cancel(ctx, tgID, paymentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return textReply("Payment not found."), nil
	case errors.Is(err, domain.ErrNotPending):
		return textReply("This payment is already completed and cannot be cancelled."), nil
	case err != nil:
		return Reply{}, err
	}
	return textReply("Payment cancelled. Use /start whenever you are ready."), nil
}

func (b *BotFacade) handleSubAction(ctx context.Context, tgID int64, action string) (Reply, error) {
	switch action {
	case "view":
		sub, err := b.SubUC.Status(ctx, tgID)
		if errors.Is(err, domain.ErrNoSubscription) {
			return b.methodChooser(), nil
		}
		if err != nil {
			return Reply{}, err
		}
		return b.subscriptionReply(sub), nil
	case "autorenew":
		on, err := b.SubUC.ToggleAutoRenew(ctx, tgID)
		if errors.Is(err, domain.ErrNoSubscription) {
			return textReply("You have no subscription yet. Use /start to get one."), nil
		}
		if err != nil {
			return Reply{}, err
		}
		text := "Auto-renewal is now OFF. Your access ends with the paid period."
		if on {
			text = "Auto-renewal is now ON. We will charge your card when the period ends."
		}
		return Reply{
			Text:    text,
			Buttons: [][]adapter.InlineButton{{{Text: "📋 My subscription", Data: "sub:view"}}},
		}, nil
	}
	return textReply("Unknown action."), nil
}

// HandleText consumes free-form messages according to the user's conversation
// state. Without a state, the bot nudges toward /start.
func (b *BotFacade) HandleText(ctx context.Context, tgID int64, text string) (Reply, error) {
	state, err := b.States.GetState(ctx, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return textReply("I did not understand that. Use /start."), nil
		}
		return Reply{}, err
	}

	switch state.Step {
	case repository.StepAwaitingEmail:
		return b.handleEmailInput(ctx, tgID, state, strings.TrimSpace(text))
	case repository.StepAwaitingAdminQuery:
		return b.handleAdminQuery(ctx, tgID, strings.TrimSpace(text))
	}
	return textReply("I did not understand that. Use /start."), nil
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func (b *BotFacade) handleEmailInput(ctx context.Context, tgID int64, state *repository.ConversationState, email string) (Reply, error) {
	if !emailRe.MatchString(email) {
		return textReply("That does not look like an email address. Please try again."), nil
	}
	paymentID := state.Data["payment_id"]
	if _, err := b.PayUC.SetEmail(ctx, tgID, paymentID, email); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotPending) {
			_ = b.States.ClearState(ctx, tgID)
			return textReply("This payment is no longer open. Use /start to begin again."), nil
		}
		return Reply{}, err
	}
	_ = b.States.ClearState(ctx, tgID)
	return b.handleConfirm(ctx, tgID, paymentID)
}

// --- admin surface ---

func (b *BotFacade) HandleAdmin(ctx context.Context, tgID int64) (Reply, error) {
	if !b.IsAdmin(tgID) {
		metrics.IncAdminCommand("panel", "unauthorized")
		return textReply("I did not understand that. Use /start."), nil
	}
	metrics.IncAdminCommand("panel", "authorized")
	return Reply{
		Text: "Admin panel:",
		Buttons: [][]adapter.InlineButton{
			{{Text: "📊 Stats", Data: "admin:stats"}},
			{{Text: "🔍 Find user", Data: "admin:find"}},
		},
	}, nil
}

func (b *BotFacade) handleAdminAction(ctx context.Context, tgID int64, action string) (Reply, error) {
	if !b.IsAdmin(tgID) {
		metrics.IncAdminCommand(action, "unauthorized")
		return textReply("I did not understand that. Use /start."), nil
	}
	metrics.IncAdminCommand(action, "authorized")

	switch action {
	case "stats":
		text, err := b.HandleStats(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: text}, nil
	case "find":
		state := &repository.ConversationState{Step: repository.StepAwaitingAdminQuery}
		if err := b.States.SetState(ctx, tgID, state); err != nil {
			return Reply{}, err
		}
		return textReply("Send the numeric Telegram id of the user to look up."), nil
	}
	return textReply("Unknown admin action."), nil
}

// HandleStats builds the admin-facing stats summary.
func (b *BotFacade) HandleStats(ctx context.Context) (string, error) {
	totalPayments, err := b.Payments.CountPayments(ctx)
	if err != nil {
		return "", fmt.Errorf("count payments: %w", err)
	}
	totalUsers, err := b.Payments.CountDistinctUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	activeSubs, err := b.Subs.CountActive(ctx)
	if err != nil {
		return "", fmt.Errorf("count active subscriptions: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("📊 System Statistics:\n\n")
	sb.WriteString(fmt.Sprintf("👥 Users seen: %d\n", totalUsers))
	sb.WriteString(fmt.Sprintf("🧾 Payments recorded: %d\n", totalPayments))
	sb.WriteString(fmt.Sprintf("✅ Active subscriptions: %d\n", activeSubs))
	return sb.String(), nil
}

func (b *BotFacade) handleAdminQuery(ctx context.Context, tgID int64, query string) (Reply, error) {
	if !b.IsAdmin(tgID) {
		_ = b.States.ClearState(ctx, tgID)
		return textReply("I did not understand that. Use /start."), nil
	}
	userID, err := strconv.ParseInt(query, 10, 64)
	if err != nil {
		return textReply("Please send a numeric Telegram id."), nil
	}
	_ = b.States.ClearState(ctx, tgID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("User %d\n\n", userID))

	sub, err := b.Subs.FindByUser(ctx, repository.NoTX, userID)
	switch {
	case err == nil:
		sb.WriteString(fmt.Sprintf("Subscription: %s until %s, auto-renew %v\n",
			sub.Status, sub.CurrentPeriodEnd.Format("02.01.2006"), sub.AutoRenew))
	case errors.Is(err, domain.ErrNotFound):
		sb.WriteString("Subscription: none\n")
	default:
		return Reply{}, err
	}

	payments, err := b.Payments.ListByUser(ctx, repository.NoTX, userID, 10)
	if err != nil {
		return Reply{}, err
	}
	if len(payments) == 0 {
		sb.WriteString("Payments: none")
	} else {
		sb.WriteString("\nLast payments:\n")
		for _, p := range payments {
			sb.WriteString(fmt.Sprintf("- %s | %s | %s %s | %s\n",
				p.ID, p.Status, payment.FormatOutSum(p.AmountMinor), p.Currency,
				p.CreatedAt.Format("02.01.2006 15:04")))
		}
	}
	return Reply{Text: sb.String()}, nil
}
