// File: internal/infra/telegram/real_bot.go
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/application"
	"telegram-paywall-bot/internal/config"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	"telegram-paywall-bot/internal/infra/logging"
	"telegram-paywall-bot/internal/infra/redis"
	"telegram-paywall-bot/internal/usecase"
)

// Compile-time checks
var (
	_ adapter.BotAdapter    = (*RealBotAdapter)(nil)
	_ adapter.CommunityGate = (*RealBotAdapter)(nil)
)

// RealBotAdapter implements both ports against tgbotapi with concurrent
// polling: the outbound message surface and the gated-community membership
// surface.
type RealBotAdapter struct {
	bot     *tgbotapi.BotAPI
	cfg     *config.BotConfig
	chatID  int64
	facade  *application.BotFacade
	limiter *redis.RateLimiter
	log     *zerolog.Logger

	// updateWorkers is how many goroutines will concurrently process updates.
	updateWorkers int
	cancelPolling context.CancelFunc
}

func NewRealBotAdapter(cfg *config.BotConfig, communityChatID int64, limiter *redis.RateLimiter, logger *zerolog.Logger) (*RealBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	l := logger.With().Str("component", "TelegramBot").Logger()
	return &RealBotAdapter{
		bot:           bot,
		cfg:           cfg,
		chatID:        communityChatID,
		limiter:       limiter,
		log:           &l,
		updateWorkers: workers,
	}, nil
}

// SetFacade breaks the construction cycle: the facade needs the bot as its
// notifier and the bot needs the facade for routing.
func (r *RealBotAdapter) SetFacade(f *application.BotFacade) { r.facade = f }

// StartPolling begins polling Telegram for updates concurrently.
// It runs until ctx is canceled.
func (r *RealBotAdapter) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := r.bot.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	r.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case update, ok := <-updateChan:
					if !ok {
						return
					}
					if err := r.handleUpdate(ctx, update); err != nil {
						r.log.Error().Err(err).Int("worker", workerID).Msg("error handling update")
					}
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}

	// Dispatcher goroutine: feed updates into updateChan
	go func() {
		defer close(updateChan)
		for {
			select {
			case update := <-updates:
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	r.bot.StopReceivingUpdates()
	wg.Wait()
	return nil
}

// StopPolling stops the polling loop gracefully.
func (r *RealBotAdapter) StopPolling() {
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}

// --- adapter.BotAdapter ---

func (r *RealBotAdapter) SendMessage(ctx context.Context, tgID int64, text string) error {
	msg := tgbotapi.NewMessage(tgID, text)
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealBotAdapter) SendButtons(ctx context.Context, tgID int64, text string, rows [][]adapter.InlineButton) error {
	msg := tgbotapi.NewMessage(tgID, text)
	msg.ReplyMarkup = buildKeyboard(rows)
	_, err := r.bot.Send(msg)
	return err
}

func buildKeyboard(rows [][]adapter.InlineButton) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		kb = append(kb, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

// --- adapter.CommunityGate ---

func (r *RealBotAdapter) MemberStatus(ctx context.Context, userID int64) (string, error) {
	member, err := r.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: r.chatID, UserID: userID},
	})
	if err != nil {
		// Telegram answers "user not found" for users it never saw in the chat.
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return adapter.MemberStatusNotFound, nil
		}
		return "", fmt.Errorf("get chat member: %w", err)
	}
	if member.Status == "" {
		return adapter.MemberStatusNotFound, nil
	}
	return member.Status, nil
}

func (r *RealBotAdapter) CreateInviteLink(ctx context.Context) (string, error) {
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: r.chatID},
		MemberLimit: 1, // single redemption, so links cannot be shared
	}
	resp, err := r.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	return link.InviteLink, nil
}

func (r *RealBotAdapter) Unban(ctx context.Context, userID int64) error {
	cfg := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: r.chatID, UserID: userID},
		OnlyIfBanned:     true,
	}
	if _, err := r.bot.Request(cfg); err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	return nil
}

// --- inbound routing ---

func (r *RealBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	ctx = logging.WithTraceID(ctx, uuid.NewString())

	switch {
	case update.CallbackQuery != nil:
		return r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		return r.handleMessage(ctx, update.Message)
	}
	return nil
}

func (r *RealBotAdapter) allow(ctx context.Context, tgID int64, kind string) bool {
	if r.limiter == nil {
		return true
	}
	ok, err := r.limiter.Allow(ctx, redis.UserCommandKey(tgID, kind), 20, time.Minute)
	if err != nil {
		// Limiter trouble must not lock users out.
		r.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func userInfo(from *tgbotapi.User) usecase.UserInfo {
	return usecase.UserInfo{
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
}

func (r *RealBotAdapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	tgID := msg.From.ID
	ctx = logging.WithTgID(ctx, tgID)

	if !r.allow(ctx, tgID, "message") {
		return r.SendMessage(ctx, tgID, "Too many requests, please slow down.")
	}

	var (
		reply application.Reply
		err   error
	)
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		reply, err = r.facade.HandleStart(ctx, tgID)
	case strings.HasPrefix(text, "/admin"):
		reply, err = r.facade.HandleAdmin(ctx, tgID)
	default:
		reply, err = r.facade.HandleText(ctx, tgID, text)
	}
	if err != nil {
		r.log.Error().Err(err).Int64("tg_id", tgID).Msg("message handling failed")
		return r.SendMessage(ctx, tgID, "Something went wrong, please try again later.")
	}
	return r.send(ctx, tgID, reply)
}

func (r *RealBotAdapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	tgID := cb.From.ID
	ctx = logging.WithTgID(ctx, tgID)

	// Always answer the callback so the client stops the spinner.
	if _, err := r.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		r.log.Debug().Err(err).Msg("answer callback failed")
	}

	if !r.allow(ctx, tgID, "callback") {
		return r.SendMessage(ctx, tgID, "Too many requests, please slow down.")
	}

	reply, err := r.facade.HandleCallback(ctx, tgID, cb.Data, userInfo(cb.From))
	if err != nil {
		r.log.Error().Err(err).Int64("tg_id", tgID).Str("data", cb.Data).Msg("callback handling failed")
		return r.SendMessage(ctx, tgID, "Something went wrong, please try again later.")
	}
	return r.send(ctx, tgID, reply)
}

func (r *RealBotAdapter) send(ctx context.Context, tgID int64, reply application.Reply) error {
	if reply.Text == "" {
		return nil
	}
	if len(reply.Buttons) > 0 {
		return r.SendButtons(ctx, tgID, reply.Text, reply.Buttons)
	}
	return r.SendMessage(ctx, tgID, reply.Text)
}
