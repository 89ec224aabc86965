// File: internal/infra/web/admin.go
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/repository"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.cfg.Admin.Password == "" ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Admin.Password)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Failed to mint token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalPayments, err := s.payments.CountPayments(ctx)
	if err != nil {
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}
	totalUsers, err := s.payments.CountDistinctUsers(ctx)
	if err != nil {
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}
	activeSubs, err := s.subs.CountActive(ctx)
	if err != nil {
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TotalUsers          int `json:"total_users"`
		TotalPayments       int `json:"total_payments"`
		ActiveSubscriptions int `json:"active_subscriptions"`
	}{totalUsers, totalPayments, activeSubs})
}

type paymentView struct {
	ID          string     `json:"id"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	AccessNote  string     `json:"access_note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

func (s *Server) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	var subView *struct {
		Status           string    `json:"status"`
		CurrentPeriodEnd time.Time `json:"current_period_end"`
		AutoRenew        bool      `json:"auto_renew"`
	}
	sub, err := s.subs.FindByUser(ctx, repository.NoTX, userID)
	switch {
	case err == nil:
		subView = &struct {
			Status           string    `json:"status"`
			CurrentPeriodEnd time.Time `json:"current_period_end"`
			AutoRenew        bool      `json:"auto_renew"`
		}{string(sub.Status), sub.CurrentPeriodEnd, sub.AutoRenew}
	case errors.Is(err, domain.ErrNotFound):
		// no subscription yet, still report payments
	default:
		http.Error(w, "Failed to load subscription", http.StatusInternalServerError)
		return
	}

	payments, err := s.payments.ListByUser(ctx, repository.NoTX, userID, 50)
	if err != nil {
		http.Error(w, "Failed to load payments", http.StatusInternalServerError)
		return
	}
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, toPaymentView(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"subscription": subView,
		"payments":     views,
	})
}

func toPaymentView(p *model.Payment) paymentView {
	return paymentView{
		ID:          p.ID,
		Method:      string(p.Method),
		Status:      string(p.Status),
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		ProviderRef: p.ProviderRef,
		AccessNote:  p.AccessNote,
		CreatedAt:   p.CreatedAt,
		PaidAt:      p.PaidAt,
	}
}
