// File: internal/infra/web/webhooks.go
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/infra/metrics"
	"telegram-paywall-bot/internal/infra/payment"
	"telegram-paywall-bot/internal/usecase"
)

// formValue returns the first non-empty value among the given parameter
// names. Robokassa spells its parameters differently across endpoints
// (OutSum vs out_summ, SignatureValue vs crc).
func formValue(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Form.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// customParams collects everything beyond the well-known result fields;
// those participate in the signature base string.
func customParams(r *http.Request) map[string]string {
	out := make(map[string]string)
	for k, vs := range r.Form {
		switch strings.ToLower(k) {
		case "outsum", "out_summ", "invid", "inv_id", "signaturevalue", "crc", "subscriptionid":
			continue
		}
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// handleRobokassaResult is the Result URL for the card redirect flow.
// The provider retries until it reads back "OK{InvId}".
func (s *Server) handleRobokassaResult(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metrics.IncWebhook("robokassa", "malformed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	outSum := formValue(r, "OutSum", "out_summ")
	invID := formValue(r, "InvId", "inv_id")
	sig := formValue(r, "SignatureValue", "crc")
	if outSum == "" || invID == "" || sig == "" {
		metrics.IncWebhook("robokassa", "malformed")
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}

	if !s.signer.VerifyResult(outSum, invID, sig, customParams(r)) {
		metrics.IncWebhook("robokassa", "bad_signature")
		s.log.Warn().Str("inv_id", invID).Msg("robokassa result with bad signature")
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	_, transitioned, err := s.payUC.Complete(r.Context(), invID, usecase.SourceWebhook)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncWebhook("robokassa", "not_found")
		http.Error(w, "unknown invoice", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrNotPending):
		// Cancelled or expired locally; the money is confirmed regardless,
		// so acknowledge and leave the record for manual review.
		s.log.Error().Str("payment_id", invID).Msg("paid notification for closed payment")
	case err != nil:
		metrics.IncWebhook("robokassa", "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err == nil && !transitioned {
		metrics.IncWebhook("robokassa", "duplicate")
	} else if err == nil {
		metrics.IncWebhook("robokassa", "ok")
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK%s", invID)
}

// handleRobokassaRecurring receives provider-initiated recurring charge
// notifications, correlated by the stored subscription reference.
func (s *Server) handleRobokassaRecurring(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metrics.IncWebhook("robokassa_recurring", "malformed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	outSum := formValue(r, "OutSum", "out_summ")
	invID := formValue(r, "InvId", "inv_id")
	sig := formValue(r, "SignatureValue", "crc")
	subscriptionRef := formValue(r, "SubscriptionId", "PreviousInvoiceID")
	if outSum == "" || invID == "" || sig == "" || subscriptionRef == "" {
		metrics.IncWebhook("robokassa_recurring", "malformed")
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}

	if !s.signer.VerifyResult(outSum, invID, sig, customParams(r)) {
		metrics.IncWebhook("robokassa_recurring", "bad_signature")
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	amountMinor, err := payment.ParseOutSum(outSum)
	if err != nil {
		metrics.IncWebhook("robokassa_recurring", "malformed")
		http.Error(w, "bad amount", http.StatusBadRequest)
		return
	}

	_, transitioned, err := s.payUC.CompleteRecurring(r.Context(), subscriptionRef, invID, amountMinor, usecase.SourceWebhook)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncWebhook("robokassa_recurring", "not_found")
		http.Error(w, "unknown subscription", http.StatusNotFound)
		return
	case err != nil:
		metrics.IncWebhook("robokassa_recurring", "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if transitioned {
		metrics.IncWebhook("robokassa_recurring", "ok")
	} else {
		metrics.IncWebhook("robokassa_recurring", "duplicate")
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK%s", invID)
}

type cryptoCloudPostback struct {
	UUID    string `json:"uuid"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// handleCryptoCloudPostback authenticates the crypto invoice postback with
// the X-Signature keyed hash, then funnels it into the same completion path.
func (s *Server) handleCryptoCloudPostback(w http.ResponseWriter, r *http.Request) {
	var pb cryptoCloudPostback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil || pb.UUID == "" {
		metrics.IncWebhook("cryptocloud", "malformed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !s.verifier.Verify(pb.UUID, r.Header.Get("X-Signature")) {
		metrics.IncWebhook("cryptocloud", "bad_signature")
		s.log.Warn().Str("invoice", pb.UUID).Msg("cryptocloud postback with bad signature")
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	switch strings.ToLower(pb.Status) {
	case "success", "paid", "overpaid":
	default:
		// Informational statuses are acknowledged and ignored; local expiry
		// is handled by the sweep.
		metrics.IncWebhook("cryptocloud", "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	// order_id carries our payment id; fall back to the invoice uuid the
	// gateway stored as the provider reference.
	var transitioned bool
	var err error
	if pb.OrderID != "" {
		_, transitioned, err = s.payUC.Complete(r.Context(), pb.OrderID, usecase.SourceWebhook)
	} else {
		_, transitioned, err = s.payUC.CompleteByProviderRef(r.Context(), pb.UUID, usecase.SourceWebhook)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncWebhook("cryptocloud", "not_found")
		http.Error(w, "unknown invoice", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrNotPending):
		s.log.Error().Str("invoice", pb.UUID).Msg("paid postback for closed payment")
	case err != nil:
		metrics.IncWebhook("cryptocloud", "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err == nil && transitioned {
		metrics.IncWebhook("cryptocloud", "ok")
	} else if err == nil {
		metrics.IncWebhook("cryptocloud", "duplicate")
	}
	w.WriteHeader(http.StatusOK)
}
