package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
)

const cryptoCloudBaseURL = "https://api.cryptocloud.plus/v2/"

// CryptoCloudGateway wraps the crypto-invoice API: create, info, cancel.
// Invoices expire provider-side (~15 minutes); after that status checks
// report unpaid forever, which the expiry worker turns into a terminal state.
type CryptoCloudGateway struct {
	apiKey  string
	shopID  string
	baseURL string
	client  *http.Client
}

func NewCryptoCloudGateway(apiKey, shopID string) *CryptoCloudGateway {
	return &CryptoCloudGateway{
		apiKey:  apiKey,
		shopID:  shopID,
		baseURL: cryptoCloudBaseURL,
		client:  &http.Client{},
	}
}

func (g *CryptoCloudGateway) Name() string                { return "cryptocloud" }
func (g *CryptoCloudGateway) Method() model.PaymentMethod { return model.MethodCrypto }

// RequiresEmail: the provider issues a fiscal receipt and refuses invoices
// without a customer email.
func (g *CryptoCloudGateway) RequiresEmail() bool { return true }

type ccInvoice struct {
	UUID   string `json:"uuid"`
	Link   string `json:"link"`
	Status string `json:"status"`
}

type ccResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (g *CryptoCloudGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	payload := map[string]interface{}{
		"shop_id":  g.shopID,
		"amount":   float64(req.AmountMinor) / 100,
		"currency": req.Currency,
		"order_id": req.PaymentID,
		"email":    req.Email,
	}
	var out ccInvoice
	if err := g.post(ctx, "invoice/create", payload, &out); err != nil {
		return nil, err
	}
	if out.UUID == "" || out.Link == "" {
		return nil, fmt.Errorf("%w: invoice create returned no uuid/link", domain.ErrProviderRejected)
	}
	return &adapter.Charge{ProviderRef: out.UUID, PayURL: out.Link}, nil
}

func (g *CryptoCloudGateway) FetchStatus(ctx context.Context, providerRef string) (*adapter.ChargeStatus, error) {
	payload := map[string]interface{}{"uuids": []string{providerRef}}
	var out []ccInvoice
	if err := g.post(ctx, "invoice/merchant/info", payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	st := out[0].Status
	return &adapter.ChargeStatus{
		Paid:      st == "paid" || st == "overpaid",
		RawStatus: st,
	}, nil
}

func (g *CryptoCloudGateway) CancelCharge(ctx context.Context, providerRef string) error {
	payload := map[string]interface{}{"uuid": providerRef}
	return g.post(ctx, "invoice/merchant/canceled", payload, nil)
}

func (g *CryptoCloudGateway) post(ctx context.Context, endpoint string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s read: %v", domain.ErrProviderUnavailable, endpoint, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s status %d", domain.ErrProviderUnavailable, endpoint, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrProviderRejected, endpoint, resp.StatusCode, raw)
	}

	var envelope ccResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %s decode: %v", domain.ErrProviderRejected, endpoint, err)
	}
	if envelope.Status != "success" {
		return fmt.Errorf("%w: %s answered %q", domain.ErrProviderRejected, endpoint, envelope.Status)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%w: %s result decode: %v", domain.ErrProviderRejected, endpoint, err)
		}
	}
	return nil
}
