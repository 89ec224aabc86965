package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
)

// Compile-time check: the recurring gateway satisfies the extended port.
var _ adapter.RecurringGateway = (*RobokassaRecurringGateway)(nil)

// RobokassaRecurringGateway drives the provider-hosted recurring
// subscription page for the first charge and the Merchant/Recurring
// endpoint for sweep-initiated renewals.
type RobokassaRecurringGateway struct {
	signer         *RobokassaSigner
	subscriptionID string
	baseURL        string
	client         *http.Client
}

func NewRobokassaRecurringGateway(signer *RobokassaSigner, subscriptionID string) *RobokassaRecurringGateway {
	return &RobokassaRecurringGateway{
		signer:         signer,
		subscriptionID: subscriptionID,
		baseURL:        robokassaBaseURL,
		client:         &http.Client{},
	}
}

func (g *RobokassaRecurringGateway) Name() string                { return "robokassa_recurring" }
func (g *RobokassaRecurringGateway) Method() model.PaymentMethod { return model.MethodRecurring }
func (g *RobokassaRecurringGateway) RequiresEmail() bool         { return false }

func (g *RobokassaRecurringGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	if g.subscriptionID == "" {
		return nil, fmt.Errorf("%w: recurring subscription id not configured", domain.ErrProviderRejected)
	}
	u := fmt.Sprintf("%s/RecurringSubscriptionPage/Subscription/Subscribe?SubscriptionId=%s",
		g.baseURL, url.QueryEscape(g.subscriptionID))
	return &adapter.Charge{ProviderRef: req.PaymentID, PayURL: u}, nil
}

func (g *RobokassaRecurringGateway) FetchStatus(ctx context.Context, providerRef string) (*adapter.ChargeStatus, error) {
	return opState(ctx, g.client, g.baseURL, g.signer, providerRef)
}

func (g *RobokassaRecurringGateway) CancelCharge(ctx context.Context, providerRef string) error {
	return nil
}

// ChargeRecurring re-charges the stored mother invoice without user
// interaction. The endpoint answers a plain "OK{InvId}" body on success.
func (g *RobokassaRecurringGateway) ChargeRecurring(ctx context.Context, subscriptionRef string, amountMinor int64) (*adapter.Charge, error) {
	outSum := FormatOutSum(amountMinor)
	invID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := g.signer.SignCharge(outSum, invID, nil)

	form := url.Values{}
	form.Set("MerchantLogin", g.signer.Login)
	form.Set("InvoiceID", invID)
	form.Set("PreviousInvoiceID", subscriptionRef)
	form.Set("OutSum", outSum)
	form.Set("SignatureValue", sig)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/Merchant/Recurring", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: recurring request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: recurring status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: recurring read: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 400 || !strings.HasPrefix(strings.TrimSpace(string(body)), "OK") {
		return nil, fmt.Errorf("%w: recurring answer %q", domain.ErrProviderRejected, strings.TrimSpace(string(body)))
	}

	return &adapter.Charge{ProviderRef: invID}, nil
}
