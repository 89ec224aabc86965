package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"telegram-paywall-bot/internal/domain"
	"telegram-paywall-bot/internal/domain/model"
	"telegram-paywall-bot/internal/domain/ports/adapter"
)

const robokassaBaseURL = "https://auth.robokassa.ru"

var opStateCodeRe = regexp.MustCompile(`<State\s+[^>]*code="(\d+)"`)

// RobokassaGateway implements the redirect-checkout card flow. Creating a
// charge is local work: the gateway signs a payment URL and the provider
// materializes the invoice when the user lands on it.
type RobokassaGateway struct {
	signer   *RobokassaSigner
	testMode bool
	baseURL  string
	client   *http.Client
}

func NewRobokassaGateway(signer *RobokassaSigner, testMode bool) *RobokassaGateway {
	return &RobokassaGateway{
		signer:   signer,
		testMode: testMode,
		baseURL:  robokassaBaseURL,
		client:   &http.Client{},
	}
}

func (g *RobokassaGateway) Name() string                { return "robokassa" }
func (g *RobokassaGateway) Method() model.PaymentMethod { return model.MethodCard }
func (g *RobokassaGateway) RequiresEmail() bool         { return false }

func (g *RobokassaGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	outSum := FormatOutSum(req.AmountMinor)
	params := map[string]string{
		"Shp_user": strconv.FormatInt(req.UserID, 10),
	}
	sig := g.signer.SignCharge(outSum, req.PaymentID, params)

	q := url.Values{}
	q.Set("MerchantLogin", g.signer.Login)
	q.Set("OutSum", outSum)
	q.Set("InvId", req.PaymentID)
	q.Set("Description", req.Description)
	q.Set("SignatureValue", sig)
	q.Set("Shp_user", params["Shp_user"])
	if g.testMode {
		q.Set("IsTest", "1")
	}

	return &adapter.Charge{
		ProviderRef: req.PaymentID,
		PayURL:      g.baseURL + "/Merchant/Index.aspx?" + q.Encode(),
	}, nil
}

// FetchStatus polls the OpState web service. The response is XML; only the
// state code matters, 100 meaning the payment settled.
func (g *RobokassaGateway) FetchStatus(ctx context.Context, providerRef string) (*adapter.ChargeStatus, error) {
	return opState(ctx, g.client, g.baseURL, g.signer, providerRef)
}

// CancelCharge: the redirect checkout has no provider-side cancel; the
// unsigned URL simply goes unused.
func (g *RobokassaGateway) CancelCharge(ctx context.Context, providerRef string) error {
	return nil
}

func opState(ctx context.Context, client *http.Client, baseURL string, signer *RobokassaSigner, invID string) (*adapter.ChargeStatus, error) {
	sig := signer.SignStatusRequest(invID)
	u := fmt.Sprintf("%s/Merchant/WebService/Service.asmx/OpState?MerchantLogin=%s&InvoiceID=%s&Signature=%s",
		baseURL, url.QueryEscape(signer.Login), url.QueryEscape(invID), sig)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: opstate request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: opstate status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: opstate status %d", domain.ErrProviderRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: opstate read: %v", domain.ErrProviderUnavailable, err)
	}

	m := opStateCodeRe.FindSubmatch(body)
	if m == nil {
		// Unknown invoice or malformed answer; treat as not paid yet.
		return &adapter.ChargeStatus{Paid: false, RawStatus: "no_state"}, nil
	}
	code := string(m[1])
	return &adapter.ChargeStatus{Paid: code == "100", RawStatus: "state_" + code}, nil
}
