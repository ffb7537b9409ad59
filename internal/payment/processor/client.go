package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/merchantkit/paygate/internal/config"
	"github.com/merchantkit/paygate/internal/metrics"
	"github.com/merchantkit/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TestBaseURL is the processor's sandbox endpoint, used whenever test mode is
// active. The production base URL comes from gateway settings.
const TestBaseURL = "https://checkout-test.payfac.io/api/v1"

const requestTimeout = 60 * time.Second

const (
	ResultAuthorised      = "Authorised"
	ResultRedirectShopper = "RedirectShopper"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Settings *config.SettingsHolder
	Metrics  *metrics.Metrics `optional:"true"`
}

// Client issues modification and session commands against the processor API.
// Every operation is one request/response cycle; transport failures, non-2xx
// statuses and malformed bodies all collapse into a single no-result outcome.
type Client struct {
	log      *zap.Logger
	settings *config.SettingsHolder
	metrics  *metrics.Metrics
	client   *http.Client
}

func NewClient(p Params) *Client {
	return &Client{
		log:      p.Log.Named("payment.processor"),
		settings: p.Settings,
		metrics:  p.Metrics,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type moneyAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type LineItem struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type SessionRequest struct {
	Amount         int64
	Currency       string
	ReturnURL      string
	Reference      string
	Items          []LineItem
	IsSubscription bool
	AbandonURL     string
}

type sessionBody struct {
	TerminalIdentifier       string       `json:"terminalIdentifier"`
	Amount                   moneyAmount  `json:"amount"`
	Reference                string       `json:"reference"`
	ReturnURL                string       `json:"returnUrl"`
	AbandonURL               string       `json:"abandonUrl,omitempty"`
	ExpiresAt                string       `json:"expiresAt"`
	IsManualCapture          bool         `json:"isManualCapture,omitempty"`
	RecurringProcessingModel string       `json:"recurringProcessingModel,omitempty"`
	Items                    []LineItem   `json:"items,omitempty"`
	Theming                  *themingData `json:"theming,omitempty"`
}

type themingData struct {
	ThemeKey     string `json:"themeKey,omitempty"`
	MerchantName string `json:"merchantName,omitempty"`
}

type SessionResult struct {
	URL               string `json:"url"`
	CheckoutReference string `json:"checkoutReference"`
}

// CreateSession opens a hosted checkout session and returns the redirect URL
// plus the processor's checkout reference.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	settings := c.settings.Get()

	body := sessionBody{
		TerminalIdentifier: settings.TerminalID,
		Amount:             moneyAmount{Currency: req.Currency, Value: req.Amount},
		Reference:          req.Reference,
		ReturnURL:          req.ReturnURL,
		AbandonURL:         req.AbandonURL,
		ExpiresAt:          time.Now().UTC().Add(settings.CheckoutExpiry()).Format(time.RFC3339),
		IsManualCapture:    settings.ManualCapture,
	}
	if req.IsSubscription {
		body.RecurringProcessingModel = "Subscription"
		body.TerminalIdentifier = settings.TokenTerminalID
	}
	if settings.SendLineItems {
		body.Items = req.Items
	}
	if !settings.TestMode {
		body.Theming = &themingData{
			ThemeKey:     settings.ThemeKey,
			MerchantName: settings.MerchantName,
		}
	}

	var result SessionResult
	if err := c.post(ctx, "create_session", "/checkout/session", body, &result); err != nil {
		return nil, err
	}
	if result.URL == "" || result.CheckoutReference == "" {
		return nil, domain.ErrNoResult
	}
	return &result, nil
}

type StatusResult struct {
	CheckoutReference string `json:"checkoutReference"`
	PayfacReference   string `json:"payfacReference"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
}

// GetStatus queries the state of a checkout session. Issued as a POST per
// processor convention. An empty payfacReference on success means the session
// never reached an authorized state, which is a normal outcome.
func (c *Client) GetStatus(ctx context.Context, checkoutReference string) (*StatusResult, error) {
	body := map[string]string{"checkoutReference": checkoutReference}
	var result StatusResult
	if err := c.post(ctx, "get_status", "/checkout/status", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type CaptureResult struct {
	PayfacReference string `json:"payfacReference"`
	Status          string `json:"status"`
}

// Capture collects previously authorized funds.
func (c *Client) Capture(ctx context.Context, payfacReference, reference string, amount int64, currency string) (*CaptureResult, error) {
	body := map[string]any{
		"payfacReference": payfacReference,
		"reference":       reference,
		"amount":          moneyAmount{Currency: currency, Value: amount},
	}
	var result CaptureResult
	if err := c.post(ctx, "capture", "/payment/capture", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reverse cancels an authorization. True only when the processor returned a
// non-empty decoded response.
func (c *Client) Reverse(ctx context.Context, reference, payfacReference string) bool {
	body := map[string]string{
		"reference":       reference,
		"payfacReference": payfacReference,
	}
	var result map[string]any
	if err := c.post(ctx, "reverse", "/payment/reverse", body, &result); err != nil {
		return false
	}
	return len(result) > 0
}

type TokenPaymentRequest struct {
	Token     string
	Amount    int64
	Currency  string
	Reference string
	ShopperIP string
	Origin    string
	Channel   string
	ReturnURL string
}

type TokenPaymentResult struct {
	ResultCode  string `json:"resultCode"`
	RedirectURL string `json:"redirectUrl"`
}

// Authorised reports whether the token charge went through without shopper
// interaction.
func (r *TokenPaymentResult) Authorised() bool {
	return r != nil && r.ResultCode == ResultAuthorised
}

// ProcessTokenPayment charges a stored token, used for subscription renewals.
func (c *Client) ProcessTokenPayment(ctx context.Context, req TokenPaymentRequest) (*TokenPaymentResult, error) {
	settings := c.settings.Get()
	body := map[string]any{
		"terminalIdentifier":       settings.TokenTerminalID,
		"token":                    req.Token,
		"amount":                   moneyAmount{Currency: req.Currency, Value: req.Amount},
		"reference":                req.Reference,
		"shopperIp":                req.ShopperIP,
		"origin":                   req.Origin,
		"channel":                  req.Channel,
		"returnUrl":                req.ReturnURL,
		"recurringProcessingModel": "Subscription",
	}
	var result TokenPaymentResult
	if err := c.post(ctx, "token_payment", "/payment/token", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) baseURL() string {
	settings := c.settings.Get()
	if settings.TestMode {
		return TestBaseURL
	}
	return strings.TrimRight(settings.ProductionBaseURL, "/")
}

func (c *Client) post(ctx context.Context, operation, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-key", c.settings.Get().APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.fail(operation, "transport_error", err)
		return domain.ErrNoResult
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.fail(operation, "http_error", nil, zap.Int("status", resp.StatusCode))
		return domain.ErrNoResult
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.fail(operation, "decode_error", err)
		return domain.ErrNoResult
	}

	c.metrics.RecordProcessorCall(operation, "ok")
	return nil
}

func (c *Client) fail(operation, result string, err error, fields ...zap.Field) {
	c.metrics.RecordProcessorCall(operation, result)
	fields = append(fields, zap.String("operation", operation))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Warn("processor call failed", fields...)
}
