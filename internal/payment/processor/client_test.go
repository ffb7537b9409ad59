package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merchantkit/paygate/internal/config"
	"github.com/merchantkit/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

func newTestClient(baseURL string, settings config.GatewaySettings) *Client {
	settings.TestMode = false
	settings.ProductionBaseURL = baseURL
	return &Client{
		log:      zap.NewNop(),
		settings: config.NewStaticSettingsHolder(settings),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func TestCreateSession(t *testing.T) {
	var got sessionBody
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		if r.URL.Path != "/checkout/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(SessionResult{URL: "https://checkout/x", CheckoutReference: "chk_1"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, config.GatewaySettings{
		APIKey:            "key_123",
		TerminalID:        "T1",
		TokenTerminalID:   "T2",
		ManualCapture:     true,
		SendLineItems:     true,
		CheckoutExpiryMin: 1, // below the floor, must clamp up to 5 minutes
		MerchantName:      "Test Shop",
	})

	result, err := client.CreateSession(context.Background(), SessionRequest{
		Amount:    150000,
		Currency:  "ISK",
		ReturnURL: "https://shop/return",
		Reference: "42",
		Items:     []LineItem{{Name: "Widget", Quantity: 1, UnitPrice: 150000}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if result.CheckoutReference != "chk_1" || result.URL != "https://checkout/x" {
		t.Fatalf("unexpected result %+v", result)
	}

	if header.Get("X-API-key") != "key_123" {
		t.Fatalf("expected API key header, got %q", header.Get("X-API-key"))
	}
	if header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
	if got.TerminalIdentifier != "T1" {
		t.Fatalf("expected checkout terminal, got %q", got.TerminalIdentifier)
	}
	if !got.IsManualCapture {
		t.Fatalf("expected manual capture flag")
	}
	if len(got.Items) != 1 {
		t.Fatalf("expected line items to be sent")
	}
	if got.Theming == nil || got.Theming.MerchantName != "Test Shop" {
		t.Fatalf("expected theming outside test mode, got %+v", got.Theming)
	}

	expires, err := time.Parse(time.RFC3339, got.ExpiresAt)
	if err != nil {
		t.Fatalf("parse expiresAt: %v", err)
	}
	until := time.Until(expires)
	if until < 4*time.Minute || until > 6*time.Minute {
		t.Fatalf("expected expiry clamped to 5 minutes, got %s", until)
	}
}

func TestCreateSessionSubscriptionUsesTokenTerminal(t *testing.T) {
	var got sessionBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(SessionResult{URL: "u", CheckoutReference: "c"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, config.GatewaySettings{
		TerminalID:        "T1",
		TokenTerminalID:   "T2",
		CheckoutExpiryMin: 60,
	})

	if _, err := client.CreateSession(context.Background(), SessionRequest{
		Amount: 100, Currency: "ISK", Reference: "1", IsSubscription: true,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if got.TerminalIdentifier != "T2" {
		t.Fatalf("expected token terminal for subscription, got %q", got.TerminalIdentifier)
	}
	if got.RecurringProcessingModel != "Subscription" {
		t.Fatalf("expected subscription processing model, got %q", got.RecurringProcessingModel)
	}
}

func TestGetStatusWithoutPayfacReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StatusResult{CheckoutReference: "chk_1", Status: "expired"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, config.GatewaySettings{})
	status, err := client.GetStatus(context.Background(), "chk_1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	// Absent payfacReference is a normal outcome: the shopper never authorized.
	if status.PayfacReference != "" {
		t.Fatalf("expected empty payfac reference, got %q", status.PayfacReference)
	}
}

func TestFailuresCollapseToNoResult(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{{
		name: "http error",
		handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	}, {
		name: "malformed json",
		handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := newTestClient(srv.URL, config.GatewaySettings{})
			if _, err := client.Capture(context.Background(), "P1", "42", 100, "ISK"); !errors.Is(err, domain.ErrNoResult) {
				t.Fatalf("expected no-result error, got %v", err)
			}
		})
	}
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"payfacReference": "P1", "status": "received"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, config.GatewaySettings{})
	if !client.Reverse(context.Background(), "42", "P1") {
		t.Fatalf("expected reverse to succeed on non-empty response")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer empty.Close()

	client = newTestClient(empty.URL, config.GatewaySettings{})
	if client.Reverse(context.Background(), "42", "P1") {
		t.Fatalf("expected reverse to fail on empty decoded response")
	}
}

func TestProcessTokenPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(TokenPaymentResult{ResultCode: ResultAuthorised})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, config.GatewaySettings{TokenTerminalID: "T2"})
	result, err := client.ProcessTokenPayment(context.Background(), TokenPaymentRequest{
		Token: "tok_1", Amount: 2000, Currency: "ISK", Reference: "42",
	})
	if err != nil {
		t.Fatalf("token payment: %v", err)
	}
	if !result.Authorised() {
		t.Fatalf("expected authorised result, got %q", result.ResultCode)
	}

	redirect := &TokenPaymentResult{ResultCode: ResultRedirectShopper}
	if redirect.Authorised() {
		t.Fatalf("redirect result must not count as authorised")
	}
}
