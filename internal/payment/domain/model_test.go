package domain

import (
	"errors"
	"testing"
)

func TestDecodeRequiresMerchantReference(t *testing.T) {
	if _, err := Decode([]byte(`{"amount":100}`)); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected missing reference error, got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload error, got %v", err)
	}
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{{
		name:    "authorization",
		payload: `{"merchantReference":"42","payfacReference":"P1","amount":150000,"additionalData":{"eventType":"authorization"}}`,
		want:    "P1:authorization::150000",
	}, {
		name:    "refund with original reference",
		payload: `{"merchantReference":"42","payfacReference":"P2","amount":500,"additionalData":{"eventType":"refund","originalPayfacReference":"P1"}}`,
		want:    "P2:refund:P1:500",
	}, {
		name:    "missing event type defaults to unknown",
		payload: `{"merchantReference":"42","payfacReference":"P3"}`,
		want:    "P3:unknown::0",
	}, {
		name:    "all reference fields absent",
		payload: `{"merchantReference":"42"}`,
		want:    ":unknown::0",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Decode([]byte(tt.payload))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := n.Key(); got != tt.want {
				t.Fatalf("expected key %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSuccessDefaultsTrue(t *testing.T) {
	n, err := Decode([]byte(`{"merchantReference":"7"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !n.Succeeded() {
		t.Fatalf("absent success flag must default to true")
	}
	if n.SuccessString() != "" {
		t.Fatalf("absent success must render empty for signing, got %q", n.SuccessString())
	}

	n, err = Decode([]byte(`{"merchantReference":"7","success":false,"reason":"Refused"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Succeeded() {
		t.Fatalf("explicit false must not succeed")
	}
	if n.SuccessString() != "false" {
		t.Fatalf("expected success string false, got %q", n.SuccessString())
	}
}
