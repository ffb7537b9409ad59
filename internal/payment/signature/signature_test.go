package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/merchantkit/paygate/internal/payment/domain"
)

const testSecretHex = "6b6579"

func signPayload(t *testing.T, secretHex string, fields []string) string {
	t.Helper()
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(fields, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func testNotification() *domain.Notification {
	amount := int64(150000)
	success := true
	return &domain.Notification{
		MerchantReference: "42",
		CheckoutReference: "chk_1",
		PayfacReference:   "P1",
		Amount:            &amount,
		Currency:          "ISK",
		Success:           &success,
	}
}

func TestVerifyValidSignature(t *testing.T) {
	n := testNotification()
	sig := signPayload(t, testSecretHex, []string{"chk_1", "P1", "42", "150000", "ISK", "", "true"})

	v := NewVerifier(testSecretHex)
	if !v.Verify(n, sig) {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	n := testNotification()
	sig := signPayload(t, testSecretHex, []string{"chk_1", "P1", "42", "150000", "ISK", "", "true"})

	// Flip one byte of the base64 signature.
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	raw[0] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	v := NewVerifier(testSecretHex)
	if v.Verify(n, tampered) {
		t.Fatalf("tampered signature must not verify")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	n := testNotification()
	sig := signPayload(t, testSecretHex, []string{"chk_1", "P1", "42", "150000", "ISK", "", "true"})

	if NewVerifier("6b6579ff").Verify(n, sig) {
		t.Fatalf("different secret must not verify")
	}
}

func TestVerifyRejectsBadConfiguration(t *testing.T) {
	n := testNotification()
	sig := signPayload(t, testSecretHex, []string{"chk_1", "P1", "42", "150000", "ISK", "", "true"})

	if NewVerifier("").Verify(n, sig) {
		t.Fatalf("empty secret must verify false")
	}
	if NewVerifier("not-hex").Verify(n, sig) {
		t.Fatalf("non-hex secret must verify false")
	}
	if NewVerifier(testSecretHex).Verify(n, "") {
		t.Fatalf("empty signature must verify false")
	}
}

func TestVerifyUsesFieldsAsReceived(t *testing.T) {
	// Absent amount and success sign as empty segments, not normalized values.
	n := &domain.Notification{
		MerchantReference: "42",
		PayfacReference:   "P1",
		Currency:          "ISK",
	}
	sig := signPayload(t, testSecretHex, []string{"", "P1", "42", "", "ISK", "", ""})

	if !NewVerifier(testSecretHex).Verify(n, sig) {
		t.Fatalf("expected signature over empty segments to verify")
	}
}
