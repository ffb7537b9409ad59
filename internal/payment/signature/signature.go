package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/merchantkit/paygate/internal/payment/domain"
)

// Verifier checks that a webhook notification was produced by the processor.
// The shared secret is stored hex encoded and decoded to raw bytes before use.
type Verifier struct {
	secretHex string
}

func NewVerifier(secretHex string) *Verifier {
	return &Verifier{secretHex: strings.TrimSpace(secretHex)}
}

// Verify computes HMAC-SHA256 over the canonical field order
// checkoutReference:payfacReference:merchantReference:amount:currency:reason:success
// and compares the base64 digest to the signature carried in the payload.
// It never panics; any malformed input verifies false.
func (v *Verifier) Verify(n *domain.Notification, providedSignature string) bool {
	if v == nil || n == nil {
		return false
	}
	if v.secretHex == "" || providedSignature == "" {
		return false
	}
	key, err := hex.DecodeString(v.secretHex)
	if err != nil {
		return false
	}

	payload := strings.Join([]string{
		n.CheckoutReference,
		n.PayfacReference,
		n.MerchantReference,
		n.AmountString(),
		n.Currency,
		n.Reason,
		n.SuccessString(),
	}, ":")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(computed), []byte(providedSignature))
}
