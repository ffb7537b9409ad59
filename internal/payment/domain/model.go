package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	EventTypeAuthorization = "authorization"
	EventTypeCapture       = "capture"
	EventTypeRefund        = "refund"
	EventTypeTokenization  = "tokenization"
	EventTypeUnknown       = "unknown"
)

// Notification is one decoded processor webhook payload. Field presence matters
// for signature verification, so amount and success stay pointers until read.
type Notification struct {
	MerchantReference string         `json:"merchantReference"`
	CheckoutReference string         `json:"checkoutReference"`
	PayfacReference   string         `json:"payfacReference"`
	Amount            *int64         `json:"amount"`
	Currency          string         `json:"currency"`
	Reason            string         `json:"reason"`
	Success           *bool          `json:"success"`
	AdditionalData    AdditionalData `json:"additionalData"`
}

type AdditionalData struct {
	EventType               string `json:"eventType"`
	OriginalPayfacReference string `json:"originalPayfacReference"`
	AuthCode                string `json:"authCode"`
	CardNumber              string `json:"cardNumber"`
	CardSummary             string `json:"cardSummary"`
	ThreeDAuthenticated     bool   `json:"threeDAuthenticated"`
	Token                   string `json:"token"`
	HmacSignature           string `json:"hmacSignature"`
}

// Decode parses a raw webhook body. The merchant reference is the only field
// required to route the event; everything else degrades to defaults.
func Decode(payload []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(n.MerchantReference) == "" {
		return nil, ErrMissingReference
	}
	return &n, nil
}

// Type returns the normalized event type, defaulting to "unknown".
func (n *Notification) Type() string {
	t := strings.TrimSpace(n.AdditionalData.EventType)
	if t == "" {
		return EventTypeUnknown
	}
	return t
}

// Key derives the deduplication identity for the event. Two notifications with
// the same key describe the same financial fact and must be applied at most
// once per order.
func (n *Notification) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d",
		n.PayfacReference,
		n.Type(),
		n.AdditionalData.OriginalPayfacReference,
		n.AmountValue(),
	)
}

// Succeeded reports the event outcome; an absent success field counts as true.
func (n *Notification) Succeeded() bool {
	if n.Success == nil {
		return true
	}
	return *n.Success
}

func (n *Notification) AmountValue() int64 {
	if n.Amount == nil {
		return 0
	}
	return *n.Amount
}

// AmountString renders the amount as received for signature input, empty when
// the field was absent.
func (n *Notification) AmountString() string {
	if n.Amount == nil {
		return ""
	}
	return strconv.FormatInt(*n.Amount, 10)
}

// SuccessString renders the success flag as received for signature input.
func (n *Notification) SuccessString() string {
	if n.Success == nil {
		return ""
	}
	return strconv.FormatBool(*n.Success)
}

// CardDisplay returns the masked card representation carried by the event.
func (n *Notification) CardDisplay() string {
	if n.AdditionalData.CardNumber != "" {
		return n.AdditionalData.CardNumber
	}
	if n.AdditionalData.CardSummary != "" {
		return "**** " + n.AdditionalData.CardSummary
	}
	return ""
}
