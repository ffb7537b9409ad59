package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusOnHold     Status = "on-hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

// IsPaid reports whether the status already reflects collected or collectable
// funds; late authorization/capture events against such orders are ignored.
func (s Status) IsPaid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// PaidStatus resolves the post-payment status. Orders go straight to completed
// when the merchant marks paid orders completed or the order needs no physical
// processing; otherwise they wait in processing.
func PaidStatus(markCompleted bool, needsProcessing bool) Status {
	if markCompleted || !needsProcessing {
		return StatusCompleted
	}
	return StatusProcessing
}

type Order struct {
	ID              int64          `json:"id" gorm:"primaryKey"`
	Status          Status         `json:"status" gorm:"type:text;not null"`
	TotalAmount     int64          `json:"total_amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	NeedsProcessing bool           `json:"needs_processing" gorm:"not null;default:true"`
	SubscriptionRef string         `json:"subscription_ref" gorm:"type:text"`
	PaymentState    datatypes.JSON `json:"payment_state"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

type Note struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID   int64        `json:"order_id" gorm:"not null;index"`
	Content   string       `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Note) TableName() string { return "order_notes" }

// PaymentState is the per-order payment projection attached to the order
// record for its whole lifetime, including past refund and cancellation.
type PaymentState struct {
	IsManualCapture    bool            `json:"is_manual_capture"`
	CheckoutReference  string          `json:"checkout_reference,omitempty"`
	PayfacReference    string          `json:"payfac_reference,omitempty"`
	ProcessedEventKeys []string        `json:"processed_event_keys,omitempty"`
	LastRawEvent       json.RawMessage `json:"last_raw_event,omitempty"`
	RefundRequested    bool            `json:"refund_requested,omitempty"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`
	ReturnToken        string          `json:"return_token,omitempty"`
	CardToken          string          `json:"card_token,omitempty"`
	CardSummary        string          `json:"card_summary,omitempty"`
}

// HasProcessed reports whether the event key was already applied.
func (s *PaymentState) HasProcessed(key string) bool {
	for _, k := range s.ProcessedEventKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MarkProcessed appends the key to the processed set. The set only grows;
// appending an existing key returns false and leaves the set unchanged.
func (s *PaymentState) MarkProcessed(key string) bool {
	if s.HasProcessed(key) {
		return false
	}
	s.ProcessedEventKeys = append(s.ProcessedEventKeys, key)
	return true
}

// DecodePaymentState reads the state blob off an order row. An absent blob
// decodes to the zero state.
func DecodePaymentState(raw datatypes.JSON) (PaymentState, error) {
	var state PaymentState
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return PaymentState{}, err
	}
	return state, nil
}

func (s PaymentState) Encode() (datatypes.JSON, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
