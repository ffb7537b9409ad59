package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/merchantkit/paygate/internal/amount"
	"github.com/merchantkit/paygate/internal/config"
	"github.com/merchantkit/paygate/internal/metrics"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"github.com/merchantkit/paygate/internal/orderlock"
	paymentdomain "github.com/merchantkit/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Orders   orderdomain.Repository
	Settings *config.SettingsHolder
	Metrics  *metrics.Metrics  `optional:"true"`
	Locker   *orderlock.Locker `optional:"true"`
}

// Service applies verified processor notifications to an order's payment
// state. The dedup-key check and key append run as one atomic unit per order
// under the store's row lock, so concurrent deliveries of the same event
// cannot both pass the duplicate check.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	orders   orderdomain.Repository
	settings *config.SettingsHolder
	metrics  *metrics.Metrics
	locker   *orderlock.Locker
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		orders:   p.Orders,
		settings: p.Settings,
		metrics:  p.Metrics,
		locker:   p.Locker,
	}
}

// Apply reconciles one notification against the order. Callers must have
// verified the signature first.
func (s *Service) Apply(ctx context.Context, orderID int64, n *paymentdomain.Notification, raw []byte) error {
	eventType := n.Type()

	// Failure events are informational only: a note, no key append, no status
	// change. Duplicate failure notes are acceptable.
	if !n.Succeeded() {
		err := s.addNote(ctx, s.db, orderID, failureNote(n))
		s.metrics.RecordWebhookEvent(eventType, "failed_event")
		return err
	}

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, orderlock.Key(orderID), lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrOrderBusy
		}
		defer func() {
			_ = s.locker.Release(ctx, orderlock.Key(orderID), token)
		}()
	}

	key := n.Key()
	duplicate := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		state, err := orderdomain.DecodePaymentState(order.PaymentState)
		if err != nil {
			return err
		}

		if !state.MarkProcessed(key) {
			duplicate = true
			return nil
		}
		state.LastRawEvent = raw
		if n.PayfacReference != "" && state.PayfacReference == "" {
			state.PayfacReference = n.PayfacReference
		}

		if err := s.dispatch(ctx, tx, order, &state, n); err != nil {
			return err
		}

		return s.orders.SavePaymentState(ctx, tx, orderID, state)
	})
	if err != nil {
		return err
	}

	if duplicate {
		s.log.Info("duplicate event ignored",
			zap.Int64("order_id", orderID),
			zap.String("event_key", key))
		s.metrics.RecordWebhookEvent(eventType, "duplicate")
		return nil
	}

	s.metrics.RecordWebhookEvent(eventType, "applied")
	return nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, state *orderdomain.PaymentState, n *paymentdomain.Notification) error {
	switch n.Type() {
	case paymentdomain.EventTypeAuthorization:
		return s.applyAuthorization(ctx, tx, order, state, n)
	case paymentdomain.EventTypeCapture:
		return s.applyCapture(ctx, tx, order, n)
	case paymentdomain.EventTypeRefund:
		return s.applyRefund(ctx, tx, order, state, n)
	case paymentdomain.EventTypeTokenization:
		return s.applyTokenization(ctx, tx, order, state, n)
	default:
		return s.addNote(ctx, tx, order.ID,
			fmt.Sprintf("Received unknown event type %q from the payment processor.", n.Type()))
	}
}

func (s *Service) applyAuthorization(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, state *orderdomain.PaymentState, n *paymentdomain.Notification) error {
	if order.Status.IsPaid() {
		// Stale redelivery against an order that already moved on.
		s.log.Info("authorization for already paid order ignored",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return nil
	}

	display := amount.Format(n.AmountValue(), n.Currency)

	if state.IsManualCapture {
		note := fmt.Sprintf("Payment of %s authorized, awaiting capture. %s", display, cardDetails(n))
		if err := s.orders.UpdateStatus(ctx, tx, order.ID, orderdomain.StatusOnHold); err != nil {
			return err
		}
		return s.addNote(ctx, tx, order.ID, note)
	}

	paid := orderdomain.PaidStatus(s.settings.Get().MarkPaidCompleted, order.NeedsProcessing)
	note := fmt.Sprintf("Payment of %s received (ref %s). %s", display, n.PayfacReference, cardDetails(n))
	if err := s.orders.UpdateStatus(ctx, tx, order.ID, paid); err != nil {
		return err
	}
	return s.addNote(ctx, tx, order.ID, note)
}

func (s *Service) applyCapture(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, n *paymentdomain.Notification) error {
	if order.Status.IsPaid() {
		s.log.Info("capture for already paid order ignored",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return nil
	}

	paid := orderdomain.PaidStatus(s.settings.Get().MarkPaidCompleted, order.NeedsProcessing)
	note := fmt.Sprintf("Payment of %s captured (ref %s).",
		amount.Format(n.AmountValue(), n.Currency), n.PayfacReference)
	if err := s.orders.UpdateStatus(ctx, tx, order.ID, paid); err != nil {
		return err
	}
	return s.addNote(ctx, tx, order.ID, note)
}

// applyRefund correlates a refund event with the merchant-initiated request
// that caused it. The processor does not distinguish partial from full
// refunds here, so the status transition stays with the merchant flow.
func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, state *orderdomain.PaymentState, n *paymentdomain.Notification) error {
	display := amount.Format(n.AmountValue(), n.Currency)

	switch {
	case state.RefundRequested:
		state.RefundRequested = false
		return s.addNote(ctx, tx, order.ID,
			fmt.Sprintf("Refund of %s confirmed by the payment processor (ref %s).", display, n.PayfacReference))
	case state.CancelRequested:
		state.CancelRequested = false
		return s.addNote(ctx, tx, order.ID,
			fmt.Sprintf("Cancellation confirmed by the payment processor (ref %s).", n.PayfacReference))
	default:
		return s.addNote(ctx, tx, order.ID,
			fmt.Sprintf("Received refund event of unknown type for %s (ref %s).", display, n.PayfacReference))
	}
}

func (s *Service) applyTokenization(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, state *orderdomain.PaymentState, n *paymentdomain.Notification) error {
	state.CardToken = n.AdditionalData.Token
	state.CardSummary = n.CardDisplay()
	return s.addNote(ctx, tx, order.ID,
		fmt.Sprintf("Payment card %s stored for subscription renewals.", n.CardDisplay()))
}

func (s *Service) addNote(ctx context.Context, db *gorm.DB, orderID int64, content string) error {
	return s.orders.AddNote(ctx, db, &orderdomain.Note{
		ID:      s.genID.Generate(),
		OrderID: orderID,
		Content: content,
	})
}

func failureNote(n *paymentdomain.Notification) string {
	switch n.Reason {
	case "Refused":
		return "Payment refused by the card issuer."
	case "Expired Card":
		return "Payment failed: the card has expired."
	case "3D Not Authenticated":
		return "Payment failed: 3-D Secure authentication was not completed."
	default:
		return fmt.Sprintf("%s failed: %s", n.Type(), n.Reason)
	}
}

func cardDetails(n *paymentdomain.Notification) string {
	threeD := "no"
	if n.AdditionalData.ThreeDAuthenticated {
		threeD = "yes"
	}
	return fmt.Sprintf("Card: %s, 3-D Secure: %s, auth code %s.",
		n.CardDisplay(), threeD, n.AdditionalData.AuthCode)
}
