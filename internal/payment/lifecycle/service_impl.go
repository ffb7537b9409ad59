package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/merchantkit/paygate/internal/amount"
	"github.com/merchantkit/paygate/internal/metrics"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	paymentdomain "github.com/merchantkit/paygate/internal/payment/domain"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubscriptionCanceller cancels a platform subscription linked to an order.
// The subscription engine itself is a platform collaborator.
type SubscriptionCanceller interface {
	Cancel(ctx context.Context, subscriptionRef string) error
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Orders        orderdomain.Repository
	Processor     *processor.Client
	Metrics       *metrics.Metrics      `optional:"true"`
	Subscriptions SubscriptionCanceller `optional:"true"`
}

// Service reacts to merchant-initiated order status transitions and issues
// the matching processor commands. It records request flags that the webhook
// reconciler later consumes when the confirmation event arrives; a failed
// outbound call leaves the flag set so a late confirmation can still match.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	orders        orderdomain.Repository
	processor     *processor.Client
	metrics       *metrics.Metrics
	subscriptions SubscriptionCanceller
}

func NewService(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.lifecycle"),
		genID:         p.GenID,
		orders:        p.Orders,
		processor:     p.Processor,
		metrics:       p.Metrics,
		subscriptions: p.Subscriptions,
	}
}

// HandleTransition inspects a merchant-driven status change and issues the
// matching processor command. Transitions it does not recognize are no-ops.
func (s *Service) HandleTransition(ctx context.Context, orderID int64, from, to orderdomain.Status) error {
	switch {
	case from == orderdomain.StatusOnHold && to == orderdomain.StatusCancelled:
		return s.cancelAuthorization(ctx, orderID)
	case from == orderdomain.StatusOnHold && (to == orderdomain.StatusProcessing || to == orderdomain.StatusCompleted):
		return s.captureAuthorization(ctx, orderID)
	case from.IsPaid() && to == orderdomain.StatusRefunded:
		return s.refundPayment(ctx, orderID)
	default:
		return nil
	}
}

func (s *Service) cancelAuthorization(ctx context.Context, orderID int64) error {
	_, state, err := s.loadGatewayOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	// Flag first: only the reconciler clears it, so a late refund event can
	// still be matched even when the reversal call below fails.
	if err := s.markRequested(ctx, orderID, func(st *orderdomain.PaymentState) {
		st.CancelRequested = true
	}); err != nil {
		return err
	}

	if !s.processor.Reverse(ctx, reference(orderID), state.PayfacReference) {
		return s.addNote(ctx, orderID,
			fmt.Sprintf("Cancellation request for payment %s failed; the processor returned no result.", state.PayfacReference))
	}
	return s.addNote(ctx, orderID,
		fmt.Sprintf("Cancellation of payment %s requested from the processor.", state.PayfacReference))
}

func (s *Service) captureAuthorization(ctx context.Context, orderID int64) error {
	order, state, err := s.loadGatewayOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	display := amount.Format(order.TotalAmount, order.Currency)
	_, err = s.processor.Capture(ctx, state.PayfacReference, reference(orderID), order.TotalAmount, order.Currency)
	if err != nil {
		return s.addNote(ctx, orderID,
			fmt.Sprintf("Capture of %s failed; the processor returned no result.", display))
	}
	return s.addNote(ctx, orderID,
		fmt.Sprintf("Capture of %s requested from the processor (ref %s).", display, state.PayfacReference))
}

func (s *Service) refundPayment(ctx context.Context, orderID int64) error {
	order, state, err := s.loadGatewayOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	if err := s.markRequested(ctx, orderID, func(st *orderdomain.PaymentState) {
		st.RefundRequested = true
	}); err != nil {
		return err
	}

	display := amount.Format(order.TotalAmount, order.Currency)
	if !s.processor.Reverse(ctx, reference(orderID), state.PayfacReference) {
		return s.addNote(ctx, orderID,
			fmt.Sprintf("Refund of %s failed; the processor returned no result.", display))
	}

	if err := s.addNote(ctx, orderID,
		fmt.Sprintf("Refund of %s requested from the processor (ref %s).", display, state.PayfacReference)); err != nil {
		return err
	}

	if order.SubscriptionRef != "" && s.subscriptions != nil {
		if err := s.subscriptions.Cancel(ctx, order.SubscriptionRef); err != nil {
			s.log.Warn("subscription cancellation failed",
				zap.Int64("order_id", orderID),
				zap.String("subscription_ref", order.SubscriptionRef),
				zap.Error(err))
			return nil
		}
		return s.addNote(ctx, orderID,
			fmt.Sprintf("Linked subscription %s cancelled.", order.SubscriptionRef))
	}
	return nil
}

// markRequested flips a request flag under the same order row lock the
// webhook reconciler takes. The state is re-read inside the transaction, so
// an event applied between our earlier read and this write is not lost.
func (s *Service) markRequested(ctx context.Context, orderID int64, set func(*orderdomain.PaymentState)) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		state, err := orderdomain.DecodePaymentState(locked.PaymentState)
		if err != nil {
			return err
		}
		set(&state)
		return s.orders.SavePaymentState(ctx, tx, orderID, state)
	})
}

// loadGatewayOrder returns the order and its payment state when the payment
// actually went through this gateway. A missing processor reference gets an
// error note, not a silent no-op, so merchants can see why the requested
// action never reached the processor.
func (s *Service) loadGatewayOrder(ctx context.Context, orderID int64) (*orderdomain.Order, *orderdomain.PaymentState, error) {
	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, nil, err
	}
	state, err := orderdomain.DecodePaymentState(order.PaymentState)
	if err != nil {
		return nil, nil, err
	}
	if state.PayfacReference == "" {
		s.log.Warn("order has no processor reference",
			zap.Int64("order_id", orderID),
			zap.Error(paymentdomain.ErrMissingPayfacRef))
		if err := s.addNote(ctx, orderID,
			"Requested action was not sent to the payment processor: this order has no processor payment reference."); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	return order, &state, nil
}

func (s *Service) addNote(ctx context.Context, orderID int64, content string) error {
	return s.orders.AddNote(ctx, s.db, &orderdomain.Note{
		ID:      s.genID.Generate(),
		OrderID: orderID,
		Content: content,
	})
}

func reference(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
