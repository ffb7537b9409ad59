package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/merchantkit/paygate/internal/amount"
	"github.com/merchantkit/paygate/internal/metrics"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"github.com/merchantkit/paygate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Orders    orderdomain.Repository
	Subs      domain.Repository
	Processor *processor.Client
	Metrics   *metrics.Metrics `optional:"true"`
}

// Service charges subscription renewals against the card token stored by the
// tokenization event of the originating order, and cancels agreements when
// that order is refunded.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	orders    orderdomain.Repository
	subs      domain.Repository
	processor *processor.Client
	metrics   *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription"),
		genID:     p.GenID,
		orders:    p.Orders,
		subs:      p.Subs,
		processor: p.Processor,
		metrics:   p.Metrics,
	}
}

// Register stores a new agreement.
func (s *Service) Register(ctx context.Context, subscription *domain.Subscription) error {
	return s.subs.Insert(ctx, s.db, subscription)
}

// Cancel marks the agreement cancelled. Satisfies the lifecycle bridge's
// canceller contract.
func (s *Service) Cancel(ctx context.Context, subscriptionRef string) error {
	if _, err := s.subs.FindByRef(ctx, s.db, subscriptionRef); err != nil {
		return err
	}
	return s.subs.UpdateStatus(ctx, s.db, subscriptionRef, domain.StatusCancelled)
}

// Renew charges one renewal for the agreement. Renewals are monthly; a
// successful charge advances the renewal date, a declined or unreachable
// charge parks the agreement in past-due for the next sweep.
func (s *Service) Renew(ctx context.Context, subscriptionRef string) error {
	subscription, err := s.subs.FindByRef(ctx, s.db, subscriptionRef)
	if err != nil {
		return err
	}
	if subscription.Status == domain.StatusCancelled {
		return nil
	}

	order, err := s.orders.FindByID(ctx, s.db, subscription.OrderID)
	if err != nil {
		return err
	}
	state, err := orderdomain.DecodePaymentState(order.PaymentState)
	if err != nil {
		return err
	}
	if state.CardToken == "" {
		return domain.ErrNoStoredToken
	}

	display := amount.Format(subscription.Amount, subscription.Currency)
	result, err := s.processor.ProcessTokenPayment(ctx, processor.TokenPaymentRequest{
		Token:     state.CardToken,
		Amount:    subscription.Amount,
		Currency:  subscription.Currency,
		Reference: renewalReference(subscription),
		Channel:   "Web",
	})
	if err != nil || !result.Authorised() {
		if statusErr := s.subs.UpdateStatus(ctx, s.db, subscriptionRef, domain.StatusPastDue); statusErr != nil {
			return statusErr
		}
		return s.addNote(ctx, subscription.OrderID,
			fmt.Sprintf("Renewal charge of %s for subscription %s failed.", display, subscription.Ref))
	}

	if err := s.subs.Advance(ctx, s.db, subscriptionRef, subscription.NextRenewal.AddDate(0, 1, 0)); err != nil {
		return err
	}
	return s.addNote(ctx, subscription.OrderID,
		fmt.Sprintf("Renewal charge of %s for subscription %s authorized.", display, subscription.Ref))
}

// RenewDue charges every agreement whose renewal date has passed and reports
// how many were attempted. Per-agreement failures are logged, not fatal.
func (s *Service) RenewDue(ctx context.Context) (int, error) {
	due, err := s.subs.ListDue(ctx, s.db, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, subscription := range due {
		if err := s.Renew(ctx, subscription.Ref); err != nil {
			s.log.Warn("renewal failed",
				zap.String("subscription_ref", subscription.Ref),
				zap.Int64("order_id", subscription.OrderID),
				zap.Error(err))
		}
	}
	return len(due), nil
}

func (s *Service) addNote(ctx context.Context, orderID int64, content string) error {
	return s.orders.AddNote(ctx, s.db, &orderdomain.Note{
		ID:      s.genID.Generate(),
		OrderID: orderID,
		Content: content,
	})
}

func renewalReference(subscription *domain.Subscription) string {
	return strconv.FormatInt(subscription.OrderID, 10) + "-renewal-" +
		strconv.FormatInt(time.Now().UTC().Unix(), 10)
}
