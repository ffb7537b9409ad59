package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type createCheckoutSessionRequest struct {
	OrderID int64                `json:"order_id" binding:"required"`
	Items   []processor.LineItem `json:"items"`
}

// HandleCreateCheckoutSession opens a hosted checkout session for an order
// and returns the URL the shopper must be redirected to. The session's return
// and abandon targets both point back at the payment-return endpoint, armed
// with a single-use token.
func (s *Server) HandleCreateCheckoutSession(c *gin.Context) {
	ctx := c.Request.Context()

	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	order, err := s.orders.FindByID(ctx, s.db, req.OrderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		s.log.Error("order lookup failed", zap.Int64("order_id", req.OrderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	settings := s.settings.Get()
	token := uuid.NewString()
	returnURL := fmt.Sprintf("%s/payment-return?order_id=%d&token=%s",
		strings.TrimRight(settings.PublicBaseURL, "/"), order.ID, token)

	result, err := s.processor.CreateSession(ctx, processor.SessionRequest{
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		Reference:      reference(order.ID),
		ReturnURL:      returnURL,
		AbandonURL:     returnURL,
		Items:          req.Items,
		IsSubscription: order.SubscriptionRef != "",
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "processor_no_result"})
		return
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.LockForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		state, err := orderdomain.DecodePaymentState(locked.PaymentState)
		if err != nil {
			return err
		}
		state.CheckoutReference = result.CheckoutReference
		state.IsManualCapture = settings.ManualCapture
		state.ReturnToken = token
		return s.orders.SavePaymentState(ctx, tx, order.ID, state)
	})
	if err != nil {
		s.log.Error("session state persist failed", zap.Int64("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redirect_url":       result.URL,
		"checkout_reference": result.CheckoutReference,
	})
}
