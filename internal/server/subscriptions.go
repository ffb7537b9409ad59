package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	subscriptiondomain "github.com/merchantkit/paygate/internal/subscription/domain"
	"github.com/merchantkit/paygate/pkg/db"
	"go.uber.org/zap"
)

type createSubscriptionRequest struct {
	Ref      string `json:"ref" binding:"required"`
	OrderID  int64  `json:"order_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

// HandleCreateSubscription registers a recurring agreement against the order
// whose checkout stored the card token. The first renewal falls one month
// after registration.
func (s *Server) HandleCreateSubscription(c *gin.Context) {
	ctx := c.Request.Context()

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if _, err := s.orders.FindByID(ctx, s.db, req.OrderID); err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	subscription := &subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		Ref:         req.Ref,
		OrderID:     req.OrderID,
		Status:      subscriptiondomain.StatusActive,
		Amount:      req.Amount,
		Currency:    req.Currency,
		NextRenewal: time.Now().UTC().AddDate(0, 1, 0),
	}
	if err := s.subs.Register(ctx, subscription); err != nil {
		if db.IsDuplicateKeyErr(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "subscription_ref_taken"})
			return
		}
		s.log.Error("subscription registration failed",
			zap.String("ref", req.Ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, subscription)
}

func (s *Server) HandleRenewSubscription(c *gin.Context) {
	err := s.subs.Renew(c.Request.Context(), c.Param("ref"))
	if err != nil {
		switch {
		case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
		case errors.Is(err, subscriptiondomain.ErrNoStoredToken):
			c.JSON(http.StatusConflict, gin.H{"error": "no_stored_card_token"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) HandleRenewDueSubscriptions(c *gin.Context) {
	attempted, err := s.subs.RenewDue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempted": attempted})
}
