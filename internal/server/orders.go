package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"go.uber.org/zap"
)

type orderStatusRequest struct {
	Status orderdomain.Status `json:"status" binding:"required"`
}

var knownStatuses = map[orderdomain.Status]struct{}{
	orderdomain.StatusPending:    {},
	orderdomain.StatusOnHold:     {},
	orderdomain.StatusProcessing: {},
	orderdomain.StatusCompleted:  {},
	orderdomain.StatusCancelled:  {},
	orderdomain.StatusRefunded:   {},
	orderdomain.StatusFailed:     {},
}

// HandleOrderStatusTransition applies a merchant-driven status change. The
// lifecycle bridge runs first so capture, cancel and refund commands go out
// against the pre-transition state; its failures surface as order notes, not
// as request errors.
func (s *Server) HandleOrderStatusTransition(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id"})
		return
	}
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, ok := knownStatuses[req.Status]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_status"})
		return
	}

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		s.log.Error("order lookup failed", zap.Int64("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if order.Status == req.Status {
		c.JSON(http.StatusOK, order)
		return
	}

	if err := s.bridge.HandleTransition(ctx, orderID, order.Status, req.Status); err != nil {
		s.log.Error("lifecycle bridge failed",
			zap.Int64("order_id", orderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(req.Status)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if err := s.orders.UpdateStatus(ctx, s.db, orderID, req.Status); err != nil {
		s.log.Error("status update failed", zap.Int64("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	updated, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) HandleListOrderNotes(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id"})
		return
	}
	notes, err := s.orders.ListNotes(c.Request.Context(), s.db, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func reference(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
