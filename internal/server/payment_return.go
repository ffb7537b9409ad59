package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/merchantkit/paygate/internal/amount"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HandlePaymentReturn receives the shopper coming back from the hosted
// checkout page. It is informational only: the webhook remains the source of
// truth for payment state, this handler just records what the status probe
// saw and sends the shopper to the right page. The token issued at session
// creation is single use; a replayed or forged return goes straight to the
// abandon page.
func (s *Server) HandlePaymentReturn(c *gin.Context) {
	ctx := c.Request.Context()
	settings := s.settings.Get()

	orderID, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		s.redirect(c, settings.AbandonURL)
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		s.redirect(c, settings.AbandonURL)
		return
	}

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		s.log.Warn("return for unknown order", zap.Int64("order_id", orderID), zap.Error(err))
		s.redirect(c, settings.AbandonURL)
		return
	}
	state, err := orderdomain.DecodePaymentState(order.PaymentState)
	if err != nil {
		s.log.Error("state decode failed", zap.Int64("order_id", orderID), zap.Error(err))
		s.redirect(c, settings.AbandonURL)
		return
	}
	if state.ReturnToken == "" ||
		subtle.ConstantTimeCompare([]byte(state.ReturnToken), []byte(token)) != 1 {
		s.log.Warn("return token rejected", zap.Int64("order_id", orderID))
		s.redirect(c, settings.AbandonURL)
		return
	}

	checkoutRef := strings.TrimSpace(c.Query("checkoutReference"))
	if checkoutRef == "" {
		checkoutRef = state.CheckoutReference
	}

	status, err := s.processor.GetStatus(ctx, checkoutRef)
	if err != nil {
		s.log.Warn("status probe failed", zap.Int64("order_id", orderID), zap.Error(err))
		s.redirect(c, settings.AbandonURL)
		return
	}
	authorized := status.PayfacReference != ""

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		state, err := orderdomain.DecodePaymentState(locked.PaymentState)
		if err != nil {
			return err
		}
		state.ReturnToken = ""
		if authorized && state.PayfacReference == "" {
			state.PayfacReference = status.PayfacReference
		}
		if err := s.orders.SavePaymentState(ctx, tx, orderID, state); err != nil {
			return err
		}
		return s.orders.AddNote(ctx, tx, &orderdomain.Note{
			ID:      s.genID.Generate(),
			OrderID: orderID,
			Content: returnNote(status.Status, status.PayfacReference,
				amount.Format(status.Amount, status.Currency)),
		})
	})
	if err != nil {
		s.log.Error("return bookkeeping failed", zap.Int64("order_id", orderID), zap.Error(err))
	}

	if authorized {
		s.redirect(c, settings.SuccessURL)
		return
	}
	s.redirect(c, settings.AbandonURL)
}

func (s *Server) redirect(c *gin.Context, target string) {
	if strings.TrimSpace(target) == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}

func returnNote(status, payfacReference, display string) string {
	if payfacReference == "" {
		return fmt.Sprintf("Shopper returned from checkout without an authorized payment (status %q).", status)
	}
	return fmt.Sprintf("Shopper returned from checkout; processor reports %q for %s (ref %s).",
		status, display, payfacReference)
}
