package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	paymentdomain "github.com/merchantkit/paygate/internal/payment/domain"
	"github.com/merchantkit/paygate/internal/payment/signature"
	"go.uber.org/zap"
)

// HandlePaymentCallback ingests one processor notification. The processor
// treats anything other than 200 as a delivery failure and retries, so every
// outcome acknowledges with an empty 200; rejected events are only logged.
func (s *Server) HandlePaymentCallback(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.log.Warn("callback body unreadable", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	n, err := paymentdomain.Decode(payload)
	if err != nil {
		s.log.Warn("callback payload rejected", zap.Error(err))
		s.metrics.RecordWebhookEvent(paymentdomain.EventTypeUnknown, "invalid_payload")
		c.Status(http.StatusOK)
		return
	}

	verifier := signature.NewVerifier(s.settings.Get().HMACSecret)
	if !verifier.Verify(n, n.AdditionalData.HmacSignature) {
		s.log.Warn("callback signature rejected",
			zap.String("merchant_reference", n.MerchantReference),
			zap.String("event_type", n.Type()),
			zap.Error(paymentdomain.ErrInvalidSignature))
		s.metrics.RecordWebhookEvent(n.Type(), "invalid_signature")
		c.Status(http.StatusOK)
		return
	}

	order, err := s.orders.FindByReference(ctx, s.db, n.MerchantReference)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			s.log.Warn("callback for unknown order",
				zap.String("merchant_reference", n.MerchantReference))
			s.metrics.RecordWebhookEvent(n.Type(), "unknown_order")
		} else {
			s.log.Error("order lookup failed",
				zap.String("merchant_reference", n.MerchantReference),
				zap.Error(err))
		}
		c.Status(http.StatusOK)
		return
	}

	if err := s.reconciler.Apply(ctx, order.ID, n, payload); err != nil {
		s.log.Error("event application failed",
			zap.Int64("order_id", order.ID),
			zap.String("event_type", n.Type()),
			zap.Error(err))
	}
	c.Status(http.StatusOK)
}
