package payment

import (
	"github.com/merchantkit/paygate/internal/payment/lifecycle"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"github.com/merchantkit/paygate/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(processor.NewClient),
	fx.Provide(webhook.NewService),
	fx.Provide(lifecycle.NewService),
)
