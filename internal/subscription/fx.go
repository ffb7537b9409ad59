package subscription

import (
	"github.com/merchantkit/paygate/internal/payment/lifecycle"
	"github.com/merchantkit/paygate/internal/subscription/domain"
	"github.com/merchantkit/paygate/internal/subscription/repository"
	"github.com/merchantkit/paygate/internal/subscription/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Subscription{})
}

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		service.NewService,
		fx.Annotate(
			func(s *service.Service) *service.Service { return s },
			fx.As(new(lifecycle.SubscriptionCanceller)),
		),
	),
	fx.Invoke(AutoMigrate),
)
