package order

import (
	"github.com/merchantkit/paygate/internal/order/domain"
	"github.com/merchantkit/paygate/internal/order/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// AutoMigrate keeps the order tables in step with the models. The commerce
// platform owns this schema in production; the embedded store exists so the
// service runs standalone.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Order{}, &domain.Note{})
}

var Module = fx.Module("order.store",
	fx.Provide(repository.Provide),
	fx.Invoke(AutoMigrate),
)
