package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order_not_found")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Order, error)
	// FindByReference resolves the integer-parseable merchant reference used
	// by webhook payloads.
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Order, error)
	// LockForUpdate reads the order under a row lock; callers must hold a
	// transaction so the dedup check and key append stay atomic per order.
	LockForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status Status) error
	SavePaymentState(ctx context.Context, db *gorm.DB, id int64, state PaymentState) error
	AddNote(ctx context.Context, db *gorm.DB, note *Note) error
	ListNotes(ctx context.Context, db *gorm.DB, orderID int64) ([]*Note, error)
}
