package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNoStoredToken        = errors.New("no_stored_card_token")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByRef(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)
	ListDue(ctx context.Context, db *gorm.DB, at time.Time) ([]Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, ref string, status Status) error
	Advance(ctx context.Context, db *gorm.DB, ref string, nextRenewal time.Time) error
}
