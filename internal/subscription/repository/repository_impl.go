package repository

import (
	"context"
	"errors"
	"time"

	"github.com/merchantkit/paygate/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = now
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, ref, order_id, status, amount, currency, next_renewal, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.Ref,
		subscription.OrderID,
		subscription.Status,
		subscription.Amount,
		subscription.Currency,
		subscription.NextRenewal,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, ref, order_id, status, amount, currency, next_renewal, created_at, updated_at
		 FROM subscriptions WHERE ref = ?`,
		ref,
	).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, at time.Time) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, ref, order_id, status, amount, currency, next_renewal, created_at, updated_at
		 FROM subscriptions WHERE status = ? AND next_renewal <= ?
		 ORDER BY next_renewal`,
		domain.StatusActive,
		at,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, ref string, status domain.Status) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE ref = ?`,
		status,
		time.Now().UTC(),
		ref,
	).Error
}

func (r *repo) Advance(ctx context.Context, db *gorm.DB, ref string, nextRenewal time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET next_renewal = ?, status = ?, updated_at = ? WHERE ref = ?`,
		nextRenewal,
		domain.StatusActive,
		time.Now().UTC(),
		ref,
	).Error
}
