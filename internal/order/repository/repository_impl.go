package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/merchantkit/paygate/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = domain.StatusPending
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (id, status, total_amount, currency, needs_processing, subscription_ref, payment_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.Status,
		order.TotalAmount,
		order.Currency,
		order.NeedsProcessing,
		order.SubscriptionRef,
		order.PaymentState,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, status, total_amount, currency, needs_processing, subscription_ref, payment_state, created_at, updated_at
		 FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return &order, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Order, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(reference), 10, 64)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}
	return r.FindByID(ctx, db, id)
}

func (r *repo) LockForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*domain.Order, error) {
	stmt := tx.WithContext(ctx).Model(&domain.Order{})
	// sqlite rejects FOR UPDATE syntax; writer exclusion there relies on the
	// connection opening transactions with BEGIN IMMEDIATE (see pkg/db).
	if tx.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order domain.Order
	if err := stmt.Where("id = ?", id).Take(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status domain.Status) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) SavePaymentState(ctx context.Context, db *gorm.DB, id int64, state domain.PaymentState) error {
	raw, err := state.Encode()
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET payment_state = ?, updated_at = ? WHERE id = ?`,
		raw,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) AddNote(ctx context.Context, db *gorm.DB, note *domain.Note) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_notes (id, order_id, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		note.ID,
		note.OrderID,
		note.Content,
		note.CreatedAt,
	).Error
}

func (r *repo) ListNotes(ctx context.Context, db *gorm.DB, orderID int64) ([]*domain.Note, error) {
	var notes []*domain.Note
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, content, created_at
		 FROM order_notes WHERE order_id = ?
		 ORDER BY created_at, id`,
		orderID,
	).Scan(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}
