// Package domain contains persistence models for token-backed subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past-due"
	StatusCancelled Status = "cancelled"
)

// Subscription links a recurring agreement to the order whose checkout stored
// the payment card token. Renewals charge that token; the platform owns plan
// and entitlement data, only the payment side lives here.
type Subscription struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Ref         string       `gorm:"type:text;not null;uniqueIndex"`
	OrderID     int64        `gorm:"not null;index"`
	Status      Status       `gorm:"type:text;not null"`
	Amount      int64        `gorm:"not null"`
	Currency    string       `gorm:"type:text;not null"`
	NextRenewal time.Time    `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
