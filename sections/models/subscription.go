package models

import (
	"time"

	"github.com/google/uuid"
)

// UserSubscription carries the plan and the generation allowance of a user.
// One row per user; created with the free plan on first use.
type UserSubscription struct {
	Base
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"userId"`

	Plan   string `gorm:"size:50;not null;default:'free'" json:"plan"`
	Status string `gorm:"size:50;not null;default:'active'" json:"status"` // active, canceled, past_due

	GenerationsUsed  int `gorm:"not null;default:0" json:"generationsUsed"`
	GenerationsLimit int `gorm:"not null;default:0" json:"generationsLimit"`

	CurrentPeriodStart time.Time `gorm:"not null" json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `gorm:"not null" json:"currentPeriodEnd"`

	StripeCustomerID     string `gorm:"size:255;index" json:"-"`
	StripeSubscriptionID string `gorm:"size:255;index" json:"-"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

// Remaining is the number of generations left in the current period
func (s *UserSubscription) Remaining() int {
	if s.GenerationsUsed >= s.GenerationsLimit {
		return 0
	}
	return s.GenerationsLimit - s.GenerationsUsed
}
