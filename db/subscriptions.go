package db

import (
	"context"
	"fmt"
	"time"

	"architect-studio/common"
	"architect-studio/sections/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingPeriod is the length of a generation allowance period
func BillingPeriod(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// EnsureSubscription creates the free-plan row for a user who has none.
// Concurrent first requests race on the unique user_id; the loser is a no-op.
func (db *DB) EnsureSubscription(ctx context.Context, userID uuid.UUID, freeLimit int) error {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Exec(
		`INSERT INTO user_subscriptions
			(id, user_id, plan, status, generations_used, generations_limit,
			 current_period_start, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, 'active', 0, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID, common.PLAN_FREE, freeLimit, now, BillingPeriod(now), now, now,
	).Error
	if err != nil {
		return fmt.Errorf("failed to ensure subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the user's subscription, creating the free row and
// rolling an expired period over first.
func (db *DB) GetSubscription(ctx context.Context, userID uuid.UUID, freeLimit int) (*models.UserSubscription, error) {
	if err := db.EnsureSubscription(ctx, userID, freeLimit); err != nil {
		return nil, err
	}
	if err := db.rollover(ctx, userID, time.Now().UTC()); err != nil {
		return nil, err
	}

	var sub models.UserSubscription
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

// ConsumeGeneration spends one generation. The increment is conditional on
// remaining allowance, so two concurrent requests can never both take the
// last generation.
func (db *DB) ConsumeGeneration(ctx context.Context, userID uuid.UUID, freeLimit int) error {
	if err := db.EnsureSubscription(ctx, userID, freeLimit); err != nil {
		return err
	}
	if err := db.rollover(ctx, userID, time.Now().UTC()); err != nil {
		return err
	}

	res := db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("user_id = ? AND generations_used < generations_limit", userID).
		Update("generations_used", gorm.Expr("generations_used + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to consume generation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrQuotaExceeded
	}
	return nil
}

// RefundGeneration gives back a generation spent on a failed attempt
func (db *DB) RefundGeneration(ctx context.Context, userID uuid.UUID) error {
	res := db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("user_id = ? AND generations_used > 0", userID).
		Update("generations_used", gorm.Expr("generations_used - 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to refund generation: %w", res.Error)
	}
	return nil
}

// ActivatePlan switches a user onto a paid plan and starts a fresh period
func (db *DB) ActivatePlan(ctx context.Context, sub *models.UserSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan",
			"status",
			"generations_used",
			"generations_limit",
			"current_period_start",
			"current_period_end",
			"stripe_customer_id",
			"stripe_subscription_id",
			"updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to activate plan: %w", err)
	}
	return nil
}

func (db *DB) rollover(ctx context.Context, userID uuid.UUID, now time.Time) error {
	err := db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("user_id = ? AND current_period_end < ?", userID, now).
		Updates(map[string]any{
			"generations_used":     0,
			"current_period_start": now,
			"current_period_end":   BillingPeriod(now),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to roll over billing period: %w", err)
	}
	return nil
}
