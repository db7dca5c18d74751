package db

import (
	"context"
	"fmt"
	"time"

	"architect-studio/common"
	"architect-studio/sections/models"
	"architect-studio/workflow"

	"github.com/google/uuid"
)

func (db *DB) CreatePlanning(ctx context.Context, analysis *models.PlanningAnalysis) error {
	if analysis.Status == "" {
		analysis.Status = workflow.PlanningPending
	}
	if err := db.WithContext(ctx).Create(analysis).Error; err != nil {
		return fmt.Errorf("failed to create planning analysis: %w", err)
	}
	return nil
}

// GetPlanning loads an analysis owned by userID. Other users' rows are
// indistinguishable from missing ones.
func (db *DB) GetPlanning(ctx context.Context, id, userID uuid.UUID) (*models.PlanningAnalysis, error) {
	var analysis models.PlanningAnalysis
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&analysis).Error
	if err != nil {
		return nil, translate(err)
	}
	return &analysis, nil
}

func (db *DB) ListPlanning(ctx context.Context, userID uuid.UUID) ([]models.PlanningAnalysis, error) {
	var list []models.PlanningAnalysis
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list planning analyses: %w", err)
	}
	return list, nil
}

func (db *DB) DeletePlanning(ctx context.Context, id, userID uuid.UUID) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.PlanningAnalysis{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete planning analysis: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// AdvancePlanning is the planning counterpart of AdvanceModel.
func (db *DB) AdvancePlanning(ctx context.Context, id uuid.UUID, from, to workflow.PlanningStatus, fields map[string]any) error {
	if err := workflow.Planning.Validate(from, to); err != nil {
		return err
	}

	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := db.WithContext(ctx).Model(&models.PlanningAnalysis{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to advance planning analysis %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("planning analysis %s not in %q: %w", id, from, workflow.ErrPreconditionFailed)
	}
	return nil
}

// SelectOptionTier records the chosen extension tier and starts generating
// its visualisation. Only extend-mode analyses with options ready qualify.
func (db *DB) SelectOptionTier(ctx context.Context, id uuid.UUID, tier string) error {
	res := db.WithContext(ctx).Model(&models.PlanningAnalysis{}).
		Where("id = ? AND status = ? AND workflow_mode = ?", id, workflow.PlanningOptionsReady, workflow.ModeExtend).
		Updates(map[string]any{
			"status":               workflow.PlanningGenerating,
			"selected_option_tier": tier,
			"error_message":        "",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to select option tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("planning analysis %s has no options ready: %w", id, workflow.ErrPreconditionFailed)
	}
	return nil
}

func (db *DB) ListStalePlanning(ctx context.Context, statuses []workflow.PlanningStatus, cutoff time.Time) ([]models.PlanningAnalysis, error) {
	var list []models.PlanningAnalysis
	err := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale planning analyses: %w", err)
	}
	return list, nil
}
