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

func (db *DB) CreateModel(ctx context.Context, model *models.Model) error {
	if model.Status == "" {
		model.Status = workflow.ModelUploaded
	}
	if err := db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	return nil
}

func (db *DB) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	var model models.Model
	if err := db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &model, nil
}

func (db *DB) ListModels(ctx context.Context, projectID uuid.UUID) ([]models.Model, error) {
	var list []models.Model
	err := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return list, nil
}

func (db *DB) DeleteModel(ctx context.Context, id uuid.UUID) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&models.Model{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// AdvanceModel moves a model from one status to the next in a single
// conditional update, writing fields alongside. When another writer got
// there first no row matches and workflow.ErrPreconditionFailed is returned.
func (db *DB) AdvanceModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, fields map[string]any) error {
	if err := workflow.Models.Validate(from, to); err != nil {
		return err
	}
	return db.casModel(ctx, id, from, to, fields, nil)
}

// ClaimRetexture moves a completed model into retexturing, provided its one
// retexture has not been spent.
func (db *DB) ClaimRetexture(ctx context.Context, id uuid.UUID, prompt string) error {
	return db.casModel(ctx, id, workflow.ModelCompleted, workflow.ModelRetexturing,
		map[string]any{"retexture_prompt": prompt, "retexture_task_id": "", "error_message": ""},
		map[string]any{"retexture_used": false})
}

// MarkRetextureUsed spends the retexture allowance. There is no way back.
func (db *DB) MarkRetextureUsed(ctx context.Context, id uuid.UUID, taskID string) error {
	res := db.WithContext(ctx).Model(&models.Model{}).
		Where("id = ? AND status = ?", id, workflow.ModelRetexturing).
		Updates(map[string]any{
			"retexture_used":    true,
			"retexture_task_id": taskID,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark retexture used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return workflow.ErrPreconditionFailed
	}
	return nil
}

// SetMeshTask records the provider task of a model that is generating its mesh
func (db *DB) SetMeshTask(ctx context.Context, id uuid.UUID, taskID string) error {
	res := db.WithContext(ctx).Model(&models.Model{}).
		Where("id = ? AND status = ?", id, workflow.ModelGenerating3D).
		Update("meshy_task_id", taskID)
	if res.Error != nil {
		return fmt.Errorf("failed to record mesh task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return workflow.ErrPreconditionFailed
	}
	return nil
}

// ExpireModel moves an abandoned generation out of from, writing message.
// Provider stages only expire while no task id was recorded, so a request
// that saved its task in the meantime wins.
func (db *DB) ExpireModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, message string) error {
	if err := workflow.Models.Validate(from, to); err != nil {
		return err
	}
	var guard map[string]any
	if col := taskColumn(from); col != "" {
		guard = map[string]any{col: ""}
	}
	return db.casModel(ctx, id, from, to, map[string]any{"error_message": message}, guard)
}

// taskColumn names the provider task id written while a model is in status
func taskColumn(status workflow.ModelStatus) string {
	switch status {
	case workflow.ModelGenerating3D:
		return "meshy_task_id"
	case workflow.ModelRetexturing:
		return "retexture_task_id"
	}
	return ""
}

// ListStaleModels returns models parked in one of statuses since before cutoff
func (db *DB) ListStaleModels(ctx context.Context, statuses []workflow.ModelStatus, cutoff time.Time) ([]models.Model, error) {
	var list []models.Model
	err := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale models: %w", err)
	}
	return list, nil
}

func (db *DB) casModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, fields, guard map[string]any) error {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	q := db.WithContext(ctx).Model(&models.Model{}).
		Where("id = ? AND status = ?", id, from)
	for col, v := range guard {
		q = q.Where(col+" = ?", v)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to advance model %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("model %s not in %q: %w", id, from, workflow.ErrPreconditionFailed)
	}
	return nil
}
