package db

import (
	"context"
	"fmt"

	"architect-studio/common"
	"architect-studio/sections/models"

	"github.com/google/uuid"
)

func (db *DB) ListProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	var projects []models.Project
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

func (db *DB) CreateProject(ctx context.Context, project *models.Project) error {
	if err := db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	if err := db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

// UpdateProject writes name and description only
func (db *DB) UpdateProject(ctx context.Context, project *models.Project) error {
	res := db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]any{
			"name":        project.Name,
			"description": project.Description,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project and its models
func (db *DB) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tx := db.WithContext(ctx)
	if err := tx.Where("project_id = ?", id).Delete(&models.Model{}).Error; err != nil {
		return fmt.Errorf("failed to delete project models: %w", err)
	}
	res := tx.Where("id = ?", id).Delete(&models.Project{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}
