package sections

import (
	"context"

	"architect-studio/common"
	"architect-studio/sections/models"

	"github.com/google/uuid"
)

// OwnedProject loads a project and checks it belongs to userID. A foreign
// project is common.ErrForbidden.
func OwnedProject(ctx context.Context, store Store, id, userID uuid.UUID) (*models.Project, error) {
	project, err := store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, common.ErrForbidden
	}
	return project, nil
}

// OwnedModel loads a model and checks its project belongs to userID
func OwnedModel(ctx context.Context, store Store, id, userID uuid.UUID) (*models.Model, error) {
	model, err := store.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := OwnedProject(ctx, store, model.ProjectID, userID); err != nil {
		return nil, err
	}
	return model, nil
}
