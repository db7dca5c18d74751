package models

import (
	"architect-studio/workflow"

	"github.com/google/uuid"
)

// Model is one uploaded floorplan and everything generated from it
type Model struct {
	Base
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"projectId"`
	Name      string    `gorm:"size:255" json:"name"`

	OriginalURL    string `gorm:"size:1024;not null" json:"originalUrl"`
	IsometricURL   string `gorm:"size:1024" json:"isometricUrl,omitempty"`
	Model3DURL     string `gorm:"column:model3d_url;size:1024" json:"model3dUrl,omitempty"`
	BaseModel3DURL string `gorm:"column:base_model3d_url;size:1024" json:"baseModel3dUrl,omitempty"`

	MeshProvider    string `gorm:"size:20" json:"meshProvider,omitempty"`
	MeshyTaskID     string `gorm:"size:255" json:"meshyTaskId,omitempty"`
	RetextureTaskID string `gorm:"size:255" json:"retextureTaskId,omitempty"`
	RetextureUsed   bool   `gorm:"not null;default:false" json:"retextureUsed"`
	RetexturePrompt string `gorm:"type:text" json:"retexturePrompt,omitempty"`

	Status       workflow.ModelStatus `gorm:"size:32;not null;default:'uploaded';index" json:"status"`
	ErrorMessage string               `gorm:"type:text" json:"errorMessage,omitempty"`

	Project Project `gorm:"foreignKey:ProjectID" json:"-"`
}

func (Model) TableName() string {
	return "models"
}
