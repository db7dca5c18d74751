package models

import (
	"encoding/json"

	"architect-studio/workflow"

	"github.com/google/uuid"
)

// PlanningAnalysis is a UK planning-permission feasibility check for a property
type PlanningAnalysis struct {
	Base
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"userId"`
	ProjectID *uuid.UUID `gorm:"type:uuid;index" json:"projectId,omitempty"`

	PropertyImageURL string   `gorm:"size:1024;not null" json:"propertyImageUrl"`
	FloorplanURL     string   `gorm:"size:1024" json:"floorplanUrl,omitempty"`
	Address          string   `gorm:"size:500" json:"address,omitempty"`
	Postcode         string   `gorm:"size:10" json:"postcode,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	LocalAuthority   string   `gorm:"size:255" json:"localAuthority,omitempty"`

	WorkflowMode workflow.WorkflowMode `gorm:"size:16;not null;default:'modify'" json:"workflowMode"`

	// Raw JSON documents produced by the analysis stages
	Analysis      json.RawMessage `gorm:"column:analysis_json;type:jsonb" json:"analysis,omitempty"`
	Modifications json.RawMessage `gorm:"column:modifications_json;type:jsonb" json:"modifications,omitempty"`
	Options       json.RawMessage `gorm:"column:options_json;type:jsonb" json:"options,omitempty"`

	SelectedModification string `gorm:"size:100" json:"selectedModification,omitempty"`
	SelectedOptionTier   string `gorm:"size:32" json:"selectedOptionTier,omitempty"`
	VisualizationURL     string `gorm:"size:1024" json:"visualizationUrl,omitempty"`

	Status       workflow.PlanningStatus `gorm:"size:32;not null;default:'pending';index" json:"status"`
	ErrorMessage string                  `gorm:"type:text" json:"errorMessage,omitempty"`
}

func (PlanningAnalysis) TableName() string {
	return "planning_analyses"
}
