package models

import (
	"github.com/google/uuid"
)

// Project groups the floorplan models a user uploads
type Project struct {
	Base
	UserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"userId"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`

	User   User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Models []Model `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"models,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}
