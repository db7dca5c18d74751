package models

import (
	"time"
)

// User represents an account, signed in by password or Google
type User struct {
	Base
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string    `gorm:"size:255" json:"-"`
	FirstName    string     `gorm:"size:100" json:"firstName"`
	LastName     string     `gorm:"size:100" json:"lastName"`
	AvatarURL    string     `gorm:"size:1024" json:"avatarUrl,omitempty"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`

	// OAuth fields
	GoogleID *string `gorm:"uniqueIndex;size:255" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// DisplayName joins first and last name, falling back to the email
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}
