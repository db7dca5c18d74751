package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"architect-studio/common"
	"architect-studio/sections/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: email already registered", common.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (db *DB) GetUserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).Where("google_id = ?", googleID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (db *DB) SaveUser(ctx context.Context, user *models.User) error {
	if err := db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// TouchLogin records the sign-in time
func (db *DB) TouchLogin(ctx context.Context, id uuid.UUID) error {
	return db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("last_login_at", time.Now()).Error
}
