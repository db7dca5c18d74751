package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"architect-studio/common"
	"architect-studio/sections"
	"architect-studio/sections/models"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService holds the account logic shared by password and OAuth sign-in
type UserService struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

func NewUserService(deps *sections.Dependencies) *UserService {
	return &UserService{
		logger: slog.With("service", "UserService"),
		deps:   deps,
	}
}

// Register creates a password account. A taken email is common.ErrConflict.
func (s *UserService) Register(ctx context.Context, email, password, firstName, lastName string) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hash := string(hashed)

	user := &models.User{
		Email:        email,
		PasswordHash: &hash,
		FirstName:    firstName,
		LastName:     lastName,
	}
	if err := s.deps.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", "user_id", user.ID)
	return user, nil
}

// Authenticate checks an email and password. Unknown emails, OAuth-only
// accounts and wrong passwords all come back as ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.deps.Store.GetUserByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.deps.Store.TouchLogin(ctx, user.ID); err != nil {
		s.logger.Warn("Failed to record login", "user_id", user.ID, "error", err)
	}
	now := time.Now()
	user.LastLoginAt = &now
	return user, nil
}

// FindOrCreateGoogleUser signs in by Google id, links a Google account to an
// existing email, or creates a fresh account.
func (s *UserService) FindOrCreateGoogleUser(ctx context.Context, info *googleUserInfo) (*models.User, error) {
	now := time.Now()

	user, err := s.deps.Store.GetUserByGoogleID(ctx, info.ID)
	if err == nil {
		if err := s.deps.Store.TouchLogin(ctx, user.ID); err != nil {
			s.logger.Warn("Failed to record login", "user_id", user.ID, "error", err)
		}
		user.LastLoginAt = &now
		return user, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if info.Email == "" {
		return nil, fmt.Errorf("%w: google account has no email", common.ErrValidation)
	}

	googleID := info.ID
	user, err = s.deps.Store.GetUserByEmail(ctx, info.Email)
	switch {
	case err == nil:
		user.GoogleID = &googleID
		user.LastLoginAt = &now
		if user.AvatarURL == "" {
			user.AvatarURL = info.Picture
		}
		if err := s.deps.Store.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		s.logger.Info("Google account linked to existing user", "user_id", user.ID)
		return user, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user = &models.User{
		Email:       info.Email,
		FirstName:   info.GivenName,
		LastName:    info.FamilyName,
		AvatarURL:   info.Picture,
		GoogleID:    &googleID,
		LastLoginAt: &now,
	}
	if err := s.deps.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("User created from Google sign-in", "user_id", user.ID)
	return user, nil
}

// StartSession issues the session cookie for user on w
func (s *UserService) StartSession(w http.ResponseWriter, user *models.User) error {
	token, err := s.deps.Sessions.GenerateToken(user.ID, user.Email)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	http.SetCookie(w, s.deps.Sessions.Cookie(token))
	return nil
}
