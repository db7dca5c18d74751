package users

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler handles user-related requests
type Handler struct {
	logger  *slog.Logger
	deps    *sections.Dependencies
	service *UserService
}

// NewHandler creates a new users handler
func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger:  slog.With("handler", "UsersHandler"),
		deps:    deps,
		service: NewUserService(deps),
	}
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName" binding:"max=100"`
	LastName  string `json:"lastName" binding:"max=100"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	HasPassword bool       `json:"hasPassword"`
	HasGoogle   bool       `json:"hasGoogle"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to create user")
		return
	}

	if err := h.service.StartSession(c.Writer, user); err != nil {
		sections.RespondError(c, h.logger, err, "failed to start session")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		sections.RespondError(c, h.logger, err, "login failed")
		return
	}

	if err := h.service.StartSession(c.Writer, user); err != nil {
		sections.RespondError(c, h.logger, err, "failed to start session")
		return
	}

	h.logger.Info("User logged in", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

func (h *Handler) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, h.deps.Sessions.ClearCookie())
	c.Status(http.StatusNoContent)
}

// GetProfile returns the current user's profile
func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.deps.Store.GetUser(c.Request.Context(), userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

// UpdateProfile updates the current user's name
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.deps.Store.GetUser(c.Request.Context(), userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load user")
		return
	}

	user.FirstName = req.FirstName
	user.LastName = req.LastName
	if err := h.deps.Store.SaveUser(c.Request.Context(), user); err != nil {
		sections.RespondError(c, h.logger, err, "failed to update user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

func toUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		AvatarURL:   user.AvatarURL,
		HasPassword: user.PasswordHash != nil,
		HasGoogle:   user.GoogleID != nil,
		LastLoginAt: user.LastLoginAt,
	}
}

// RegisterRoutes registers all user-related routes
func RegisterRoutes(r gin.IRouter, deps *sections.Dependencies) {
	handler := NewHandler(deps)

	public := r.Group("/api/auth")
	{
		public.POST("/register", handler.Register)
		public.POST("/login", handler.Login)
		public.POST("/logout", handler.Logout)
	}

	protected := r.Group("/api/auth")
	protected.Use(auth.SessionMiddleware(deps.Sessions))
	{
		protected.GET("/me", handler.GetProfile)
		protected.PUT("/me", handler.UpdateProfile)
	}
}
