package users

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"architect-studio/common"
	"architect-studio/sections"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	oauthStateCookie   = "oauth_state"
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateLifetime = 300
)

// OAuthHandler handles Google sign-in
type OAuthHandler struct {
	logger      *slog.Logger
	deps        *sections.Dependencies
	google      *oauth2.Config
	userInfoURL string
	userService *UserService
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(deps *sections.Dependencies, googleConfig *oauth2.Config) *OAuthHandler {
	return &OAuthHandler{
		logger:      slog.With("handler", "OAuthHandler"),
		deps:        deps,
		google:      googleConfig,
		userInfoURL: googleUserInfoURL,
		userService: NewUserService(deps),
	}
}

// NewGoogleConfig returns nil when Google sign-in is not configured
func NewGoogleConfig(config *common.Config) *oauth2.Config {
	if config.OauthGoogleClientID == "" || config.OauthGoogleClientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     config.OauthGoogleClientID,
		ClientSecret: config.OauthGoogleClientSecret,
		RedirectURL:  config.BaseURL + "/api/auth/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// GoogleLogin initiates Google OAuth flow
func (h *OAuthHandler) GoogleLogin(c *gin.Context) {
	state := generateOAuthState()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateLifetime, "/", "", h.deps.Config.SecureCookies, true)

	redirect := h.google.AuthCodeURL(state)

	// The SPA may prefer to navigate itself
	if c.Query("return_url") == "true" || c.GetHeader("Accept") == "application/json" {
		c.JSON(http.StatusOK, common.ApiResponse[map[string]string]{
			Data:    map[string]string{"redirectUrl": redirect},
			Success: true,
		})
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, redirect)
}

// GoogleCallback handles Google OAuth callback
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	storedState, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != storedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.deps.Config.SecureCookies, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	ctx := c.Request.Context()
	token, err := h.google.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("Failed to exchange code for token", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to authenticate"})
		return
	}

	info, err := h.getGoogleUserInfo(ctx, token)
	if err != nil {
		h.logger.Error("Failed to get Google user info", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to get user info"})
		return
	}

	user, err := h.userService.FindOrCreateGoogleUser(ctx, info)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to authenticate")
		return
	}

	if err := h.userService.StartSession(c.Writer, user); err != nil {
		sections.RespondError(c, h.logger, err, "failed to start session")
		return
	}

	h.logger.Info("User signed in with Google", "user_id", user.ID)
	c.Redirect(http.StatusTemporaryRedirect, h.deps.Config.FrontendURL+"/dashboard")
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (h *OAuthHandler) getGoogleUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	resp, err := h.google.Client(ctx, token).Get(h.userInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("userinfo response has no id")
	}
	if info.Email != "" && !info.VerifiedEmail {
		return nil, fmt.Errorf("google email is not verified")
	}
	return &info, nil
}

func generateOAuthState() string {
	return rand.Text()
}

// RegisterOAuthRoutes registers OAuth-related routes
func RegisterOAuthRoutes(r gin.IRouter, deps *sections.Dependencies, googleConfig *oauth2.Config) {
	if googleConfig == nil {
		slog.Info("Google sign-in disabled (OAUTH_GOOGLE_CLIENT_ID not set)")
		return
	}

	handler := NewOAuthHandler(deps, googleConfig)

	oauth := r.Group("/api/auth")
	{
		oauth.GET("/google", handler.GoogleLogin)
		oauth.GET("/google/callback", handler.GoogleCallback)
	}
}
