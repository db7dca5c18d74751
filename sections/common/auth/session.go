package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"architect-studio/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the session token claims. The subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// SessionManager issues and verifies the signed session cookie
type SessionManager struct {
	secret []byte
	issuer string
	expiry time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(secret string, issuer string, expiryHours int, secureCookies bool) (*SessionManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if issuer == "" {
		issuer = common.DEFAULT_SESSION_ISSUER
	}
	if expiryHours <= 0 {
		expiryHours = common.DEFAULT_SESSION_EXPIRY_HOURS
	}
	return &SessionManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: time.Duration(expiryHours) * time.Hour,
		secure: secureCookies,
		now:    time.Now,
	}, nil
}

// GenerateToken creates a session token for a user
func (s *SessionManager) GenerateToken(userID uuid.UUID, email string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	res, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return res, nil
}

// ValidateToken parses and validates a session token
func (s *SessionManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify returns the user id carried by a token. Every failure (malformed,
// wrong signature, expired, bad subject) reports false.
func (s *SessionManager) Verify(tokenString string) (uuid.UUID, bool) {
	if tokenString == "" {
		return uuid.Nil, false
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}

// VerifyCookieHeader extracts the session cookie from a raw Cookie header
// and verifies it.
func (s *SessionManager) VerifyCookieHeader(cookieHeader string) (uuid.UUID, bool) {
	if cookieHeader == "" {
		return uuid.Nil, false
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return uuid.Nil, false
	}
	for _, c := range cookies {
		if c.Name == common.SESSION_COOKIE_NAME {
			return s.Verify(c.Value)
		}
	}
	return uuid.Nil, false
}

// Cookie builds the session cookie for a freshly issued token
func (s *SessionManager) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     common.SESSION_COOKIE_NAME,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.expiry.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie
func (s *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     common.SESSION_COOKIE_NAME,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
