// Package sectionstest wires handler dependencies over in-memory fakes
package sectionstest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"architect-studio/common"
	"architect-studio/db/dbtest"
	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-session-secret-0123456789abcdef"

// NewDeps returns dependencies backed by an in-memory store. Connectors are
// left nil for the caller to fill in.
func NewDeps(t *testing.T) (*sections.Dependencies, *dbtest.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := common.DefaultConfig()
	cfg.SessionSecret = testSecret
	cfg.SecureCookies = false
	cfg.FreeGenerationsLimit = 3
	cfg.FrontendURL = "http://frontend.test"
	cfg.BaseURL = "http://api.test"

	sessions, err := auth.NewSessionManager(cfg.SessionSecret, "", 1, false)
	require.NoError(t, err)

	prompts, err := utils.NewPromptBuilder("", cfg.MaxPromptTokens)
	require.NoError(t, err)

	store := dbtest.NewMemory()
	return &sections.Dependencies{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Prompts:  prompts,
	}, store
}

// SignIn creates a user and returns it with a Cookie header value for it
func SignIn(t *testing.T, deps *sections.Dependencies, email string) (*models.User, string) {
	t.Helper()
	user := &models.User{Email: email, FirstName: "Test"}
	require.NoError(t, deps.Store.CreateUser(context.Background(), user))

	token, err := deps.Sessions.GenerateToken(user.ID, user.Email)
	require.NoError(t, err)
	return user, common.SESSION_COOKIE_NAME + "=" + token
}

// Do runs one request through router. body is JSON-encoded unless it is
// already an io.Reader.
func Do(t *testing.T, router http.Handler, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case *Multipart:
		reader = b.buf
		contentType = b.contentType
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// SessionCookie returns the session cookie a response set, as a Cookie
// request header value
func SessionCookie(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == common.SESSION_COOKIE_NAME && c.Value != "" {
			return c.Name + "=" + c.Value
		}
	}
	return ""
}

// Decode unmarshals a JSON response body
func Decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// Multipart is a form body built for upload endpoints
type Multipart struct {
	buf         *bytes.Buffer
	contentType string
}

// NewMultipart builds a form with files (field -> content) and plain fields
func NewMultipart(t *testing.T, files map[string][]byte, fields map[string]string) *Multipart {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &Multipart{buf: buf, contentType: mw.FormDataContentType()}
}
