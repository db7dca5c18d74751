package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRateLimiterRejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	r := gin.New()
	r.POST("/generate", rl.Handler(func(c *gin.Context) string { return c.GetHeader("X-User") }), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, send("alice"))
	assert.Equal(t, http.StatusAccepted, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))

	// buckets are per key
	assert.Equal(t, http.StatusAccepted, send("bob"))
}

func TestRateLimiterFallsBackToClientIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	r := gin.New()
	r.GET("/", rl.Handler(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/").Code)
}

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	r := gin.New()
	r.GET("/", rl.Handler(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/").Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	rl.idle = -time.Second
	rl.Allow("stale")
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.limiters)
}

func TestMetricsMiddleware(t *testing.T) {
	m := NewMetrics()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/projects/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	serve(r, http.MethodGet, "/api/projects/123")
	serve(r, http.MethodGet, "/nowhere")
	m.RecordGeneration("isometric", "succeeded")

	body := serve(r, http.MethodGet, "/metrics").Body.String()
	assert.Contains(t, body, `route="/api/projects/:id"`)
	assert.Contains(t, body, `route="unmatched"`)
	assert.Contains(t, body, `architect_studio_generation_outcomes_total{kind="isometric",outcome="succeeded"} 1`)
	assert.NotContains(t, body, `route="/metrics"`)
}

func TestNilMetricsRecordersAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGeneration("3d", "failed")
		m.RecordSweep("model", 2)
	})
}

func TestNoRouteAndNoMethod(t *testing.T) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.GET("/api/projects", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.NoRoute(NoRoute(func(c *gin.Context) { c.String(http.StatusOK, "spa") }))
	r.NoMethod(NoMethod())

	w := serve(r, http.MethodGet, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "spa", w.Body.String())

	w = serve(r, http.MethodDelete, "/api/projects")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServeSPA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	r := gin.New()
	r.NoRoute(NoRoute(ServeSPA(dir)))

	assert.Equal(t, "console.log(1)", serve(r, http.MethodGet, "/assets/app.js").Body.String())
	assert.Equal(t, "<html>app</html>", serve(r, http.MethodGet, "/projects/42").Body.String())
	assert.Equal(t, "<html>app</html>", serve(r, http.MethodGet, "/../../etc/passwd").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/missing").Code)
}

func TestFrontendProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vite:" + r.URL.Path))
	}))
	defer upstream.Close()

	proxy, err := FrontendProxy(upstream.URL)
	require.NoError(t, err)

	r := gin.New()
	r.NoRoute(NoRoute(proxy))

	assert.Equal(t, "vite:/src/main.tsx", serve(r, http.MethodGet, "/src/main.tsx").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/missing").Code)

	_, err = FrontendProxy("localhost")
	assert.Error(t, err)
}
