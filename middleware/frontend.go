package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServeSPA serves files from publicDir and answers everything else with
// index.html so client-side routes resolve.
func ServeSPA(publicDir string) gin.HandlerFunc {
	root := filepath.Clean(publicDir)
	index := filepath.Join(root, "index.html")
	fileServer := http.FileServer(http.Dir(root))

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		name := filepath.Join(root, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.File(index)
	}
}

// FrontendProxy forwards non-API requests to a running frontend dev server
func FrontendProxy(proxyAddr string) (gin.HandlerFunc, error) {
	target, err := url.Parse(proxyAddr)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend proxy address %q", proxyAddr)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// virtual-hosted dev servers check Host
		req.Host = target.Host
	}

	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		slog.Error("Frontend proxy error", "error", err, "url", req.URL.String())
		rw.WriteHeader(http.StatusBadGateway)
		rw.Write([]byte("Bad Gateway"))
	}

	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		proxy.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}, nil
}
