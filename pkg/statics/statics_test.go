package statics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestFS(t *testing.T) (*FS, cache.Driver) {
	dir := t.TempDir()
	files := map[string]string{
		"app.js":          "console.log(1)",
		"app.js.gz":       "gzipped",
		"style.css":       "body{}",
		"img/logo{1}.png": "versioned",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	l := logging.NewLogger(logging.LevelDebug, &bytes.Buffer{})
	kv := cache.NewMemoStore("", l)
	return New(l, dir, kv, ".gz"), kv
}

func TestStripVersion(t *testing.T) {
	asserts := assert.New(t)

	{
		name, ok := StripVersion("/static/app{12ab}.js")
		asserts.True(ok)
		asserts.Equal("/static/app.js", name)
	}

	{
		name, ok := StripVersion("/static/LICENSE{2}")
		asserts.True(ok)
		asserts.Equal("/static/LICENSE", name)
	}

	{
		name, ok := StripVersion("/static/app.js")
		asserts.False(ok)
		asserts.Equal("/static/app.js", name)
	}
}

func TestFS_Resolve(t *testing.T) {
	asserts := assert.New(t)
	f, _ := newTestFS(t)

	{
		resolved, versioned := f.Resolve("app{9}.js")
		asserts.Equal("/app.js", resolved)
		asserts.True(versioned)
	}

	// 带版本号的文件名真实存在时不改写
	{
		resolved, versioned := f.Resolve("/img/logo{1}.png")
		asserts.Equal("/img/logo{1}.png", resolved)
		asserts.False(versioned)
	}

	{
		asserts.True(f.Exists("/static", "/static/style{abc}.css"))
		asserts.False(f.Exists("/static", "/static/missing.css"))
		asserts.False(f.Exists("/static", "/other/style.css"))
		asserts.False(f.Exists("/static", "/static/img"))
	}
}

func TestFS_HasGzip(t *testing.T) {
	asserts := assert.New(t)
	f, kv := newTestFS(t)

	asserts.True(f.HasGzip("/app.js"))
	asserts.False(f.HasGzip("/style.css"))

	v, ok := kv.Get(gzipCachePrefix + "/style.css")
	asserts.True(ok)
	asserts.Equal(false, v)

	// 命中缓存
	_ = kv.Set(gzipCachePrefix+"/style.css", true, 0)
	asserts.True(f.HasGzip("/style.css"))
}

func TestServe(t *testing.T) {
	asserts := assert.New(t)
	gin.SetMode(gin.TestMode)
	f, _ := newTestFS(t)

	r := gin.New()
	r.Use(Serve("/static", f))
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "no route")
	})

	{
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/static/app{3}.js", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		r.ServeHTTP(w, req)
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal("gzip", w.Header().Get("Content-Encoding"))
		asserts.Contains(w.Header().Get("Cache-Control"), "immutable")
		asserts.Equal("gzipped", w.Body.String())
	}

	{
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/static/style.css", nil)
		r.ServeHTTP(w, req)
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Empty(w.Header().Get("Content-Encoding"))
		asserts.Equal("body{}", w.Body.String())
	}

	{
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/static/nope.css", nil)
		r.ServeHTTP(w, req)
		asserts.Equal(http.StatusNotFound, w.Code)
		asserts.Equal("no route", w.Body.String())
	}
}
