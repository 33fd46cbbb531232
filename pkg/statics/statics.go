// Package statics serves the static assets of the server. Asset names may carry a
// cache-busting version ("app{3f2a}.js" for "app.js"), and a pre-compressed sibling
// ("app.js.gz") is served to clients that accept gzip.
package statics

import (
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

const gzipCachePrefix = "static_gz_"

var versionPattern = regexp.MustCompile(`^(.*)\{[^/{}]*\}(\.[^/.]*)?$`)

// StripVersion turns "name{version}.ext" into "name.ext". ok is false when name
// carries no version.
func StripVersion(name string) (string, bool) {
	m := versionPattern.FindStringSubmatch(name)
	if m == nil {
		return name, false
	}
	return m[1] + m[2], true
}

// FS is a static.ServeFileSystem resolving versioned names.
type FS struct {
	inner static.ServeFileSystem
	kv    cache.Driver
	gzExt string
	l     logging.Logger
}

// New serves files under dir. kv remembers which assets own a pre-compressed
// variant with extension gzExt.
func New(l logging.Logger, dir string, kv cache.Driver, gzExt string) *FS {
	return NewFromFS(l, static.LocalFile(dir, false), kv, gzExt)
}

// NewFromFS wraps an existing ServeFileSystem.
func NewFromFS(l logging.Logger, inner static.ServeFileSystem, kv cache.Driver, gzExt string) *FS {
	return &FS{inner: inner, kv: kv, gzExt: gzExt, l: l}
}

// Open 打开文件
func (f *FS) Open(name string) (http.File, error) {
	resolved, _ := f.Resolve(name)
	return f.inner.Open(resolved)
}

// Exists 文件是否存在
func (f *FS) Exists(prefix string, filepath string) bool {
	if p := strings.TrimPrefix(filepath, prefix); len(p) < len(filepath) || prefix == "" {
		_, found := f.lookup(path.Clean("/" + p))
		return found
	}
	return false
}

// Resolve maps name to the file actually stored. versioned reports whether a
// version tag was stripped to find it.
func (f *FS) Resolve(name string) (resolved string, versioned bool) {
	name = path.Clean("/" + name)
	if resolved, found := f.lookup(name); found {
		return resolved, resolved != name
	}
	return name, false
}

func (f *FS) lookup(name string) (string, bool) {
	if f.exists(name) {
		return name, true
	}
	if stripped, ok := StripVersion(name); ok && f.exists(stripped) {
		return stripped, true
	}
	return name, false
}

func (f *FS) exists(name string) bool {
	file, err := f.inner.Open(name)
	if err != nil {
		return false
	}
	defer file.Close()
	stat, err := file.Stat()
	return err == nil && !stat.IsDir()
}

// HasGzip reports whether a pre-compressed variant of name exists. The answer is
// cached for the lifetime of the process.
func (f *FS) HasGzip(name string) bool {
	if f.gzExt == "" {
		return false
	}

	key := gzipCachePrefix + name
	if v, ok := f.kv.Get(key); ok {
		if has, ok := v.(bool); ok {
			return has
		}
	}

	has := f.exists(name + f.gzExt)
	if err := f.kv.Set(key, has, 0); err != nil {
		f.l.Debug("Failed to cache gzip presence of %q: %s", name, err)
	}
	return has
}

// Serve returns a gin handler serving the assets below urlPrefix.
func Serve(urlPrefix string, f *FS) gin.HandlerFunc {
	fallback := static.Serve(urlPrefix, f)
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}

		if !f.Exists(urlPrefix, c.Request.URL.Path) {
			c.Next()
			return
		}

		name := path.Clean("/" + strings.TrimPrefix(c.Request.URL.Path, urlPrefix))
		resolved, versioned := f.Resolve(name)
		if versioned {
			c.Header("Cache-Control", "public, max-age=31536000, immutable")
		}

		if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") && f.HasGzip(resolved) {
			c.Header("Vary", "Accept-Encoding")
			c.Header("Content-Encoding", "gzip")
			if t := mime.TypeByExtension(path.Ext(resolved)); t != "" {
				c.Header("Content-Type", t)
			}
			c.FileFromFS(resolved+f.gzExt, f.inner)
			c.Abort()
			return
		}

		fallback(c)
	}
}
