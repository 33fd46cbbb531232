package routers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudreve/davserver/application/constants"
	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const lockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner>alice</D:owner>
</D:lockinfo>`

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingObjects 记录数据对象变更
type recordingObjects struct {
	mu      sync.Mutex
	created []string
}

func (r *recordingObjects) Created(ctx context.Context, res resource.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, res.Path())
	return nil
}

func (r *recordingObjects) Updated(ctx context.Context, res resource.Resource) error { return nil }
func (r *recordingObjects) Removed(ctx context.Context, p string) error            { return nil }
func (r *recordingObjects) Moved(ctx context.Context, src, dst string) error       { return nil }

type testEnv struct {
	router  *gin.Engine
	objects *recordingObjects
	static  string
	log     *bytes.Buffer
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	staticDir := t.TempDir()
	config, err := conf.NewIniConfigProviderFromBytes([]byte(`
[Dav]
Prefix = /dav
Storage = memory
TrustedUsers = admin

[Static]
Path = ` + staticDir + `
Prefix = /static

[Users]
admin = root
alice = secret
` + extra))
	assert.NoError(t, err)

	buf := &bytes.Buffer{}
	l := logging.NewLogger(logging.LevelDebug, buf)
	objects := &recordingObjects{}
	dep := dependency.NewDependency(
		dependency.WithConfigProvider(config),
		dependency.WithLogger(l),
		dependency.WithKV(cache.NewMemoStore("", l)),
		dependency.WithDataObjects(objects),
	)

	return &testEnv{
		router:  InitRouter(dep),
		objects: objects,
		static:  staticDir,
		log:     buf,
	}
}

func (e *testEnv) do(method, target, user, password, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	e.router.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/ping", "", "", "")
	asserts.Equal(200, w.Code)
	asserts.Contains(w.Body.String(), "Pong")
	asserts.Contains(w.Body.String(), constants.BackendVersion)
	asserts.NotEmpty(w.Header().Get(constants.CorrelationHeader))
	asserts.Equal("private, no-cache", w.Header().Get("Cache-Control"))
}

func TestDavRoutes(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, "")

	// 上传并读取
	{
		w := env.do("PUT", "/dav/a.txt", "alice", "secret", "hello")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.Equal([]string{"/a.txt"}, env.objects.created)

		w = env.do("GET", "/dav/a.txt", "", "", "")
		asserts.Equal(200, w.Code)
		asserts.Equal("hello", w.Body.String())
	}

	// 访客无权写入
	{
		w := env.do("PUT", "/dav/b.txt", "", "", "nope")
		asserts.NotEqual(http.StatusCreated, w.Code)
	}

	// 前缀本身
	{
		w := env.do("PROPFIND", "/dav", "alice", "secret", "", "Depth", "1")
		asserts.Equal(207, w.Code)
		asserts.Contains(w.Body.String(), "/dav/a.txt")
	}

	// 未知方法由引擎返回 501，前缀之外为 404
	{
		w := env.do("BREW", "/dav/a.txt", "", "", "")
		asserts.Equal(http.StatusNotImplemented, w.Code)

		w = env.do("BREW", "/elsewhere", "", "", "")
		asserts.Equal(http.StatusNotFound, w.Code)

		w = env.do("GET", "/elsewhere", "", "", "")
		asserts.Equal(http.StatusNotFound, w.Code)
	}
}

func TestRootPrefix(t *testing.T) {
	asserts := assert.New(t)
	staticDir := t.TempDir()
	config, err := conf.NewIniConfigProviderFromBytes([]byte(`
[Dav]
Prefix = /
Storage = memory

[Static]
Path = ` + staticDir + `

[Users]
alice = secret
`))
	asserts.NoError(err)
	l := logging.NewLogger(logging.LevelError, &bytes.Buffer{})
	router := InitRouter(dependency.NewDependency(
		dependency.WithConfigProvider(config),
		dependency.WithLogger(l),
		dependency.WithKV(cache.NewMemoStore("", l)),
		dependency.WithDataObjects(&recordingObjects{}),
	))

	{
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("PUT", "/root.txt", strings.NewReader("x"))
		req.SetBasicAuth("alice", "secret")
		router.ServeHTTP(w, req)
		asserts.Equal(http.StatusCreated, w.Code)
	}

	// API 路由不被遮挡
	{
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/ping", nil)
		router.ServeHTTP(w, req)
		asserts.Contains(w.Body.String(), "Pong")
	}
}

func TestListTree(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, "")
	asserts.Equal(http.StatusCreated, env.do("MKCOL", "/dav/docs", "alice", "secret", "").Code)
	asserts.Equal(http.StatusCreated, env.do("MKCOL", "/dav/docs/sub", "alice", "secret", "").Code)
	asserts.Equal(http.StatusCreated, env.do("PUT", "/dav/docs/a.txt", "alice", "secret", "hello").Code)
	asserts.Equal(http.StatusCreated, env.do("PUT", "/dav/docs/sub/deep.txt", "alice", "secret", "x").Code)
	asserts.Equal(http.StatusCreated, env.do("PUT", "/dav/docs/tmp.txt", "alice", "secret", "x", "Temporary", "T").Code)

	{
		w := env.do("GET", "/api/v1/tree/docs", "", "", "")
		asserts.Equal(200, w.Code)
		body := w.Body.String()
		asserts.Contains(body, `"code":0`)
		asserts.Contains(body, `"path":"/docs/a.txt"`)
		asserts.Contains(body, `"size":5`)
		asserts.NotContains(body, "deep.txt")
		asserts.NotContains(body, "tmp.txt")
	}

	{
		w := env.do("GET", "/api/v1/tree/docs?depth=2", "", "", "")
		asserts.Contains(w.Body.String(), "deep.txt")
	}

	{
		w := env.do("GET", "/api/v1/tree/docs?depth=0", "", "", "")
		asserts.NotContains(w.Body.String(), "children")
	}

	// 参数错误
	{
		w := env.do("GET", "/api/v1/tree/docs?depth=99", "", "", "")
		asserts.Contains(w.Body.String(), `"code":40001`)
	}

	// 不存在
	{
		w := env.do("GET", "/api/v1/tree/missing", "", "", "")
		asserts.Contains(w.Body.String(), `"code":404`)
	}

	// gzip
	{
		w := env.do("GET", "/api/v1/tree/docs", "", "", "", "Accept-Encoding", "gzip")
		asserts.Equal("gzip", w.Header().Get("Content-Encoding"))
	}
}

func TestListLocks(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, "")
	asserts.Equal(http.StatusCreated, env.do("PUT", "/dav/a.txt", "alice", "secret", "hello").Code)
	w := env.do("LOCK", "/dav/a.txt", "alice", "secret", lockBody, "Timeout", "Second-600")
	asserts.Equal(200, w.Code)
	token := w.Header().Get("Lock-Token")
	asserts.NotEmpty(token)

	{
		w := env.do("GET", "/api/v1/locks", "", "", "")
		asserts.Contains(w.Body.String(), `"code":401`)
	}

	{
		w := env.do("GET", "/api/v1/locks", "alice", "secret", "")
		asserts.Contains(w.Body.String(), `"code":403`)
	}

	{
		w := env.do("GET", "/api/v1/locks", "admin", "root", "")
		body := w.Body.String()
		asserts.Contains(body, `"path":"/a.txt"`)
		asserts.Contains(body, `"scope":"exclusive"`)
		asserts.NotContains(body, strings.Trim(token, "<>"))
	}

	{
		w := env.do("GET", "/api/v1/locks?path=/other", "admin", "root", "")
		asserts.Contains(w.Body.String(), `"data":[]`)
	}

	// 锁定后的资源在资源树中标记
	{
		w := env.do("GET", "/api/v1/tree/a.txt", "", "", "")
		asserts.Contains(w.Body.String(), `"locked":true`)
	}
}

func TestStaticRoutes(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, "")
	asserts.NoError(os.WriteFile(filepath.Join(env.static, "app.js"), []byte("console.log(1)"), 0644))

	w := env.do("GET", "/static/app.js", "", "", "")
	asserts.Equal(200, w.Code)
	asserts.Equal("console.log(1)", w.Body.String())
}

func TestCorsPreflight(t *testing.T) {
	asserts := assert.New(t)
	env := newTestEnv(t, `
[CORS]
AllowOrigins = http://example.com
AllowMethods = GET,OPTIONS
`)

	w := env.do("OPTIONS", "/api/v1/tree/", "", "", "",
		"Origin", "http://example.com",
		"Access-Control-Request-Method", "GET",
	)
	asserts.Equal("http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	asserts.Less(w.Code, 300)
}
