package webdav

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/stretchr/testify/assert"
)

const lockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>alice</D:href></D:owner>
</D:lockinfo>`

func (s *testServer) lock(t *testing.T, target string, headers ...string) string {
	w := s.do("LOCK", target, lockBody, headers...)
	assert.Equal(t, http.StatusOK, w.Code)
	token := w.Header().Get("Lock-Token")
	assert.True(t, strings.HasPrefix(token, "<opaquelocktoken:"))
	return strings.Trim(token, "<>")
}

func TestPut_Idempotent(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())

	w := s.do(http.MethodPut, "/dav/a.txt", "hello")
	asserts.Equal(http.StatusCreated, w.Code)
	first := w.Header().Get("ETag")
	asserts.NotEmpty(first)

	w = s.do(http.MethodPut, "/dav/a.txt", "hello")
	asserts.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/dav/a.txt", "")
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("hello", w.Body.String())
}

func TestPut_Rejections(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")

	// 父目录不存在
	{
		w := s.do(http.MethodPut, "/dav/missing/a.txt", "x")
		asserts.Equal(http.StatusConflict, w.Code)
	}

	// 目录不能被 PUT
	{
		w := s.do(http.MethodPut, "/dav/dir", "x")
		asserts.Equal(http.StatusMethodNotAllowed, w.Code)
		asserts.NotEmpty(w.Header().Get("Allow"))
	}

	// 游客没有写权限
	{
		w := s.guest(http.MethodPut, "/dav/guest.txt")
		asserts.Equal(http.StatusUnauthorized, w.Code)
	}

	// 含脚本的 HTML
	{
		w := s.do(http.MethodPut, "/dav/x.html", "<html><script>alert(1)</script></html>", "Content-Type", "text/html")
		asserts.Equal(http.StatusForbidden, w.Code)
		asserts.False(s.exists("/x.html"))
	}

	{
		w := s.do(http.MethodPut, "/dav/y.html", "<html><p>hi</p></html>", "Content-Type", "text/html")
		asserts.Equal(http.StatusCreated, w.Code)
	}

	// If-None-Match: * 防止覆盖
	{
		s.put(t, "/exists.txt", "abc")
		w := s.do(http.MethodPut, "/dav/exists.txt", "new", "If-None-Match", "*")
		asserts.Equal(http.StatusPreconditionFailed, w.Code)
	}
}

func TestPut_ReadOnly(t *testing.T) {
	asserts := assert.New(t)
	cfg := testConfig()
	cfg.ReadOnly = true
	s := newTestServer(t, cfg)

	for _, m := range []string{http.MethodPut, http.MethodDelete, "MKCOL", "PROPPATCH", "LOCK"} {
		w := s.do(m, "/dav/a.txt", "")
		asserts.Equal(http.StatusForbidden, w.Code, m)
	}
}

func TestPut_Partial(t *testing.T) {
	asserts := assert.New(t)
	cfg := testConfig()
	cfg.MaxPartialPutSize = 100
	s := newTestServer(t, cfg)
	s.put(t, "/a.txt", "0123456789")

	{
		w := s.do(http.MethodPut, "/dav/a.txt", "ab", "Content-Range", "bytes 2-3/*")
		asserts.Equal(http.StatusOK, w.Code)
		w = s.do(http.MethodGet, "/dav/a.txt", "")
		asserts.Equal("01ab456789", w.Body.String())
	}

	// 追加写入
	{
		w := s.do(http.MethodPut, "/dav/a.txt", "xy", "Content-Range", "bytes 10-11/12")
		asserts.Equal(http.StatusOK, w.Code)
		w = s.do(http.MethodGet, "/dav/a.txt", "")
		asserts.Equal("01ab456789xy", w.Body.String())
	}

	// 长度不符
	{
		w := s.do(http.MethodPut, "/dav/a.txt", "xyz", "Content-Range", "bytes 0-1/*")
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, w.Code)
	}

	// 起点越过文件末尾
	{
		w := s.do(http.MethodPut, "/dav/a.txt", "z", "Content-Range", "bytes 50-50/*")
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, w.Code)
	}

	// 超过上限
	{
		w := s.do(http.MethodPut, "/dav/a.txt", "z", "Content-Range", "bytes 100-100/*")
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, w.Code)
	}
}

func TestGet_Range(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	content := strings.Repeat("0123456789", 20)
	s.put(t, "/a.bin", content)

	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "bytes=0-99")
		asserts.Equal(http.StatusPartialContent, w.Code)
		asserts.Equal("bytes 0-99/200", w.Header().Get("Content-Range"))
		asserts.Equal(content[:100], w.Body.String())
	}

	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "bytes=-50")
		asserts.Equal(http.StatusPartialContent, w.Code)
		asserts.Equal(content[150:], w.Body.String())
	}

	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "bytes=200-")
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, w.Code)
		asserts.Equal("bytes */200", w.Header().Get("Content-Range"))
	}

	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "items=0-1")
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, w.Code)
		asserts.Equal("bytes */200", w.Header().Get("Content-Range"))
	}

	// 多段
	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "bytes=0-1,10-11")
		asserts.Equal(http.StatusPartialContent, w.Code)
		asserts.Equal("multipart/byteranges; boundary="+rangeBoundary, w.Header().Get("Content-Type"))
		asserts.Contains(w.Body.String(), "Content-Range: bytes 10-11/200")
		asserts.Contains(w.Body.String(), "--"+rangeBoundary+"--")
	}

	// If-Range 不匹配时返回全部内容
	{
		w := s.do(http.MethodGet, "/dav/a.bin", "", "Range", "bytes=0-1", "If-Range", `"stale"`)
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal(content, w.Body.String())
	}

	// HEAD 没有正文
	{
		w := s.do(http.MethodHead, "/dav/a.bin", "")
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal("200", w.Header().Get("Content-Length"))
		asserts.Empty(w.Body.String())
	}
}

func TestGet_Conditional(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "one")

	w := s.do(http.MethodGet, "/dav/a.txt", "")
	etag := w.Header().Get("ETag")
	asserts.NotEmpty(etag)

	{
		w := s.do(http.MethodGet, "/dav/a.txt", "", "If-None-Match", etag)
		asserts.Equal(http.StatusNotModified, w.Code)
		asserts.Empty(w.Body.String())
	}

	{
		w := s.do(http.MethodGet, "/dav/a.txt", "", "If-Match", `"other"`)
		asserts.Equal(http.StatusPreconditionFailed, w.Code)
	}

	s.put(t, "/a.txt", "two!")
	{
		w := s.do(http.MethodGet, "/dav/a.txt", "", "If-None-Match", etag)
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal("two!", w.Body.String())
		asserts.NotEqual(etag, w.Header().Get("ETag"))
	}
}

func TestGet_Collection(t *testing.T) {
	asserts := assert.New(t)
	cfg := testConfig()
	cfg.ListableRoot = "/public"
	s := newTestServer(t, cfg)
	s.mkdir(t, "/public")
	s.mkdir(t, "/private")
	s.put(t, "/public/a.txt", "a")

	{
		w := s.do(http.MethodGet, "/dav/public/", "")
		asserts.Equal(http.StatusOK, w.Code)
		var entries []jsonEntry
		asserts.NoError(json.Unmarshal(w.Body.Bytes(), &entries))
		asserts.Len(entries, 2)
		asserts.Equal("/dav/public/a.txt", entries[1].Href)
		asserts.Equal("1", entries[1].Props["getcontentlength"])
	}

	// 公开根之外不暴露目录结构
	{
		w := s.do(http.MethodGet, "/dav/private/", "")
		asserts.Equal(http.StatusNotFound, w.Code)
	}
}

func TestDavMount(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/docs")
	s.put(t, "/docs/a.txt", "a")

	w := s.do("DAVMOUNT", "http://example.com/dav/docs/a.txt", "")
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("application/davmount+xml", w.Header().Get("Content-Type"))
	asserts.Contains(w.Body.String(), "<dm:url>http://example.com/dav/docs/</dm:url>")
	asserts.Contains(w.Body.String(), "<dm:open>a.txt</dm:open>")
}

func TestPropfind_Depth(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.mkdir(t, "/dir/sub")
	s.put(t, "/dir/a.txt", "a")
	s.put(t, "/dir/b.txt", "b")
	s.put(t, "/dir/sub/c.txt", "c")

	count := func(w interface{ String() string }) int {
		return strings.Count(w.String(), "<D:response>")
	}

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "0")
		asserts.Equal(StatusMulti, w.Code)
		asserts.Equal(1, count(w.Body))
	}

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "1")
		asserts.Equal(4, count(w.Body))
	}

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "1,noroot")
		asserts.Equal(3, count(w.Body))
		asserts.NotContains(w.Body.String(), "<D:href>/dav/dir/</D:href>")
	}

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "infinity")
		asserts.Equal(5, count(w.Body))
		asserts.Contains(w.Body.String(), "<D:href>/dav/dir/sub/c.txt</D:href>")
	}

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "one")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}

	{
		w := s.do("PROPFIND", "/dav/nothing/", "", "Depth", "0")
		asserts.Equal(http.StatusNotFound, w.Code)
	}

	// 临时文件不出现在列表中
	{
		s.temp.Add("/dir/b.txt")
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "1")
		asserts.Equal(3, count(w.Body))

		w = s.do("PROPFIND", "/dav/dir/b.txt", "", "Depth", "0")
		asserts.Equal(http.StatusNotFound, w.Code)
		s.temp.Remove("/dir/b.txt")
	}
}

func TestPropfind_Modes(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "hello")

	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:getcontentlength/><D:nope/></D:prop></D:propfind>`
		w := s.do("PROPFIND", "/dav/a.txt", body, "Depth", "0")
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "<D:getcontentlength>5</D:getcontentlength>")
		asserts.Contains(w.Body.String(), "<D:nope></D:nope>")
		asserts.Contains(w.Body.String(), "HTTP/1.1 404 Not Found")
	}

	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
		w := s.do("PROPFIND", "/dav/a.txt", body, "Depth", "0")
		asserts.Contains(w.Body.String(), "<D:getetag></D:getetag>")
		asserts.NotContains(w.Body.String(), "hello")
	}

	{
		w := s.do("PROPFIND", "/dav/a.txt", "", "Depth", "0")
		asserts.Contains(w.Body.String(), "<D:getcontenttype>text/plain; charset=utf-8</D:getcontenttype>")
		asserts.Contains(w.Body.String(), "<C:path>/a.txt</C:path>")
		asserts.Contains(w.Body.String(), `xmlns:C="http://cloudreve.org/ns/dav"`)
	}

	// 查询参数代替请求体
	{
		w := s.do("PROPFIND", "/dav/a.txt?type=prop&propname=getetag", "", "Depth", "0")
		asserts.Contains(w.Body.String(), "<D:getetag>")
		asserts.NotContains(w.Body.String(), "<D:getcontentlength>")
	}

	{
		w := s.do("PROPFIND", "/dav/a.txt", "<D:propfind", "Depth", "0")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}
}

func TestJSON(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.put(t, "/dir/a.txt", "a")

	{
		w := s.do("JSON", "/dav/dir/", "")
		asserts.Equal(http.StatusOK, w.Code)
		var entries []jsonEntry
		asserts.NoError(json.Unmarshal(w.Body.Bytes(), &entries))
		asserts.Len(entries, 2)
		asserts.Equal("/dir/a.txt", entries[1].Props["path"])
	}

	{
		w := s.do("JSON", "/dav/dir/", "", "Depth", "2")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}

	{
		w := s.do("JSON", "/dav/dir/", "", "Depth", "1,noroot")
		var entries []jsonEntry
		asserts.NoError(json.Unmarshal(w.Body.Bytes(), &entries))
		asserts.Len(entries, 1)
	}
}

func TestProppatch(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "a")

	{
		body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:z"><D:set><D:prop><Z:color>red</Z:color></D:prop></D:set></D:propertyupdate>`
		w := s.do("PROPPATCH", "/dav/a.txt", body)
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "HTTP/1.1 200 OK")

		w = s.do("PROPFIND", "/dav/a.txt", `<D:propfind xmlns:D="DAV:"><D:prop><Z:color xmlns:Z="urn:z"/></D:prop></D:propfind>`, "Depth", "0")
		asserts.Contains(w.Body.String(), ">red</ns")
	}

	// 活属性不可修改，其余属性返回 424
	{
		body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:z"><D:set><D:prop><D:getetag>x</D:getetag><Z:size>1</Z:size></D:prop></D:set></D:propertyupdate>`
		w := s.do("PROPPATCH", "/dav/a.txt", body)
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "HTTP/1.1 403 Forbidden")
		asserts.Contains(w.Body.String(), "HTTP/1.1 424 Failed Dependency")
		res, err := s.store.Lookup(context.Background(), "/a.txt")
		asserts.NoError(err)
		asserts.NotContains(res.Properties(), "{urn:z}size")
	}
}

func TestMkcol(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())

	{
		w := s.do("MKCOL", "/dav/a", "")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.True(s.exists("/a"))
	}

	{
		w := s.do("MKCOL", "/dav/a", "")
		asserts.Equal(http.StatusMethodNotAllowed, w.Code)
	}

	// 父目录不存在
	{
		w := s.do("MKCOL", "/dav/a/b/c", "")
		asserts.Equal(http.StatusConflict, w.Code)
	}

	{
		w := s.do("MKCOL", "/dav/x", "<D:mkcol xmlns:D=\"DAV:\"/>")
		asserts.Equal(http.StatusNotImplemented, w.Code)
	}

	{
		w := s.do("MKCOL", "/dav/y", "<broken")
		asserts.Equal(http.StatusUnsupportedMediaType, w.Code)
	}
}

func TestDelete(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.put(t, "/dir/a.txt", "a")
	s.put(t, "/dir/b.txt", "b")
	s.put(t, "/dir/c.txt", "c")

	{
		w := s.do(http.MethodDelete, "/dav/missing", "")
		asserts.Equal(http.StatusNotFound, w.Code)
	}

	// 子项被锁定时返回 207，其余子项照常删除
	{
		s.lock(t, "/dav/dir/b.txt", "Depth", "0")
		w := s.do(http.MethodDelete, "/dav/dir", "")
		asserts.Equal(StatusMulti, w.Code)
		asserts.Equal(1, strings.Count(w.Body.String(), "<D:response>"))
		asserts.Contains(w.Body.String(), "<D:href>/dav/dir/b.txt</D:href>")
		asserts.Contains(w.Body.String(), "HTTP/1.1 423 Locked")
		asserts.False(s.exists("/dir/a.txt"))
		asserts.True(s.exists("/dir/b.txt"))
		asserts.False(s.exists("/dir/c.txt"))
		asserts.True(s.exists("/dir"))
	}

	{
		w := s.do(http.MethodDelete, "/dav/dir/b.txt", "")
		asserts.Equal(StatusLocked, w.Code)
	}
}

func TestLock_WriteRejection(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "a")

	token := s.lock(t, "/dav/a.txt")

	{
		w := s.do(http.MethodPut, "/dav/a.txt", "b")
		asserts.Equal(StatusLocked, w.Code)
	}

	{
		w := s.do(http.MethodPut, "/dav/a.txt", "b", "If", "(<"+token+">)")
		asserts.Equal(http.StatusOK, w.Code)
	}

	// 已锁定时再次加锁
	{
		w := s.do("LOCK", "/dav/a.txt", lockBody)
		asserts.Equal(StatusLocked, w.Code)
	}

	// 刷新
	{
		w := s.do("LOCK", "/dav/a.txt", "", "If", "(<"+token+">)", "Timeout", "Second-60")
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Contains(w.Body.String(), "Second-")
		asserts.Contains(w.Body.String(), token)
	}

	{
		w := s.do("LOCK", "/dav/a.txt", "", "If", "(<opaquelocktoken:nope>)")
		asserts.Equal(http.StatusPreconditionFailed, w.Code)
	}

	{
		w := s.do("UNLOCK", "/dav/a.txt", "", "Lock-Token", token)
		asserts.Equal(http.StatusBadRequest, w.Code)
	}

	{
		w := s.do("UNLOCK", "/dav/a.txt", "", "Lock-Token", "<"+token+">")
		asserts.Equal(http.StatusNoContent, w.Code)
	}

	{
		w := s.do("UNLOCK", "/dav/a.txt", "", "Lock-Token", "<"+token+">")
		asserts.Equal(http.StatusConflict, w.Code)
	}

	{
		w := s.do(http.MethodPut, "/dav/a.txt", "c")
		asserts.Equal(http.StatusOK, w.Code)
	}
}

func TestLock_LockNull(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")

	token := s.lock(t, "/dav/dir/new.txt", "Depth", "0")
	asserts.False(s.exists("/dir/new.txt"))

	{
		w := s.do("PROPFIND", "/dav/dir/", "", "Depth", "1")
		asserts.Equal(2, strings.Count(w.Body.String(), "<D:response>"))
		asserts.Contains(w.Body.String(), "<D:href>/dav/dir/new.txt</D:href>")
	}

	{
		w := s.do("PROPFIND", "/dav/dir/new.txt", "", "Depth", "0")
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "<D:lockdiscovery>")
	}

	{
		w := s.do(http.MethodPut, "/dav/dir/new.txt", "data", "If", "(<"+token+">)")
		asserts.Equal(http.StatusCreated, w.Code)
		w = s.do("PROPFIND", "/dav/dir/", "", "Depth", "1")
		asserts.Equal(2, strings.Count(w.Body.String(), "<D:response>"))
	}

	// 父目录不存在
	{
		w := s.do("LOCK", "/dav/none/x.txt", lockBody)
		asserts.Equal(http.StatusConflict, w.Code)
	}
}

func TestLock_Disabled(t *testing.T) {
	asserts := assert.New(t)
	cfg := testConfig()
	cfg.Locking = false
	s := newTestServer(t, cfg)

	{
		w := s.do("LOCK", "/dav/a.txt", lockBody)
		asserts.Equal(http.StatusNotImplemented, w.Code)
	}

	{
		w := s.do(http.MethodOptions, "/dav/", "")
		asserts.Equal("1", w.Header().Get("DAV"))
		asserts.NotContains(w.Header().Get("Allow"), "LOCK")
	}
}

func TestLock_ParseTimeout(t *testing.T) {
	asserts := assert.New(t)

	{
		d, err := parseTimeout("Second-60", time.Hour)
		asserts.NoError(err)
		asserts.Equal(time.Minute, d)
	}

	{
		d, err := parseTimeout("Infinite, Second-4100000000", time.Hour)
		asserts.NoError(err)
		asserts.Equal(time.Hour, d)
	}

	{
		d, err := parseTimeout("Second-99999", time.Hour)
		asserts.NoError(err)
		asserts.Equal(time.Hour, d)
	}

	{
		d, err := parseTimeout("", 0)
		asserts.NoError(err)
		asserts.Equal(defaultLockTimeout, d)
	}

	{
		_, err := parseTimeout("Minute-1", time.Hour)
		asserts.ErrorIs(err, errInvalidTimeout)
	}
}

func TestOptions(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "a")

	{
		w := s.do(http.MethodOptions, "/dav/a.txt", "")
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal("1,2", w.Header().Get("DAV"))
		asserts.Equal("DAV", w.Header().Get("MS-Author-Via"))
		allow := w.Header().Get("Allow")
		for _, m := range []string{"OPTIONS", "GET", "DELETE", "MOVE", "PROPFIND", "LOCK"} {
			asserts.Contains(allow, m)
		}
		asserts.NotContains(allow, "MKCOL")
	}

	{
		w := s.do(http.MethodOptions, "/dav/new.txt", "")
		allow := w.Header().Get("Allow")
		asserts.Contains(allow, "PUT")
		asserts.Contains(allow, "MKCOL")
		asserts.NotContains(allow, "GET")
	}

	{
		w := s.do(http.MethodTrace, "/dav/a.txt", "")
		asserts.Equal(http.StatusMethodNotAllowed, w.Code)
		asserts.NotEmpty(w.Header().Get("Allow"))
	}
}

func TestCopy_RoundTrip(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.put(t, "/a.txt", "payload")

	w := s.do("COPY", "/dav/a.txt", "", "Destination", "/dav/b.txt")
	asserts.Equal(http.StatusCreated, w.Code)

	src := s.do(http.MethodGet, "/dav/a.txt", "")
	dst := s.do(http.MethodGet, "/dav/b.txt", "")
	asserts.Equal("payload", src.Body.String())
	asserts.Equal(src.Body.String(), dst.Body.String())
	asserts.NotEqual(src.Header().Get("ETag"), dst.Header().Get("ETag"))

	// 覆盖已存在的目标
	{
		w := s.do("COPY", "/dav/a.txt", "", "Destination", "/dav/b.txt")
		asserts.Equal(http.StatusNoContent, w.Code)
	}

	{
		w := s.do("COPY", "/dav/a.txt", "", "Destination", "/dav/b.txt", "Overwrite", "F")
		asserts.Equal(http.StatusPreconditionFailed, w.Code)
	}
}

func TestCopy_Collection(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.mkdir(t, "/dir/sub")
	s.put(t, "/dir/sub/a.txt", "a")

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "http://example.com/dav/copy/")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.True(s.exists("/copy/sub/a.txt"))
	}

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "/dav/shallow/", "Depth", "0")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.True(s.exists("/shallow"))
		asserts.False(s.exists("/shallow/sub"))
	}

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "/dav/dir/sub/x")
		asserts.Equal(http.StatusConflict, w.Code)
	}

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "/dav/dir/")
		asserts.Equal(http.StatusForbidden, w.Code)
	}

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "http://elsewhere.org/dav/x")
		asserts.Equal(http.StatusBadGateway, w.Code)
	}

	{
		w := s.do("COPY", "/dav/dir/", "")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}

	{
		w := s.do("COPY", "/dav/dir/", "", "Destination", "/other/x")
		asserts.Equal(http.StatusForbidden, w.Code)
	}
}

func TestMove(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.put(t, "/dir/a.txt", "a")
	s.put(t, "/b.txt", "b")

	{
		w := s.do("MOVE", "/dav/dir/", "", "Destination", "/dav/moved/")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.False(s.exists("/dir"))
		asserts.True(s.exists("/moved/a.txt"))
	}

	{
		w := s.do("MOVE", "/dav/moved/a.txt", "", "Destination", "/dav/b.txt")
		asserts.Equal(http.StatusNoContent, w.Code)
		w = s.do(http.MethodGet, "/dav/b.txt", "")
		asserts.Equal("a", w.Body.String())
	}

	{
		w := s.do("MOVE", "/dav/b.txt", "", "Destination", "/dav/c.txt", "Depth", "0")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}

	// 脚本注入防护
	{
		s.put(t, "/page.txt", "<script>alert(1)</script>")
		s.put(t, "/page.html", "<p>hi</p>")
		w := s.do("MOVE", "/dav/page.txt", "", "Destination", "/dav/page.html")
		asserts.Equal(http.StatusForbidden, w.Code)
		asserts.True(s.exists("/page.txt"))
	}
}

func TestMove_LockedDescendant(t *testing.T) {
	servers := map[string]*testServer{
		"memory": newTestServer(t, testConfig()),
		"local":  newLocalTestServer(t, testConfig()),
	}

	for name, s := range servers {
		t.Run(name, func(t *testing.T) {
			asserts := assert.New(t)
			s.mkdir(t, "/dir")
			s.put(t, "/dir/a.txt", "a")
			s.put(t, "/dir/b.txt", "b")
			token := s.lock(t, "/dav/dir/b.txt", "Depth", "0")

			// 子项被锁定时整体拒绝，源与目标均不变
			{
				w := s.do("MOVE", "/dav/dir/", "", "Destination", "/dav/moved/")
				asserts.Equal(StatusLocked, w.Code)
				asserts.True(s.exists("/dir/a.txt"))
				asserts.True(s.exists("/dir/b.txt"))
				asserts.False(s.exists("/moved"))
			}

			{
				w := s.do("MOVE", "/dav/dir/", "", "Destination", "/dav/moved/", "If", "(<"+token+">)")
				asserts.Equal(http.StatusCreated, w.Code)
				asserts.False(s.exists("/dir"))
				asserts.True(s.exists("/moved/b.txt"))
			}
		})
	}
}

func TestMove_TempMarkers(t *testing.T) {
	servers := map[string]*testServer{
		"memory": newTestServer(t, testConfig()),
		"local":  newLocalTestServer(t, testConfig()),
	}

	for name, s := range servers {
		t.Run(name, func(t *testing.T) {
			asserts := assert.New(t)
			s.mkdir(t, "/d")
			s.put(t, "/d/keep.txt", "k")
			asserts.Equal(http.StatusCreated, s.do(http.MethodPut, "/dav/d/t.txt", "x", "Temporary", "T").Code)

			w := s.do("MOVE", "/dav/d/", "", "Destination", "/dav/e/")
			asserts.Equal(http.StatusCreated, w.Code)
			asserts.Equal([]string{"/e/t.txt"}, s.temp.Paths())

			w = s.do("PROPFIND", "/dav/e/", "", "Depth", "1")
			asserts.Contains(w.Body.String(), "/dav/e/keep.txt")
			asserts.NotContains(w.Body.String(), "t.txt")

			// 原路径上新建的文件不是临时文件
			s.mkdir(t, "/d")
			asserts.Equal(http.StatusCreated, s.do(http.MethodPut, "/dav/d/t.txt", "y").Code)
			asserts.False(s.temp.Contains("/d/t.txt"))

			asserts.Equal(1, s.temp.Sweep(context.Background(), s.store))
			asserts.False(s.exists("/e/t.txt"))
			asserts.True(s.exists("/e/keep.txt"))
			asserts.True(s.exists("/d/t.txt"))
		})
	}
}

// misplacedStore reports a wrong location on disk for one path, so renaming it fails.
type misplacedStore struct {
	resource.Store
	path string
}

func (m misplacedStore) Lookup(ctx context.Context, p string) (resource.Resource, error) {
	res, err := m.Store.Lookup(ctx, p)
	if err != nil || p != m.path {
		return res, err
	}
	e := *res.(*resource.Entry)
	e.Local += ".gone"
	return &e, nil
}

func TestMove_LocalRename(t *testing.T) {
	asserts := assert.New(t)
	s := newLocalTestServer(t, testConfig())
	ctx := context.Background()
	read := func(p string) string {
		content, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(p)))
		asserts.NoError(err)
		return string(content)
	}
	swapFiles := func() []string {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*.davswap"))
		asserts.NoError(err)
		return matches
	}

	// 新目标，属性随文件迁移
	{
		s.mkdir(t, "/dir")
		s.put(t, "/dir/a.txt", "a")
		asserts.NoError(s.store.PatchProperties(ctx, "/dir", map[string]string{"{urn:z}color": "red"}, nil))
		w := s.do("MOVE", "/dav/dir/", "", "Destination", "/dav/moved/")
		asserts.Equal(http.StatusCreated, w.Code)
		asserts.NoDirExists(filepath.Join(s.dir, "dir"))
		asserts.Equal("a", read("/moved/a.txt"))

		res, err := s.store.Lookup(ctx, "/moved")
		asserts.NoError(err)
		asserts.Equal("red", res.Properties()["{urn:z}color"])
		_, err = s.store.Lookup(ctx, "/dir")
		asserts.ErrorIs(err, resource.ErrNotFound)
	}

	// 覆盖已有文件，不留下交换文件
	{
		s.put(t, "/new.txt", "new")
		s.put(t, "/old.txt", "old")
		w := s.do("MOVE", "/dav/new.txt", "", "Destination", "/dav/old.txt")
		asserts.Equal(http.StatusNoContent, w.Code)
		asserts.Equal("new", read("/old.txt"))
		asserts.NoFileExists(filepath.Join(s.dir, "new.txt"))
		asserts.Empty(swapFiles())
	}

	// 最终重命名失败时恢复目标
	{
		s.put(t, "/gone.txt", "gone")
		s.put(t, "/target.txt", "target")
		s.handler.store = misplacedStore{Store: s.store, path: "/gone.txt"}
		w := s.do("MOVE", "/dav/gone.txt", "", "Destination", "/dav/target.txt")
		asserts.Equal(http.StatusInternalServerError, w.Code)
		asserts.Equal("target", read("/target.txt"))
		asserts.Equal("gone", read("/gone.txt"))
		asserts.Empty(swapFiles())
	}
}

func TestPost_Upload(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/up")

	{
		w := s.do(http.MethodPost, "/dav/up/?filename=a.txt&content=hello", "")
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "<D:href>/dav/up/a.txt</D:href>")
		r := s.do(http.MethodGet, "/dav/up/a.txt", "")
		asserts.Equal("hello", r.Body.String())
	}

	{
		w := s.do(http.MethodPost, "/dav/up/?filename=b.txt&content=x&returnUrl=/done", "")
		asserts.Equal(http.StatusFound, w.Code)
		asserts.Equal("/done?message=Created&status=201", w.Header().Get("Location"))
	}

	{
		w := s.do(http.MethodPost, "/dav/up/?filename=../c.txt&content=x", "")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}
}

func TestZip(t *testing.T) {
	asserts := assert.New(t)
	s := newTestServer(t, testConfig())
	s.mkdir(t, "/dir")
	s.mkdir(t, "/dir/sub")
	s.put(t, "/dir/a.txt", "a")
	s.put(t, "/dir/sub/b.txt", "b")

	{
		w := s.do("ZIP", "/dav/dir/?name=bundle", "")
		asserts.Equal(http.StatusOK, w.Code)
		asserts.Equal("application/zip", w.Header().Get("Content-Type"))
		asserts.Contains(w.Header().Get("Content-Disposition"), "bundle.zip")
		body, _ := io.ReadAll(w.Body)
		asserts.Equal("PK", string(body[:2]))
		asserts.Contains(string(body), "sub/b.txt")
	}

	{
		w := s.do("ZIP", "/dav/dir/?depth=0&file=a.txt", "")
		asserts.Equal(http.StatusOK, w.Code)
		asserts.NotContains(w.Body.String(), "sub/")
	}

	{
		w := s.do("ZIP", "/dav/dir/?depth=x", "")
		asserts.Equal(http.StatusBadRequest, w.Code)
	}
}
