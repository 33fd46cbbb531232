// Package webdav implements the WebDAV protocol engine on top of a resource.Store.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/sanitizer"
	"github.com/cloudreve/davserver/pkg/statics"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/gin-gonic/gin"
	"github.com/google/go-querystring/query"
)

// Config holds the engine options.
type Config struct {
	// Prefix is the URL path the tree is served under, without trailing slash.
	Prefix                   string
	ReadOnly                 bool
	RequireAuth              bool
	Realm                    string
	LoginURL                 string
	ListableRoot             string
	AllowCollectionOverwrite bool
	Locking                  bool
	MaxLockTimeout           time.Duration
	MaxPutSize               int64
	MaxPartialPutSize        int64
	SpeedLimit               int64
	CacheMaxAge              int
	BypassHeader             string
	MountName                string
	// Strict turns protocol assertion failures into panics.
	Strict bool
}

// NewConfig builds the engine options from the [Dav] config section.
func NewConfig(d *conf.Dav, debug bool) Config {
	prefix := util.RemoveSlash(util.SlashClean(d.Prefix))
	if prefix == "/" {
		prefix = ""
	}
	return Config{
		Prefix:                   prefix,
		ReadOnly:                 d.ReadOnly,
		RequireAuth:              d.RequireAuth,
		Realm:                    d.Realm,
		LoginURL:                 d.LoginURL,
		ListableRoot:             util.SlashClean(d.ListableRoot),
		AllowCollectionOverwrite: d.AllowCollectionOverwrite,
		Locking:                  d.Locking,
		MaxLockTimeout:           time.Duration(d.MaxLockTimeout) * time.Second,
		MaxPutSize:               d.MaxPutSize,
		MaxPartialPutSize:        d.MaxPartialPutSize,
		SpeedLimit:               d.SpeedLimit,
		CacheMaxAge:              d.CacheMaxAge,
		BypassHeader:             d.BypassHeader,
		MountName:                d.MountName,
		Strict:                   debug,
	}
}

type (
	// methodHandler serves one HTTP method. A zero status means the handler has
	// already written the response.
	methodHandler interface {
		serve(req *request) (int, error)
	}
	methodFunc func(req *request) (int, error)
)

func (f methodFunc) serve(req *request) (int, error) {
	return f(req)
}

// Handler dispatches WebDAV requests.
type Handler struct {
	cfg       Config
	store     resource.Store
	locks     lock.LockSystem
	temp      *TempFiles
	indexer   Indexer
	objects   DataObjects
	sanitizer Sanitizer
	directory Directory
	reporter  ErrorReporter
	l         logging.Logger
	notify    *notifier
	now       func() time.Time
	methods   map[string]methodHandler
}

// Option customizes a Handler.
type Option func(h *Handler)

func WithIndexer(i Indexer) Option {
	return func(h *Handler) {
		h.indexer = i
	}
}

func WithDataObjects(d DataObjects) Option {
	return func(h *Handler) {
		h.objects = d
	}
}

func WithSanitizer(s Sanitizer) Option {
	return func(h *Handler) {
		h.sanitizer = s
	}
}

func WithDirectory(d Directory) Option {
	return func(h *Handler) {
		h.directory = d
	}
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(h *Handler) {
		h.reporter = r
	}
}

// WithClock replaces time.Now, mainly for lock expiry in tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates the engine. locks and temp are process-wide and shared with
// the maintenance jobs.
func NewHandler(cfg Config, store resource.Store, locks lock.LockSystem, temp *TempFiles, l logging.Logger, opts ...Option) *Handler {
	h := &Handler{
		cfg:       cfg,
		store:     store,
		locks:     locks,
		temp:      temp,
		indexer:   nopIndexer{},
		objects:   nopDataObjects{},
		sanitizer: sanitizer.New(),
		directory: plainDirectory{},
		reporter:  LogReporter{},
		l:         l,
		now:       time.Now,
	}
	if h.cfg.ListableRoot == "" {
		h.cfg.ListableRoot = "/"
	}
	for _, o := range opts {
		o(h)
	}

	h.notify = &notifier{indexer: h.indexer, objects: h.objects, temp: temp}
	h.methods = map[string]methodHandler{
		http.MethodGet:     methodFunc(h.handleGet),
		http.MethodHead:    methodFunc(h.handleHead),
		"DAVMOUNT":         methodFunc(h.handleDavMount),
		http.MethodPut:     methodFunc(h.handlePut),
		http.MethodPost:    methodFunc(h.handlePost),
		http.MethodDelete:  methodFunc(h.handleDelete),
		"MKCOL":            methodFunc(h.handleMkcol),
		"COPY":             methodFunc(h.handleCopy),
		"MOVE":             methodFunc(h.handleMove),
		"PROPFIND":         methodFunc(h.handlePropfind),
		"PROPPATCH":        methodFunc(h.handleProppatch),
		"LOCK":             methodFunc(h.handleLock),
		"UNLOCK":           methodFunc(h.handleUnlock),
		http.MethodOptions: methodFunc(h.handleOptions),
		http.MethodTrace:   methodFunc(h.handleTrace),
		"ZIP":              methodFunc(h.handleZip),
		"JSON":             methodFunc(h.handleJSON),
	}

	return h
}

// Methods lists the HTTP methods with a handler.
func (h *Handler) Methods() []string {
	res := make([]string, 0, len(h.methods))
	for m := range h.methods {
		res = append(res, m)
	}
	sort.Strings(res)
	return res
}

// Prefix returns the URL prefix the tree is served under.
func (h *Handler) Prefix() string {
	return h.cfg.Prefix
}

// request is the state of one WebDAV request.
type request struct {
	ctx       context.Context
	r         *http.Request
	resp      *Response
	l         logging.Logger
	principal *auth.Principal
	path      string
	// trailingSlash is set when the client addressed path as a collection.
	trailingSlash bool
	cache         *resourceCache
	closers       []io.Closer
	// body replaces the request body when set, see POST uploads.
	body     io.Reader
	bodySize int64
}

func (req *request) track(c io.Closer) {
	req.closers = append(req.closers, c)
}

func (req *request) close() {
	for i := len(req.closers) - 1; i >= 0; i-- {
		if err := req.closers[i].Close(); err != nil {
			req.l.Debug("Failed to close request resource: %s", err)
		}
	}
	req.closers = nil
}

func (req *request) lookup(p string) (resource.Resource, error) {
	return req.cache.get(req.ctx, p)
}

// target returns the addressed resource. A file addressed with a trailing slash
// does not exist.
func (req *request) target() (resource.Resource, error) {
	res, err := req.lookup(req.path)
	if err != nil {
		return nil, err
	}
	if req.trailingSlash && !res.IsCollection() {
		return nil, resource.ErrNotFound
	}
	return res, nil
}

// exists reports whether the target exists. Lookup failures other than absence
// are returned.
func (req *request) exists() (resource.Resource, bool, error) {
	res, err := req.target()
	if errors.Is(err, resource.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// tokenText is the client supplied lock token text.
func (req *request) tokenText() string {
	return req.r.Header.Get("If") + " " + req.r.Header.Get("Lock-Token")
}

// deny refuses access to p.
func (req *request) deny(p string) error {
	return &UnauthorizedError{Path: p}
}

// ServeHTTP serves a WebDAV request.
func (h *Handler) ServeHTTP(c *gin.Context) {
	ctx := c.Request.Context()
	l := logging.FromContext(ctx)
	req := &request{
		ctx:       ctx,
		r:         c.Request,
		resp:      newResponse(c.Writer, l, h.cfg.Strict),
		l:         l,
		principal: auth.PrincipalFromContext(ctx),
		cache:     newResourceCache(h.store),
		bodySize:  -1,
	}
	defer req.close()

	status, err := h.dispatch(req)
	h.finish(req, status, err)
}

func (h *Handler) dispatch(req *request) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r == http.ErrAbortHandler {
				panic(r)
			}
			if e, ok := r.(error); ok && isClientAbort(e) {
				status, err = 0, e
				return
			}
			status, err = http.StatusInternalServerError, fmt.Errorf("webdav: panic while serving %s: %v", req.r.Method, r)
		}
	}()

	method := strings.ToUpper(req.r.Method)
	m, ok := h.methods[method]
	if !ok {
		return http.StatusNotImplemented, errUnsupportedMethod
	}

	if err := h.authorize(req, method); err != nil {
		return 0, err
	}

	if err := h.resolve(req, method); err != nil {
		return 0, err
	}

	return m.serve(req)
}

// authorize raises the login requirement for guests.
func (h *Handler) authorize(req *request, method string) error {
	if !h.cfg.RequireAuth || !req.principal.Guest {
		return nil
	}

	davClient := isDavClient(req.r.UserAgent()) || method == http.MethodOptions || method == "PROPFIND"
	if davClient && h.cfg.BypassHeader != "" && req.r.Header.Get(h.cfg.BypassHeader) != "" {
		return nil
	}

	p, _, err := h.stripPrefix(req.r.URL.Path)
	if err != nil {
		p = req.r.URL.Path
	}
	return &UnauthorizedError{Path: p, Challenge: davClient}
}

// resolve maps the URL of req to a resource path.
func (h *Handler) resolve(req *request, method string) error {
	p, trailing, err := h.stripPrefix(req.r.URL.Path)
	if err != nil {
		return newDavError(http.StatusNotFound, req.r.URL.Path, err)
	}

	// 静态资源的版本号只在读取时改写
	if method == http.MethodGet || method == http.MethodHead {
		if _, err := req.lookup(p); errors.Is(err, resource.ErrNotFound) {
			if stripped, ok := statics.StripVersion(p); ok {
				if _, err := req.lookup(stripped); err == nil {
					p = stripped
				}
			}
		}
	}

	if !h.canReach(req.principal, p, method) {
		return req.deny(p)
	}

	req.path = p
	req.trailingSlash = trailing && p != "/"
	return nil
}

// canReach checks p against the principal's root. Read methods may also visit
// the collections leading to the root.
func (h *Handler) canReach(p *auth.Principal, target, method string) bool {
	if p.CanAccess(target) {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND", "JSON":
		return p.CanTraverse(target)
	}
	return false
}

// stripPrefix removes the served prefix from a URL path.
func (h *Handler) stripPrefix(urlPath string) (string, bool, error) {
	trailing := len(urlPath) > 1 && strings.HasSuffix(urlPath, "/")
	p := util.SlashClean(urlPath)
	if h.cfg.Prefix == "" {
		return p, trailing, nil
	}

	if p == h.cfg.Prefix {
		return "/", trailing, nil
	}
	if r := strings.TrimPrefix(p, h.cfg.Prefix); len(r) < len(p) && strings.HasPrefix(r, "/") {
		return r, trailing, nil
	}
	return "", false, errPrefixMismatch
}

// href is the escaped URL of p as seen by clients.
func (h *Handler) href(p string, collection bool) string {
	full := path.Join("/", h.cfg.Prefix, p)
	if collection && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	return (&url.URL{Path: full}).EscapedPath()
}

// checkLock fails with 423 when p is locked by a token the client did not supply.
func (h *Handler) checkLock(req *request, p string) error {
	if !h.locks.Check(h.now(), p, req.tokenText()) {
		return newDavError(StatusLocked, p, errLocked)
	}
	return nil
}

// checkTreeLock is checkLock for p and every lock held below it.
func (h *Handler) checkTreeLock(req *request, p string) error {
	if blocked, ok := h.locks.CheckTree(h.now(), p, req.tokenText()); !ok {
		return newDavError(StatusLocked, blocked, errLocked)
	}
	return nil
}

// finish translates the handler outcome into a response. This is the only place
// errors become wire statuses.
func (h *Handler) finish(req *request, status int, err error) {
	if status == 0 && err == nil {
		return
	}

	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		h.challenge(req, unauthorized)
		return
	}

	if status == 0 {
		status = statusFromError(err)
	}

	if req.resp.aborted || isClientAbort(err) {
		req.l.Debug("Client aborted %s %s: %v", req.r.Method, req.r.URL.Path, err)
		return
	}

	if status == http.StatusNotFound {
		p := req.path
		if p == "" {
			p = req.r.URL.Path
		}
		h.indexer.NotFound(req.ctx, p)
	}

	if status >= 500 {
		if err == nil {
			err = errors.New(StatusText(status))
		}
		req.l.Error("WebDAV %s %s failed: %s", req.r.Method, req.r.URL.Path, err)
		h.reporter.Report(req.ctx, err, req.r)
	} else if err != nil {
		req.l.Debug("WebDAV request failed with error: %s", err)
	}

	if status < 400 {
		if !req.resp.committed() {
			req.resp.sendStatus(status, "")
		}
		return
	}

	msg := ""
	var de *DavError
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	} else if status >= 500 && err != nil {
		msg = err.Error()
	}
	req.resp.sendError(status, msg)
}

// challenge answers an UnauthorizedError.
func (h *Handler) challenge(req *request, e *UnauthorizedError) {
	if req.resp.committed() {
		req.l.Debug("Access to %q denied after response was committed.", e.Path)
		return
	}

	if !req.principal.Guest {
		req.resp.sendError(http.StatusForbidden, "")
		return
	}

	if !e.Challenge && h.cfg.LoginURL != "" && req.r.Method == http.MethodGet && isBrowser(req.r.UserAgent()) {
		if res, err := req.lookup(e.Path); err == nil && res.IsCollection() {
			target, err := withQuery(h.cfg.LoginURL, loginQuery{ReturnURL: req.r.URL.RequestURI()})
			if err == nil {
				req.resp.Header().Set("Location", target)
				req.resp.WriteHeader(http.StatusFound)
				return
			}
		}
	}

	req.resp.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.cfg.Realm))
	req.resp.sendError(http.StatusUnauthorized, "")
}

var davClientAgents = []string{
	"microsoft-webdav-miniredir",
	"davclnt",
	"webdavfs",
	"webdavlib",
	"gvfs",
	"darwin",
	"davfs2",
	"cadaver",
	"litmus",
	"neon",
	"cyberduck",
	"winscp",
	"rclone",
	"kio",
	"dolphin",
}

// isDavClient sniffs well known WebDAV clients that cannot follow a login page.
func isDavClient(ua string) bool {
	ua = strings.ToLower(ua)
	for _, agent := range davClientAgents {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}

func isBrowser(ua string) bool {
	return strings.HasPrefix(ua, "Mozilla/") && !isDavClient(ua)
}

type loginQuery struct {
	ReturnURL string `url:"returnUrl"`
}

// withQuery appends the fields of q to the query of base.
func withQuery(base string, q interface{}) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	extra, err := query.Values(q)
	if err != nil {
		return "", err
	}
	values := u.Query()
	for k, vs := range extra {
		values[k] = vs
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}
