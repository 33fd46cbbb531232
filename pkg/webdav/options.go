package webdav

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/cloudreve/davserver/pkg/resource"
)

// allowedMethods computes the methods the principal may use on p. res is nil
// when nothing exists at p.
func (h *Handler) allowedMethods(req *request, p string, res resource.Resource) []string {
	methods := []string{http.MethodOptions}
	writable := !h.cfg.ReadOnly

	if res == nil {
		if h.locks.IsLockNull(h.now(), p) {
			methods = append(methods, "PROPFIND", "UNLOCK")
		}
		if p == "/" || !writable {
			return methods
		}
		parent, err := req.lookup(path.Dir(p))
		if err == nil && parent.IsCollection() && parent.CanCreate(req.principal, false) {
			methods = append(methods, http.MethodPut, "MKCOL")
			if h.cfg.Locking {
				methods = append(methods, "LOCK")
			}
		}
		return methods
	}

	readable := res.CanRead(req.principal, false)
	deletable := writable && res.CanDelete(req.principal, false)
	if readable {
		methods = append(methods, http.MethodGet, http.MethodHead, "COPY")
		if res.IsCollection() {
			methods = append(methods, "JSON", "ZIP")
		} else {
			methods = append(methods, "DAVMOUNT")
		}
	}
	if deletable {
		methods = append(methods, http.MethodDelete)
	}
	if readable && deletable {
		methods = append(methods, "MOVE")
	}
	methods = append(methods, "PROPFIND")
	if writable && res.CanWrite(req.principal, false) {
		methods = append(methods, "PROPPATCH")
		if !res.IsCollection() {
			methods = append(methods, http.MethodPut)
		}
	}
	if writable && res.IsCollection() && res.CanCreate(req.principal, false) {
		methods = append(methods, http.MethodPost, http.MethodPut, "MKCOL")
	}
	if writable && h.cfg.Locking {
		methods = append(methods, "LOCK", "UNLOCK")
	}
	return methods
}

// methodNotAllowed answers 405 listing what is allowed instead.
func (h *Handler) methodNotAllowed(req *request, res resource.Resource) (int, error) {
	allowed := h.allowedMethods(req, req.path, res)
	req.resp.Header().Set("Allow", strings.Join(allowed, ", "))
	return http.StatusMethodNotAllowed, newDavError(http.StatusMethodNotAllowed, req.path, errors.New("allowed: "+strings.Join(allowed, ", ")))
}

func (h *Handler) handleOptions(req *request) (int, error) {
	res, ok, err := req.exists()
	if err != nil {
		return 0, err
	}
	if !ok {
		res = nil
	}

	hdr := req.resp.Header()
	hdr.Set("Allow", strings.Join(h.allowedMethods(req, req.path, res), ", "))
	if h.cfg.Locking {
		hdr.Set("DAV", "1,2")
	} else {
		hdr.Set("DAV", "1")
	}
	hdr.Set("MS-Author-Via", "DAV")
	hdr.Set("Content-Length", "0")
	req.resp.WriteHeader(http.StatusOK)
	return 0, nil
}

// handleTrace never echoes the request, it always answers 405.
func (h *Handler) handleTrace(req *request) (int, error) {
	res, ok, err := req.exists()
	if err != nil {
		return 0, err
	}
	if !ok {
		res = nil
	}
	return h.methodNotAllowed(req, res)
}
