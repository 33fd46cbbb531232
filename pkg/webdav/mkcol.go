package webdav

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/cloudreve/davserver/pkg/resource"
)

func (h *Handler) handleMkcol(req *request) (int, error) {
	if h.cfg.ReadOnly {
		return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errReadOnly)
	}
	if err := h.checkLock(req, req.path); err != nil {
		return 0, err
	}

	if _, err := req.lookup(req.path); err == nil {
		return http.StatusMethodNotAllowed, newDavError(http.StatusMethodNotAllowed, req.path, resource.ErrExist)
	} else if !errors.Is(err, resource.ErrNotFound) {
		return 0, err
	}

	// Creating a collection with properties in one request is not supported.
	if status, err := checkMkcolBody(req); status != 0 || err != nil {
		return status, err
	}

	parent, err := req.lookup(path.Dir(req.path))
	if err != nil || !parent.IsCollection() {
		// http://www.webdav.org/specs/rfc2518.html#rfc.section.8.3.1
		return http.StatusConflict, newDavError(http.StatusConflict, req.path, resource.ErrNoParent)
	}
	if !parent.CanCreate(req.principal, false) {
		return 0, req.deny(req.path)
	}

	res, err := h.store.Mkdir(req.ctx, req.path, req.principal)
	if err != nil {
		return 0, err
	}

	req.cache.put(res)
	h.locks.ClearLockNull(req.path)
	h.notify.created(req.ctx, res)
	return http.StatusCreated, nil
}

func checkMkcolBody(req *request) (int, error) {
	if req.r.ContentLength == 0 {
		return 0, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.r.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return 0, nil
	}
	if err := checkXMLBody(bytes.NewReader(body)); err != nil {
		return http.StatusUnsupportedMediaType, newDavError(http.StatusUnsupportedMediaType, req.path, err)
	}
	return http.StatusNotImplemented, newDavError(http.StatusNotImplemented, req.path, errMkcolBody)
}
