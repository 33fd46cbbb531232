package webdav

import (
	"net/http"

	"github.com/cloudreve/davserver/pkg/resource"
)

func (h *Handler) handleDelete(req *request) (int, error) {
	if h.cfg.ReadOnly {
		return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errReadOnly)
	}
	if err := h.checkLock(req, req.path); err != nil {
		return 0, err
	}

	res, err := req.target()
	if err != nil {
		return 0, err
	}
	if !res.CanDelete(req.principal, true) {
		return 0, req.deny(res.Path())
	}

	errs := newErrorMap()
	h.deleteTree(req, res, errs)
	return h.batchResult(req, res.Path(), errs, http.StatusNoContent)
}

// deleteTree removes res depth first. Failures are recorded in errs and leave
// the enclosing collections in place.
func (h *Handler) deleteTree(req *request, res resource.Resource, errs *errorMap) bool {
	if res.IsCollection() {
		children, err := req.cache.children(req.ctx, res.Path())
		if err != nil {
			errs.add(res.Path(), statusFromError(err))
			return false
		}

		ok := true
		for _, child := range children {
			if !h.locks.Check(h.now(), child.Path(), req.tokenText()) {
				errs.add(child.Path(), StatusLocked)
				ok = false
				continue
			}
			if !child.CanDelete(req.principal, false) {
				errs.add(child.Path(), http.StatusForbidden)
				ok = false
				continue
			}
			if !h.deleteTree(req, child, errs) {
				ok = false
			}
		}
		if !ok {
			return false
		}
	}

	if err := h.store.Remove(req.ctx, res.Path()); err != nil {
		req.l.Warning("Failed to delete %q: %s", res.Path(), err)
		errs.add(res.Path(), statusFromError(err))
		return false
	}

	req.cache.forget(res.Path())
	h.notify.removed(req.ctx, res.Path())
	return true
}
