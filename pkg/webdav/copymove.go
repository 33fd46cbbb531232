package webdav

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

const unboundedDepth = -1

func (h *Handler) handleCopy(req *request) (int, error) {
	return h.copyMove(req, false)
}

func (h *Handler) handleMove(req *request) (int, error) {
	return h.copyMove(req, true)
}

func (h *Handler) copyMove(req *request, move bool) (int, error) {
	if h.cfg.ReadOnly {
		return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errReadOnly)
	}

	dst, err := h.parseDestination(req)
	if err != nil {
		return 0, err
	}
	if !req.principal.CanAccess(dst) {
		return 0, req.deny(dst)
	}

	src, err := req.target()
	if err != nil {
		return 0, err
	}
	if dst == src.Path() {
		return http.StatusForbidden, newDavError(http.StatusForbidden, dst, errDestinationEqualsSource)
	}
	if dst == "/" {
		return http.StatusForbidden, newDavError(http.StatusForbidden, dst, errDestinationOutside)
	}
	if src.IsCollection() && util.IsDescendant(src.Path(), dst) {
		return http.StatusConflict, newDavError(http.StatusConflict, dst, errDestinationInSource)
	}

	depth := unboundedDepth
	if hdr := req.r.Header.Get("Depth"); hdr != "" {
		switch {
		case hdr == "infinity":
		case hdr == "0" && !move:
			depth = 0
		default:
			// http://www.webdav.org/specs/rfc4918.html#rfc.section.9.9.2
			return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidDepth)
		}
	}

	if move {
		if err := h.checkTreeLock(req, src.Path()); err != nil {
			return 0, err
		}
		if !src.CanRead(req.principal, true) || !src.CanDelete(req.principal, true) {
			return 0, req.deny(src.Path())
		}
	} else if !src.CanRead(req.principal, true) {
		return 0, req.deny(src.Path())
	}
	if err := h.checkLock(req, dst); err != nil {
		return 0, err
	}

	parent, err := req.lookup(path.Dir(dst))
	if err != nil || !parent.IsCollection() {
		return http.StatusConflict, newDavError(http.StatusConflict, dst, resource.ErrNoParent)
	}
	if !parent.CanCreate(req.principal, false) {
		return 0, req.deny(dst)
	}

	existing, err := req.lookup(dst)
	if err != nil && !errors.Is(err, resource.ErrNotFound) {
		return 0, err
	}
	if err != nil {
		existing = nil
	}

	if existing != nil {
		if status, err := h.checkOverwrite(req, src, existing); status != 0 || err != nil {
			return status, err
		}
	}

	if move {
		return h.move(req, src, dst, existing)
	}
	return h.copy(req, src, dst, existing, depth)
}

// checkOverwrite decides whether existing may be replaced by src.
func (h *Handler) checkOverwrite(req *request, src, existing resource.Resource) (int, error) {
	if !overwrite(req.r) {
		return http.StatusPreconditionFailed, newDavError(http.StatusPreconditionFailed, existing.Path(), errOverwriteDenied)
	}
	if existing.IsCollection() && !h.cfg.AllowCollectionOverwrite {
		return http.StatusPreconditionFailed, newDavError(http.StatusPreconditionFailed, existing.Path(), errOverwriteDenied)
	}
	if !existing.CanDelete(req.principal, true) {
		return 0, req.deny(existing.Path())
	}
	if !existing.IsCollection() && resource.IsHTML(existing.ContentType()) && !req.principal.Trusted &&
		(src.IsCollection() || !strings.EqualFold(src.ContentType(), existing.ContentType())) {
		return http.StatusForbidden, newDavError(http.StatusForbidden, existing.Path(), errHTMLGuard)
	}
	return 0, nil
}

// clearDestination removes an existing destination before it is replaced. A
// partial failure is answered right away.
func (h *Handler) clearDestination(req *request, existing resource.Resource) (bool, int, error) {
	errs := newErrorMap()
	if h.deleteTree(req, existing, errs) {
		return true, 0, nil
	}
	status, err := h.batchResult(req, existing.Path(), errs, http.StatusNoContent)
	return false, status, err
}

func (h *Handler) copy(req *request, src resource.Resource, dst string, existing resource.Resource, depth int) (int, error) {
	if existing != nil {
		if ok, status, err := h.clearDestination(req, existing); !ok {
			return status, err
		}
	}

	errs := newErrorMap()
	h.copyTree(req, src, dst, depth, errs)

	success := http.StatusCreated
	if existing != nil {
		success = http.StatusNoContent
	}
	return h.batchResult(req, dst, errs, success)
}

// copyTree copies src to dst, descending depth levels into collections.
// Failures are recorded under their destination path.
func (h *Handler) copyTree(req *request, src resource.Resource, dst string, depth int, errs *errorMap) bool {
	if src.IsCollection() {
		created, err := h.store.Mkdir(req.ctx, dst, req.principal)
		if err != nil {
			errs.add(dst, statusFromError(err))
			return false
		}
		h.copyProperties(req, src, dst)
		req.cache.put(created)
		h.locks.ClearLockNull(dst)
		h.notify.created(req.ctx, created)
		if depth == 0 {
			return true
		}

		children, err := req.cache.children(req.ctx, src.Path())
		if err != nil {
			errs.add(dst, statusFromError(err))
			return false
		}
		ok := true
		for _, child := range children {
			target := path.Join(dst, child.Name())
			if !child.CanRead(req.principal, false) {
				errs.add(target, http.StatusForbidden)
				ok = false
				continue
			}
			next := depth
			if depth > 0 {
				next--
			}
			if !h.copyTree(req, child, target, next, errs) {
				ok = false
			}
		}
		return ok
	}

	f, err := h.store.Open(req.ctx, src.Path())
	if err != nil {
		errs.add(dst, statusFromError(err))
		return false
	}
	defer f.Close()

	written, _, err := h.store.Write(req.ctx, dst, f, resource.WriteOptions{Truncate: true, Principal: req.principal})
	if err != nil {
		errs.add(dst, statusFromError(err))
		return false
	}
	h.copyProperties(req, src, dst)
	req.cache.put(written)
	h.locks.ClearLockNull(dst)
	h.notify.created(req.ctx, written)
	return true
}

func (h *Handler) copyProperties(req *request, src resource.Resource, dst string) {
	if len(src.Properties()) == 0 {
		return
	}
	if err := h.store.PatchProperties(req.ctx, dst, src.Properties(), nil); err != nil {
		req.l.Warning("Failed to copy properties from %q to %q: %s", src.Path(), dst, err)
	}
}

func (h *Handler) move(req *request, src resource.Resource, dst string, existing resource.Resource) (int, error) {
	success := http.StatusCreated
	if existing != nil {
		success = http.StatusNoContent
	}

	if moved, err := h.rename(req, src, dst, existing); moved {
		req.cache.forget(src.Path())
		req.cache.forget(dst)
		res, lookupErr := req.lookup(dst)
		if lookupErr != nil {
			return 0, lookupErr
		}
		h.locks.ClearLockNull(dst)
		h.temp.Relocate(src.Path(), dst)
		h.notify.moved(req.ctx, src.Path(), res)
		return success, nil
	} else if err != nil {
		return 0, err
	}

	// Stream the tree over and remove the source afterwards.
	if existing != nil {
		if ok, status, err := h.clearDestination(req, existing); !ok {
			return status, err
		}
	}
	// 临时标记先随子项迁移，复制出的临时文件不会被登记
	h.temp.Relocate(src.Path(), dst)
	errs := newErrorMap()
	if !h.copyTree(req, src, dst, unboundedDepth, errs) {
		h.temp.Relocate(dst, src.Path())
		return h.batchResult(req, dst, errs, success)
	}
	if !h.deleteTree(req, src, errs) {
		return h.batchResult(req, src.Path(), errs, success)
	}
	return success, nil
}

// rename moves src with a rename on disk when both ends are local files. An
// existing destination file is first renamed aside and restored if the final
// rename fails. It reports false with a nil error when the fast path does not
// apply.
func (h *Handler) rename(req *request, src resource.Resource, dst string, existing resource.Resource) (bool, error) {
	srcLocal, ok := resource.LocalPath(src)
	if !ok {
		return false, nil
	}
	parent, err := req.lookup(path.Dir(dst))
	if err != nil {
		return false, nil
	}
	parentLocal, ok := resource.LocalPath(parent)
	if !ok {
		return false, nil
	}
	if existing != nil && existing.IsCollection() {
		return false, nil
	}
	dstLocal := filepath.Join(parentLocal, path.Base(dst))

	side := ""
	if existing != nil {
		side = fmt.Sprintf("%s.%s.davswap", dstLocal, util.RandStringRunes(8))
		if err := os.Rename(dstLocal, side); err != nil {
			return false, nil
		}
	}

	if err := os.Rename(srcLocal, dstLocal); err != nil {
		if side != "" {
			if restoreErr := os.Rename(side, dstLocal); restoreErr != nil {
				req.l.Error("Failed to restore %q from side file %q: %s", dstLocal, side, restoreErr)
			}
		}
		return false, err
	}

	if side != "" {
		if err := os.RemoveAll(side); err != nil {
			req.l.Warning("Failed to remove side file %q: %s", side, err)
		}
		h.notify.removed(req.ctx, dst)
	}

	if relocator, ok := h.store.(resource.Relocator); ok {
		if err := relocator.Relocated(req.ctx, src.Path(), dst); err != nil {
			req.l.Warning("Failed to relocate metadata of %q: %s", src.Path(), err)
		}
	}
	return true, nil
}
