package webdav

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

// contentRange is a parsed Content-Range header of a partial PUT.
type contentRange struct {
	start, end int64
	// total is -1 when the client sent "*".
	total int64
}

// parseContentRange parses "bytes start-end/total".
func parseContentRange(s string) (contentRange, error) {
	const b = "bytes "
	if !strings.HasPrefix(s, b) {
		return contentRange{}, errInvalidRange
	}
	spec := strings.TrimSpace(s[len(b):])
	slash := strings.Index(spec, "/")
	if slash < 0 {
		return contentRange{}, errInvalidRange
	}
	rng, total := spec[:slash], spec[slash+1:]
	dash := strings.Index(rng, "-")
	if dash < 0 {
		return contentRange{}, errInvalidRange
	}

	cr := contentRange{total: -1}
	var err error
	if cr.start, err = strconv.ParseInt(strings.TrimSpace(rng[:dash]), 10, 64); err != nil || cr.start < 0 {
		return contentRange{}, errInvalidRange
	}
	if cr.end, err = strconv.ParseInt(strings.TrimSpace(rng[dash+1:]), 10, 64); err != nil || cr.end < cr.start {
		return contentRange{}, errInvalidRange
	}
	if total = strings.TrimSpace(total); total != "*" {
		if cr.total, err = strconv.ParseInt(total, 10, 64); err != nil || cr.end >= cr.total {
			return contentRange{}, errInvalidRange
		}
	}
	return cr, nil
}

func (h *Handler) handlePut(req *request) (int, error) {
	if h.cfg.ReadOnly {
		return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errReadOnly)
	}
	if err := h.checkLock(req, req.path); err != nil {
		return 0, err
	}

	existing, ok, err := req.exists()
	if err != nil {
		return 0, err
	}
	if !ok {
		existing = nil
	}
	if req.trailingSlash || (existing != nil && existing.IsCollection()) || req.path == "/" {
		return h.methodNotAllowed(req, existing)
	}

	parent, err := req.lookup(path.Dir(req.path))
	if err != nil || !parent.IsCollection() {
		return http.StatusConflict, newDavError(http.StatusConflict, req.path, resource.ErrNoParent)
	}
	if existing != nil && !existing.CanWrite(req.principal, false) {
		return 0, req.deny(req.path)
	}
	if existing == nil && !parent.CanCreate(req.principal, false) {
		return 0, req.deny(req.path)
	}

	if status := checkWritePreconditions(req.r, existing); status != 0 {
		return status, nil
	}

	body, length := req.body, req.bodySize
	if body == nil {
		body, length = req.r.Body, req.r.ContentLength
	}
	if length < 0 {
		return http.StatusLengthRequired, newDavError(http.StatusLengthRequired, req.path, errMissingContentLength)
	}
	if h.cfg.MaxPutSize > 0 && length > h.cfg.MaxPutSize {
		return http.StatusRequestEntityTooLarge, newDavError(http.StatusRequestEntityTooLarge, req.path, errTooLarge)
	}

	opts := resource.WriteOptions{Truncate: true, Principal: req.principal}
	if cr := req.r.Header.Get("Content-Range"); cr != "" && req.body == nil {
		offset, err := h.checkPartialPut(cr, length, existing)
		if err != nil {
			return http.StatusRequestedRangeNotSatisfiable, newDavError(http.StatusRequestedRangeNotSatisfiable, req.path, err)
		}
		opts.Offset, opts.Truncate = offset, false
	}

	lr := newLoggingReader(io.LimitReader(body, length), req.l, req.path)
	req.track(lr)
	var src io.Reader = lr

	ctype := req.r.Header.Get("Content-Type")
	if req.body != nil || ctype == "" {
		ctype = resource.TypeByName(req.path)
	}
	if (resource.IsHTML(ctype) || resource.IsHTML(resource.TypeByName(req.path))) && !req.principal.Trusted {
		buf, err := io.ReadAll(lr)
		if err != nil {
			return 0, err
		}
		script, err := h.sanitizer.ContainsScript(bytes.NewReader(buf))
		if err != nil {
			return 0, err
		}
		if script {
			return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errHTMLGuard)
		}
		src = bytes.NewReader(buf)
	}

	temporary := util.IsTrue(req.r.Header.Get("Temporary"))
	wasTemp := h.temp.Contains(req.path)
	if temporary {
		h.temp.Add(req.path)
	}

	res, created, err := h.store.Write(req.ctx, req.path, src, opts)
	if err != nil {
		if temporary && !wasTemp {
			h.temp.Remove(req.path)
		}
		return 0, err
	}

	req.cache.put(res)
	h.locks.ClearLockNull(req.path)
	if !temporary && wasTemp {
		// 临时文件被正式写入
		h.temp.Remove(req.path)
		created = true
	}
	if created {
		h.notify.created(req.ctx, res)
	} else {
		h.notify.updated(req.ctx, res)
	}

	req.resp.Header().Set("ETag", res.ETag())
	if created {
		return http.StatusCreated, nil
	}
	return http.StatusOK, nil
}

// checkPartialPut validates a Content-Range against the stored file and returns
// the write offset.
func (h *Handler) checkPartialPut(header string, length int64, existing resource.Resource) (int64, error) {
	cr, err := parseContentRange(header)
	if err != nil {
		return 0, err
	}
	if cr.end-cr.start+1 != length {
		return 0, errInvalidRange
	}

	var size int64
	if existing != nil {
		size = existing.ContentLength()
	}
	if cr.start > size {
		return 0, errNoOverlap
	}
	if h.cfg.MaxPartialPutSize > 0 && cr.end+1 > h.cfg.MaxPartialPutSize {
		return 0, errTooLarge
	}
	return cr.start, nil
}

// handlePost uploads a single file into a collection, then answers like a
// depth 0 PROPFIND on it, or redirects to returnUrl.
func (h *Handler) handlePost(req *request) (int, error) {
	target, err := req.target()
	if err != nil {
		return 0, err
	}
	if !target.IsCollection() {
		return h.methodNotAllowed(req, target)
	}

	name, body, size, err := h.readUpload(req)
	if err != nil {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, err)
	}

	returnURL := req.r.FormValue("returnUrl")
	req.path = path.Join(target.Path(), name)
	req.trailingSlash = false
	req.body, req.bodySize = body, size

	status, err := h.handlePut(req)
	if returnURL != "" && !req.resp.committed() {
		return h.uploadRedirect(req, returnURL, status, err)
	}
	if err != nil || status >= 400 {
		return status, err
	}

	res, err := req.target()
	if err != nil {
		return 0, err
	}
	w := newXMLPropWriter(req.resp)
	if err := w.write(h.href(res.Path(), false), h.entryPropstats(req, res, propfind{mode: modeAllProp})); err != nil {
		return 0, err
	}
	return 0, w.close()
}

type uploadResult struct {
	Status  int    `url:"status"`
	Message string `url:"message,omitempty"`
}

func (h *Handler) uploadRedirect(req *request, returnURL string, status int, err error) (int, error) {
	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return 0, err
	}
	if status == 0 {
		status = statusFromError(err)
	}
	msg := StatusText(status)
	var de *DavError
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}

	location, qErr := withQuery(returnURL, uploadResult{Status: status, Message: msg})
	if qErr != nil {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, qErr)
	}
	if err != nil {
		req.l.Debug("Upload of %q failed with %d: %s", req.path, status, err)
	}
	req.resp.Header().Set("Location", location)
	return http.StatusFound, nil
}

// readUpload extracts the uploaded file from a multipart "file" field or from
// plain "filename" and "content" parameters.
func (h *Handler) readUpload(req *request) (string, io.Reader, int64, error) {
	if strings.HasPrefix(req.r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := req.r.ParseMultipartForm(32 << 20); err != nil {
			return "", nil, 0, fmt.Errorf("invalid multipart body: %w", err)
		}
		req.track(multipartCleaner{req.r.MultipartForm})

		f, header, err := req.r.FormFile("file")
		if err != nil {
			return "", nil, 0, fmt.Errorf("missing file field: %w", err)
		}
		req.track(f)
		name := header.Filename
		if n := req.r.FormValue("filename"); n != "" {
			name = n
		}
		if err := checkUploadName(name); err != nil {
			return "", nil, 0, err
		}
		return name, f, header.Size, nil
	}

	name, content := req.r.FormValue("filename"), req.r.FormValue("content")
	if err := checkUploadName(name); err != nil {
		return "", nil, 0, err
	}
	return name, strings.NewReader(content), int64(len(content)), nil
}

func checkUploadName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

type multipartCleaner struct {
	form *multipart.Form
}

func (m multipartCleaner) Close() error {
	if m.form == nil {
		return nil
	}
	return m.form.RemoveAll()
}
