package webdav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
)

const defaultLockTimeout = time.Hour

// parseTimeout reads the first usable entry of a Timeout header, capped at max.
// http://www.webdav.org/specs/rfc4918.html#HEADER_Timeout
func parseTimeout(s string, max time.Duration) (time.Duration, error) {
	if max <= 0 {
		max = defaultLockTimeout
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return max, nil
	}

	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "Infinite") {
			return max, nil
		}
		const pre = "Second-"
		if !strings.HasPrefix(v, pre) {
			continue
		}
		n, err := strconv.ParseInt(v[len(pre):], 10, 64)
		if err != nil || n < 0 {
			return 0, errInvalidTimeout
		}
		d := time.Duration(n) * time.Second
		if d > max || n > int64(max/time.Second) {
			d = max
		}
		return d, nil
	}
	return 0, errInvalidTimeout
}

func (h *Handler) handleLock(req *request) (int, error) {
	if !h.cfg.Locking {
		return http.StatusNotImplemented, newDavError(http.StatusNotImplemented, req.path, errLockingDisabled)
	}
	if h.cfg.ReadOnly {
		return http.StatusForbidden, newDavError(http.StatusForbidden, req.path, errReadOnly)
	}

	duration, err := parseTimeout(req.r.Header.Get("Timeout"), h.cfg.MaxLockTimeout)
	if err != nil {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, err)
	}

	li, status, err := readLockInfo(req.r.Body)
	if err != nil {
		return status, newDavError(status, req.path, err)
	}

	if li == (lockInfo{}) {
		return h.refreshLock(req, duration)
	}

	depth := lock.MaxDepth
	switch hdr := req.r.Header.Get("Depth"); hdr {
	case "", "infinity":
	case "0":
		depth = 0
	default:
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidDepth)
	}

	res, exists, err := req.exists()
	if err != nil {
		return 0, err
	}
	if exists {
		if !res.CanWrite(req.principal, false) {
			return 0, req.deny(req.path)
		}
	} else {
		parent, err := req.lookup(path.Dir(req.path))
		if err != nil || !parent.IsCollection() {
			return http.StatusConflict, newDavError(http.StatusConflict, req.path, resource.ErrNoParent)
		}
		if !parent.CanCreate(req.principal, false) {
			return 0, req.deny(req.path)
		}
	}

	scope := lock.Exclusive
	if li.Shared != nil {
		scope = lock.Shared
	}

	l, token, err := h.locks.Lock(h.now(), lock.Request{
		Path:       req.path,
		Scope:      scope,
		Depth:      depth,
		Owner:      li.Owner.InnerXML,
		Duration:   duration,
		Collection: exists && res.IsCollection(),
	})
	if err != nil {
		return 0, err
	}
	if !exists {
		h.locks.MarkLockNull(req.path)
	}

	req.resp.Header().Set("Lock-Token", "<"+token+">")
	return h.writeLockDiscovery(req, l, token)
}

// refreshLock extends the lock named in the If header.
// http://www.webdav.org/specs/rfc4918.html#refreshing-locks
func (h *Handler) refreshLock(req *request, duration time.Duration) (int, error) {
	tokenText := req.r.Header.Get("If")
	if tokenText == "" {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidLockInfo)
	}

	l, err := h.locks.Refresh(h.now(), req.path, tokenText, duration)
	if err != nil {
		if errors.Is(err, lock.ErrNoSuchLock) {
			return http.StatusPreconditionFailed, newDavError(http.StatusPreconditionFailed, req.path, err)
		}
		return 0, err
	}

	token := ""
	for _, t := range l.Tokens {
		if strings.Contains(tokenText, t) {
			token = t
			break
		}
	}
	return h.writeLockDiscovery(req, l, token)
}

func (h *Handler) writeLockDiscovery(req *request, l *lock.Lock, token string) (int, error) {
	req.resp.Header().Set("Content-Type", "application/xml; charset=utf-8")
	req.resp.WriteHeader(http.StatusOK)
	_, err := fmt.Fprintf(req.resp, `<?xml version="1.0" encoding="utf-8"?>`+"\n"+
		`<D:prop xmlns:D="DAV:"><D:lockdiscovery>%s</D:lockdiscovery></D:prop>`,
		h.activeLockXML(l, token),
	)
	return 0, err
}

func (h *Handler) handleUnlock(req *request) (int, error) {
	if !h.cfg.Locking {
		return http.StatusNotImplemented, newDavError(http.StatusNotImplemented, req.path, errLockingDisabled)
	}

	// http://www.webdav.org/specs/rfc4918.html#HEADER_Lock-Token says that the
	// Lock-Token value is a Coded-URL. We strip its angle brackets.
	t := strings.TrimSpace(req.r.Header.Get("Lock-Token"))
	if len(t) < 2 || t[0] != '<' || t[len(t)-1] != '>' {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidLockToken)
	}
	t = t[1 : len(t)-1]

	if err := h.locks.Unlock(h.now(), req.path, t); err != nil {
		return 0, err
	}
	// drain the body, some clients send one
	_, _ = io.Copy(io.Discard, io.LimitReader(req.r.Body, 1<<16))
	return http.StatusNoContent, nil
}
