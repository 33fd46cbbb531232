package webdav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
)

// http://www.webdav.org/specs/rfc4918.html#status.code.extensions.to.http11
const (
	StatusMulti               = 207
	StatusInsufficientSpace   = 419
	StatusMethodFailure       = 420
	StatusUnprocessableEntity = 422
	StatusLocked              = 423
	StatusFailedDependency    = 424
	StatusInsufficientStorage = 507
)

func StatusText(code int) string {
	switch code {
	case StatusMulti:
		return "Multi-Status"
	case StatusInsufficientSpace:
		return "Insufficient Space On Resource"
	case StatusMethodFailure:
		return "Method Failure"
	case StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case StatusLocked:
		return "Locked"
	case StatusFailedDependency:
		return "Failed Dependency"
	case StatusInsufficientStorage:
		return "Insufficient Storage"
	}
	return http.StatusText(code)
}

// DavError is a protocol failure carrying the status to answer with.
type DavError struct {
	Status  int
	Message string
	Path    string
	Err     error
}

func (e *DavError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = StatusText(e.Status)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *DavError) Unwrap() error {
	return e.Err
}

func newDavError(status int, path string, err error) *DavError {
	return &DavError{Status: status, Path: path, Err: err}
}

// UnauthorizedError denies access to Path. The dispatcher decides between 403, a
// login redirect and a Basic challenge.
type UnauthorizedError struct {
	Path string
	// Challenge forces a 401 even for clients that could follow a login redirect.
	Challenge bool
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("webdav: access to %q denied", e.Path)
}

var (
	errDestinationEqualsSource = errors.New("webdav: destination equals source")
	errDestinationInSource     = errors.New("webdav: destination is inside source")
	errDestinationOutside      = errors.New("webdav: destination outside of served tree")
	errInvalidDepth            = errors.New("webdav: invalid depth")
	errInvalidDestination      = errors.New("webdav: invalid destination")
	errInvalidLockInfo         = errors.New("webdav: invalid lock info")
	errInvalidLockToken        = errors.New("webdav: invalid lock token")
	errInvalidPropfind         = errors.New("webdav: invalid propfind")
	errInvalidProppatch        = errors.New("webdav: invalid proppatch")
	errInvalidResponse         = errors.New("webdav: invalid response")
	errInvalidTimeout          = errors.New("webdav: invalid timeout")
	errInvalidRange            = errors.New("webdav: invalid range")
	errNoOverlap               = errors.New("webdav: range does not overlap content")
	errLocked                  = errors.New("webdav: resource is locked")
	errLockingDisabled         = errors.New("webdav: locking is disabled")
	errMissingContentLength    = errors.New("webdav: missing content length")
	errTooLarge                = errors.New("webdav: request entity too large")
	errOverwriteDenied         = errors.New("webdav: destination exists and overwrite is not allowed")
	errHTMLGuard               = errors.New("webdav: refusing to store active HTML content")
	errPrefixMismatch          = errors.New("webdav: prefix mismatch")
	errReadOnly                = errors.New("webdav: server is read-only")
	errUnsupportedLockInfo     = errors.New("webdav: unsupported lock info")
	errUnsupportedMethod       = errors.New("webdav: unsupported method")
	errMkcolBody               = errors.New("webdav: MKCOL with a request body is not supported")
	errUnsupportedMediaType    = errors.New("webdav: malformed request body")
)

// statusFromError maps errors returned by collaborators to a status.
func statusFromError(err error) int {
	var de *DavError
	if errors.As(err, &de) {
		return de.Status
	}

	switch {
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrExist), errors.Is(err, resource.ErrIsCollection):
		return http.StatusMethodNotAllowed
	case errors.Is(err, resource.ErrNoParent), errors.Is(err, resource.ErrNotCollection),
		errors.Is(err, resource.ErrNotEmpty):
		return http.StatusConflict
	case errors.Is(err, resource.ErrReadOnly), errors.Is(err, resource.ErrInvalidPath):
		return http.StatusForbidden
	case errors.Is(err, lock.ErrLocked):
		return StatusLocked
	case errors.Is(err, lock.ErrNoSuchLock):
		return http.StatusConflict
	}

	return http.StatusInternalServerError
}
