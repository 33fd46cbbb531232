package webdav

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/cloudreve/davserver/pkg/logging"
)

// Response wraps the client connection of one request. The status line is sent at
// most once and an error body at most once; after the response is committed no
// further error translation happens.
type Response struct {
	w         http.ResponseWriter
	l         logging.Logger
	strict    bool
	status    int
	written   int64
	errorSent bool
	aborted   bool
}

func newResponse(w http.ResponseWriter, l logging.Logger, strict bool) *Response {
	return &Response{w: w, l: l, strict: strict}
}

func (r *Response) Header() http.Header {
	return r.w.Header()
}

func (r *Response) WriteHeader(code int) {
	if r.status != 0 {
		r.l.Debug("Status %d ignored, response already committed with %d.", code, r.status)
		return
	}
	r.status = code
	r.w.WriteHeader(code)
}

func (r *Response) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	if err != nil {
		r.aborted = true
	}
	return n, err
}

// Flush implements http.Flusher.
func (r *Response) Flush() {
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the committed status, or 0.
func (r *Response) Status() int {
	return r.status
}

func (r *Response) committed() bool {
	return r.status != 0
}

// sendError writes an error status with a plain text message. Calling it twice in
// the same request is a programming error.
func (r *Response) sendError(code int, message string) {
	if r.errorSent {
		msg := fmt.Sprintf("webdav: error %d sent twice for the same request", code)
		if r.strict {
			panic(msg)
		}
		r.l.Error("%s", msg)
		return
	}
	r.errorSent = true

	if r.committed() {
		r.l.Debug("Cannot send error %d, response already committed with %d.", code, r.status)
		return
	}

	r.sendStatus(code, message)
}

// sendStatus writes a bare status with a short text body.
func (r *Response) sendStatus(code int, message string) {
	if code == http.StatusNoContent || code == http.StatusNotModified {
		r.WriteHeader(code)
		return
	}
	if message == "" {
		message = StatusText(code)
	}
	r.Header().Set("Content-Type", "text/plain; charset=utf-8")
	r.Header().Set("X-Content-Type-Options", "nosniff")
	r.WriteHeader(code)
	_, _ = io.WriteString(r, message)
}

// isClientAbort reports whether err means the client went away.
func isClientAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, http.ErrAbortHandler) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "write"
}
