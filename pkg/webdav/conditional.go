package webdav

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/resource"
)

// dateSlack absorbs the sub-second part HTTP dates cannot carry.
const dateSlack = time.Second

// rangeBoundary separates the parts of every multipart/byteranges response of
// this process.
var rangeBoundary = newBoundary()

func newBoundary() string {
	var buf [16]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "davserver-byteranges-boundary"
	}
	return hex.EncodeToString(buf[:])
}

// condResult is the result of an HTTP request precondition check.
// See https://tools.ietf.org/html/rfc7232 section 3.
type condResult int

const (
	condNone condResult = iota
	condTrue
	condFalse
)

// checkPreconditions evaluates If-Match, If-Modified-Since, If-None-Match and
// If-Unmodified-Since in this order against an existing resource. A non-zero
// status means the request is answered with it. The returned range header is
// empty when If-Range rules the range out.
func checkPreconditions(r *http.Request, res resource.Resource) (status int, rangeHeader string) {
	etag := res.ETag()
	lastMod := res.Modified()
	safe := r.Method == http.MethodGet || r.Method == http.MethodHead

	if checkIfMatch(r, etag) == condFalse {
		return http.StatusPreconditionFailed, ""
	}

	if safe && r.Header.Get("If-None-Match") == "" {
		if checkIfModifiedSince(r, lastMod) == condFalse {
			return http.StatusNotModified, ""
		}
	}

	if checkIfNoneMatch(r, etag) == condFalse {
		if safe {
			return http.StatusNotModified, ""
		}
		return http.StatusPreconditionFailed, ""
	}

	if checkIfUnmodifiedSince(r, lastMod) == condFalse {
		return http.StatusPreconditionFailed, ""
	}

	rangeHeader = r.Header.Get("Range")
	if rangeHeader != "" && checkIfRange(r, etag, lastMod) == condFalse {
		rangeHeader = ""
	}
	return 0, rangeHeader
}

// checkWritePreconditions evaluates If-Match and If-None-Match for a write to a
// resource that may not exist yet.
func checkWritePreconditions(r *http.Request, res resource.Resource) int {
	if res == nil {
		if r.Header.Get("If-Match") != "" {
			return http.StatusPreconditionFailed
		}
		return 0
	}

	status, _ := checkPreconditions(r, res)
	if status == http.StatusNotModified {
		status = http.StatusPreconditionFailed
	}
	return status
}

func checkIfMatch(r *http.Request, currentEtag string) condResult {
	im := r.Header.Get("If-Match")
	if im == "" {
		return condNone
	}
	for {
		im = textproto.TrimString(im)
		if len(im) == 0 {
			break
		}
		if im[0] == ',' {
			im = im[1:]
			continue
		}
		if im[0] == '*' {
			return condTrue
		}
		etag, remain := scanETag(im)
		if etag == "" {
			break
		}
		if etagStrongMatch(etag, currentEtag) {
			return condTrue
		}
		im = remain
	}

	return condFalse
}

func checkIfModifiedSince(r *http.Request, lastMod time.Time) condResult {
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || lastMod.IsZero() {
		return condNone
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return condNone
	}
	if lastMod.Before(t.Add(dateSlack)) {
		return condFalse
	}
	return condTrue
}

func checkIfUnmodifiedSince(r *http.Request, lastMod time.Time) condResult {
	ius := r.Header.Get("If-Unmodified-Since")
	if ius == "" || lastMod.IsZero() {
		return condNone
	}
	t, err := http.ParseTime(ius)
	if err != nil {
		return condNone
	}
	if lastMod.Before(t.Add(dateSlack)) {
		return condTrue
	}
	return condFalse
}

// scanETag determines if a syntactically valid ETag is present at s. If so,
// the ETag and remaining text after consuming ETag is returned. Otherwise,
// it returns "", "".
func scanETag(s string) (etag string, remain string) {
	s = textproto.TrimString(s)
	start := 0
	if strings.HasPrefix(s, "W/") {
		start = 2
	}
	if len(s[start:]) < 2 || s[start] != '"' {
		return "", ""
	}
	// ETag is either W/"text" or "text".
	// See RFC 7232 2.3.
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		// Character values allowed in ETags.
		case c == 0x21 || c >= 0x23 && c <= 0x7E || c >= 0x80:
		case c == '"':
			return s[:i+1], s[i+1:]
		default:
			return "", ""
		}
	}
	return "", ""
}

// etagStrongMatch reports whether a and b match using strong ETag comparison.
func etagStrongMatch(a, b string) bool {
	return a == b && a != "" && a[0] == '"'
}

func checkIfNoneMatch(r *http.Request, currentEtag string) condResult {
	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return condNone
	}
	buf := inm
	for {
		buf = textproto.TrimString(buf)
		if len(buf) == 0 {
			break
		}
		if buf[0] == ',' {
			buf = buf[1:]
			continue
		}
		if buf[0] == '*' {
			return condFalse
		}
		etag, remain := scanETag(buf)
		if etag == "" {
			break
		}
		if etagWeakMatch(etag, currentEtag) {
			return condFalse
		}
		buf = remain
	}
	return condTrue
}

// etagWeakMatch reports whether a and b match using weak ETag comparison.
func etagWeakMatch(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}

// checkIfRange accepts the range when If-Range names the current entity tag or a
// date not older than the last modification.
func checkIfRange(r *http.Request, currentEtag string, lastMod time.Time) condResult {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return condNone
	}
	ir := r.Header.Get("If-Range")
	if ir == "" {
		return condNone
	}
	if etag, _ := scanETag(ir); etag != "" {
		if etagStrongMatch(etag, currentEtag) {
			return condTrue
		}
		return condFalse
	}
	if lastMod.IsZero() {
		return condFalse
	}
	t, err := http.ParseTime(ir)
	if err != nil {
		return condFalse
	}
	if lastMod.Before(t.Add(dateSlack)) {
		return condTrue
	}
	return condFalse
}

// writeNotModified strips representation headers before sending 304.
func writeNotModified(w *Response) {
	h := w.Header()
	delete(h, "Content-Type")
	delete(h, "Content-Length")
	delete(h, "Content-Encoding")
	if h.Get("Etag") != "" {
		delete(h, "Last-Modified")
	}
	w.WriteHeader(http.StatusNotModified)
}

// httpRange specifies the byte range to be sent to the client.
type httpRange struct {
	start, length int64
}

func (r httpRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length-1, size)
}

func (r httpRange) mimeHeader(contentType string, size int64) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Range": {r.contentRange(size)},
		"Content-Type":  {contentType},
	}
}

// parseRange parses a Range header string as per RFC 7233.
// errNoOverlap is returned if none of the ranges overlap.
func parseRange(s string, size int64) ([]httpRange, error) {
	if s == "" {
		return nil, nil
	}
	const b = "bytes="
	if !strings.HasPrefix(s, b) {
		return nil, errInvalidRange
	}
	var ranges []httpRange
	noOverlap := false
	for _, ra := range strings.Split(s[len(b):], ",") {
		ra = textproto.TrimString(ra)
		if ra == "" {
			continue
		}
		i := strings.Index(ra, "-")
		if i < 0 {
			return nil, errInvalidRange
		}
		start, end := textproto.TrimString(ra[:i]), textproto.TrimString(ra[i+1:])
		var r httpRange
		if start == "" {
			// suffix-length, the last N bytes
			if end == "" || end[0] == '-' {
				return nil, errInvalidRange
			}
			i, err := strconv.ParseInt(end, 10, 64)
			if i < 0 || err != nil {
				return nil, errInvalidRange
			}
			if i > size {
				i = size
			}
			r.start = size - i
			r.length = size - r.start
		} else {
			i, err := strconv.ParseInt(start, 10, 64)
			if err != nil || i < 0 {
				return nil, errInvalidRange
			}
			if i >= size {
				noOverlap = true
				continue
			}
			r.start = i
			if end == "" {
				r.length = size - r.start
			} else {
				i, err := strconv.ParseInt(end, 10, 64)
				if err != nil || r.start > i {
					return nil, errInvalidRange
				}
				if i >= size {
					i = size - 1
				}
				r.length = i - r.start + 1
			}
		}
		if r.length <= 0 {
			noOverlap = true
			continue
		}
		ranges = append(ranges, r)
	}
	if noOverlap && len(ranges) == 0 {
		return nil, errNoOverlap
	}
	return ranges, nil
}

func sumRangesSize(ranges []httpRange) (size int64) {
	for _, ra := range ranges {
		size += ra.length
	}
	return
}

// countingWriter counts how many bytes have been written to it.
type countingWriter int64

func (w *countingWriter) Write(p []byte) (n int, err error) {
	*w += countingWriter(len(p))
	return len(p), nil
}

func newRangesWriter(w io.Writer) *multipart.Writer {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(rangeBoundary); err != nil {
		panic(err)
	}
	return mw
}

// rangesMIMESize returns the number of bytes it takes to encode the
// provided ranges as a multipart response.
func rangesMIMESize(ranges []httpRange, contentType string, contentSize int64) (encSize int64) {
	var w countingWriter
	mw := newRangesWriter(&w)
	for _, ra := range ranges {
		mw.CreatePart(ra.mimeHeader(contentType, contentSize))
		encSize += ra.length
	}
	mw.Close()
	encSize += int64(w)
	return
}

// serveContent answers a GET or HEAD on a file, honouring preconditions and byte
// ranges. Only headers are sent when content is false.
func (h *Handler) serveContent(req *request, res resource.Resource, content bool) (int, error) {
	w := req.resp
	size := res.ContentLength()
	ctype := res.ContentType()

	w.Header().Set("ETag", res.ETag())
	if !res.Modified().IsZero() {
		w.Header().Set("Last-Modified", res.Modified().UTC().Format(http.TimeFormat))
	}
	h.setCacheHeaders(w)

	status, rangeReq := checkPreconditions(req.r, res)
	switch status {
	case http.StatusNotModified:
		writeNotModified(w)
		return 0, nil
	case http.StatusPreconditionFailed:
		return status, nil
	}

	ranges, err := parseRange(rangeReq, size)
	if err != nil {
		if errors.Is(err, errNoOverlap) && size == 0 {
			// an empty file has nothing to range over, send it whole
			ranges = nil
		} else {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			return http.StatusRequestedRangeNotSatisfiable, err
		}
	}

	if sumRangesSize(ranges) > size {
		// overlapping ranges asking for more than the file, serve it whole
		ranges = nil
	}

	f, err := h.store.Open(req.ctx, res.Path())
	if err != nil {
		return 0, err
	}
	req.track(f)
	src := withSpeedLimit(f, h.cfg.SpeedLimit)

	code := http.StatusOK
	sendSize := size
	var sendContent io.Reader = src
	switch {
	case len(ranges) == 1:
		ra := ranges[0]
		if _, err := src.Seek(ra.start, io.SeekStart); err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			return http.StatusRequestedRangeNotSatisfiable, err
		}
		sendSize = ra.length
		code = http.StatusPartialContent
		w.Header().Set("Content-Range", ra.contentRange(size))
		w.Header().Set("Content-Type", ctype)
	case len(ranges) > 1:
		sendSize = rangesMIMESize(ranges, ctype, size)
		code = http.StatusPartialContent
		w.Header().Set("Content-Type", "multipart/byteranges; boundary="+rangeBoundary)

		pr, pw := io.Pipe()
		mw := newRangesWriter(pw)
		sendContent = pr
		req.track(pr)
		go func() {
			for _, ra := range ranges {
				part, err := mw.CreatePart(ra.mimeHeader(ctype, size))
				if err != nil {
					pw.CloseWithError(err)
					return
				}
				if _, err := src.Seek(ra.start, io.SeekStart); err != nil {
					pw.CloseWithError(err)
					return
				}
				if _, err := io.CopyN(part, src, ra.length); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
			mw.Close()
			pw.Close()
		}()
	default:
		w.Header().Set("Content-Type", ctype)
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(sendSize, 10))
	w.WriteHeader(code)

	if !content {
		return 0, nil
	}

	if _, err := io.CopyN(w, sendContent, sendSize); err != nil {
		return 0, err
	}
	return 0, nil
}

// setCacheHeaders tells clients how long content may be reused.
func (h *Handler) setCacheHeaders(w *Response) {
	if h.cfg.CacheMaxAge <= 0 {
		w.Header().Set("Cache-Control", "no-cache")
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", h.cfg.CacheMaxAge))
	w.Header().Set("Expires", h.now().Add(time.Duration(h.cfg.CacheMaxAge)*time.Second).UTC().Format(http.TimeFormat))
}
