package webdav

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudreve/davserver/pkg/util"
)

// errorMap keeps the per-resource failures of a batch operation in the order
// they happened.
type errorMap struct {
	paths  []string
	status map[string]int
}

func newErrorMap() *errorMap {
	return &errorMap{status: make(map[string]int)}
}

func (m *errorMap) add(p string, status int) {
	if _, ok := m.status[p]; !ok {
		m.paths = append(m.paths, p)
	}
	m.status[p] = status
}

func (m *errorMap) empty() bool {
	return len(m.paths) == 0
}

// batchResult answers a batch operation on root. A failure of root alone is
// answered with its own status, anything else is itemized in a 207.
func (h *Handler) batchResult(req *request, root string, errs *errorMap, success int) (int, error) {
	if errs.empty() {
		return success, nil
	}
	if len(errs.paths) == 1 && errs.paths[0] == root {
		status := errs.status[root]
		return status, newDavError(status, root, nil)
	}

	mw := multistatusWriter{w: req.resp}
	for _, p := range errs.paths {
		if err := mw.write(&response{
			Href:   []string{h.href(p, false)},
			Status: statusLine(errs.status[p]),
		}); err != nil {
			return 0, err
		}
	}
	return 0, mw.close()
}

// parseDestination turns a Destination header into a resource path. Absolute
// URLs must point at this host, the served prefix is stripped.
func (h *Handler) parseDestination(req *request) (string, error) {
	hdr := req.r.Header.Get("Destination")
	if hdr == "" {
		return "", newDavError(http.StatusBadRequest, req.path, errInvalidDestination)
	}
	u, err := url.Parse(hdr)
	if err != nil {
		return "", newDavError(http.StatusBadRequest, req.path, errInvalidDestination)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, req.r.Host) {
		return "", newDavError(http.StatusBadGateway, req.path, errInvalidDestination)
	}

	dst, _, err := h.stripPrefix(u.Path)
	if err != nil {
		return "", newDavError(http.StatusForbidden, req.path, errDestinationOutside)
	}
	return dst, nil
}

// overwrite reads the Overwrite header or parameter, true unless "F".
func overwrite(r *http.Request) bool {
	v := r.Header.Get("Overwrite")
	if v == "" {
		v = r.URL.Query().Get("overwrite")
	}
	return v == "" || util.IsTrue(v)
}
