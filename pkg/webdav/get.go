package webdav

import (
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

func (h *Handler) handleGet(req *request) (int, error) {
	return h.serveResource(req, true)
}

func (h *Handler) handleHead(req *request) (int, error) {
	return h.serveResource(req, false)
}

func (h *Handler) serveResource(req *request, content bool) (int, error) {
	res, err := req.target()
	if err != nil {
		return 0, err
	}

	if res.IsCollection() {
		return h.serveCollection(req, res, content)
	}

	if !res.CanRead(req.principal, false) {
		return 0, req.deny(res.Path())
	}
	return h.serveContent(req, res, content)
}

// serveCollection answers GET on a collection with its JSON listing. Nothing
// outside the listable root is revealed.
func (h *Handler) serveCollection(req *request, res resource.Resource, content bool) (int, error) {
	if !util.IsDescendant(h.cfg.ListableRoot, res.Path()) {
		return 0, newDavError(http.StatusNotFound, res.Path(), resource.ErrNotFound)
	}
	if !res.CanList(req.principal, false) {
		return 0, req.deny(res.Path())
	}

	if !content {
		req.resp.Header().Set("Content-Type", "application/json; charset=utf-8")
		req.resp.WriteHeader(http.StatusOK)
		return 0, nil
	}

	req.resp.Header().Set("Cache-Control", "no-cache")
	return h.propfind(req, propfind{mode: modeAllProp}, 1, false, &jsonPropWriter{w: req.resp})
}

// handleDavMount sends a RFC 4709 mount descriptor for the collection holding
// the target.
func (h *Handler) handleDavMount(req *request) (int, error) {
	res, err := req.target()
	if err != nil {
		return 0, err
	}
	if !res.CanRead(req.principal, false) {
		return 0, req.deny(res.Path())
	}

	dir, open := res.Path(), ""
	if !res.IsCollection() {
		dir, open = path.Dir(res.Path()), path.Base(res.Path())
	}

	scheme := "http"
	if req.r.TLS != nil {
		scheme = "https"
	} else if fwd := req.r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	mountURL := scheme + "://" + req.r.Host + h.href(dir, true)

	body := `<?xml version="1.0" encoding="utf-8"?>` + "\n" +
		`<dm:mount xmlns:dm="http://purl.org/NET/webdav/mount">` + "\n" +
		fmt.Sprintf("  <dm:url>%s</dm:url>\n", escape(mountURL))
	if open != "" {
		body += fmt.Sprintf("  <dm:open>%s</dm:open>\n", escape(open))
	}
	body += "</dm:mount>\n"

	name := path.Base(dir)
	if dir == "/" {
		name = "root"
		if h.cfg.MountName != "" {
			name = h.cfg.MountName
		}
	}

	hdr := req.resp.Header()
	hdr.Set("Content-Type", "application/davmount+xml")
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".davmount"))
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	req.resp.WriteHeader(http.StatusOK)
	if _, err := req.resp.Write([]byte(body)); err != nil {
		return 0, err
	}
	return 0, nil
}

