package webdav

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
)

// parseDepth parses a Depth header of the form "0", "1", "N" or "infinity",
// optionally followed by ",noroot". An empty header yields def. Depths are
// capped at lock.MaxDepth.
func parseDepth(s string, def int) (depth int, noroot bool, err error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def, false, nil
	}
	if i := strings.Index(s, ","); i >= 0 {
		if strings.TrimSpace(s[i+1:]) != "noroot" {
			return 0, false, errInvalidDepth
		}
		noroot = true
		s = strings.TrimSpace(s[:i])
	}

	if s == "infinity" {
		return lock.MaxDepth, noroot, nil
	}
	depth, err = strconv.Atoi(s)
	if err != nil || depth < 0 {
		return 0, false, errInvalidDepth
	}
	if depth > lock.MaxDepth {
		depth = lock.MaxDepth
	}
	return depth, noroot, nil
}

// propWriter receives one entry per visited resource.
type propWriter interface {
	write(href string, pstats []Propstat) error
	close() error
}

type xmlPropWriter struct {
	ms multistatusWriter
}

func newXMLPropWriter(w http.ResponseWriter) *xmlPropWriter {
	return &xmlPropWriter{ms: multistatusWriter{w: w}}
}

func (x *xmlPropWriter) write(href string, pstats []Propstat) error {
	return x.ms.write(makePropstatResponse(href, pstats))
}

func (x *xmlPropWriter) close() error {
	return x.ms.close()
}

// jsonPropWriter writes a JSON array with one object per line.
type jsonPropWriter struct {
	w *Response
	n int
}

type jsonEntry struct {
	Href    string            `json:"href"`
	Props   map[string]string `json:"props"`
	Missing []string          `json:"missing,omitempty"`
}

func jsonKey(n xml.Name) string {
	if n.Space == nsDAV || n.Space == nsCustom {
		return n.Local
	}
	return clark(n)
}

func (j *jsonPropWriter) write(href string, pstats []Propstat) error {
	entry := jsonEntry{Href: href, Props: make(map[string]string)}
	for _, ps := range pstats {
		for _, p := range ps.Props {
			if ps.Status == http.StatusOK {
				entry.Props[jsonKey(p.XMLName)] = p.Text
			} else {
				entry.Missing = append(entry.Missing, jsonKey(p.XMLName))
			}
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	sep := ",\n"
	if j.n == 0 {
		j.w.Header().Set("Content-Type", "application/json; charset=utf-8")
		j.w.WriteHeader(http.StatusOK)
		sep = "[\n"
	}
	j.n++
	if _, err := j.w.Write([]byte(sep)); err != nil {
		return err
	}
	_, err = j.w.Write(line)
	return err
}

func (j *jsonPropWriter) close() error {
	if j.n == 0 {
		j.w.Header().Set("Content-Type", "application/json; charset=utf-8")
		j.w.WriteHeader(http.StatusOK)
		_, err := j.w.Write([]byte("[]\n"))
		return err
	}
	_, err := j.w.Write([]byte("\n]\n"))
	return err
}

func (h *Handler) handlePropfind(req *request) (int, error) {
	depth, noroot, err := parseDepth(req.r.Header.Get("Depth"), lock.MaxDepth)
	if err != nil {
		return http.StatusBadRequest, err
	}
	pf, err := readPropfind(req.r.Body, req.r.URL.Query())
	if err != nil {
		return http.StatusBadRequest, err
	}
	return h.propfind(req, pf, depth, noroot, newXMLPropWriter(req.resp))
}

// handleJSON is PROPFIND answered in JSON, for browser based clients.
func (h *Handler) handleJSON(req *request) (int, error) {
	depth, noroot, err := parseDepth(req.r.Header.Get("Depth"), 1)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if depth > 1 {
		return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidDepth)
	}
	pf, err := readPropfind(req.r.Body, req.r.URL.Query())
	if err != nil {
		return http.StatusBadRequest, err
	}
	return h.propfind(req, pf, depth, noroot, &jsonPropWriter{w: req.resp})
}

func (h *Handler) entryPropstats(req *request, res resource.Resource, pf propfind) []Propstat {
	switch pf.mode {
	case modePropName:
		pstat := Propstat{Status: http.StatusOK}
		for _, pn := range h.propnames(res) {
			pstat.Props = append(pstat.Props, Property{XMLName: pn})
		}
		return []Propstat{pstat}
	case modeProp:
		return h.props(req, res, pf.names)
	default:
		return h.allprop(req, res, pf.names)
	}
}

// propfind walks the tree level by level from the request target down to depth
// and writes an entry for each visible resource and lock-null path.
func (h *Handler) propfind(req *request, pf propfind, depth int, noroot bool, w propWriter) (int, error) {
	root, err := req.target()
	if err == nil && h.temp.Contains(root.Path()) {
		err = resource.ErrNotFound
	}
	if errors.Is(err, resource.ErrNotFound) {
		if !req.trailingSlash && h.locks.IsLockNull(h.now(), req.path) {
			if err := w.write(h.href(req.path, false), h.lockNullPropstats(req, req.path, pf)); err != nil {
				return 0, err
			}
			return 0, w.close()
		}
		return 0, newDavError(http.StatusNotFound, req.path, err)
	}
	if err != nil {
		return 0, err
	}
	if !root.CanRead(req.principal, false) {
		return 0, req.deny(root.Path())
	}

	if !noroot {
		if err := w.write(h.href(root.Path(), root.IsCollection()), h.entryPropstats(req, root, pf)); err != nil {
			return 0, err
		}
	}

	current := []resource.Resource{root}
	for ; depth > 0 && len(current) > 0; depth-- {
		var next []resource.Resource
		for _, parent := range current {
			if !parent.IsCollection() || !parent.CanList(req.principal, false) {
				continue
			}

			children, err := req.cache.children(req.ctx, parent.Path())
			if err != nil {
				req.l.Warning("Failed to list %q: %s", parent.Path(), err)
				continue
			}

			for _, child := range children {
				if !child.CanRead(req.principal, false) || h.temp.Contains(child.Path()) {
					continue
				}
				if err := w.write(h.href(child.Path(), child.IsCollection()), h.entryPropstats(req, child, pf)); err != nil {
					return 0, err
				}
				if child.IsCollection() {
					next = append(next, child)
				}
			}

			for _, p := range h.locks.LockNullChildren(h.now(), parent.Path()) {
				if req.cache.state(p) == found {
					continue
				}
				if err := w.write(h.href(p, false), h.lockNullPropstats(req, p, pf)); err != nil {
					return 0, err
				}
			}
		}
		current = next
	}

	return 0, w.close()
}

