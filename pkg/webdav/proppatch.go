package webdav

import (
	"net/http"
)

func (h *Handler) handleProppatch(req *request) (int, error) {
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
	if !res.CanWrite(req.principal, false) {
		return 0, req.deny(res.Path())
	}

	patches, status, err := readProppatch(req.r.Body)
	if err != nil {
		return status, newDavError(status, req.path, err)
	}

	pstats, err := h.patch(req, res.Path(), patches)
	if err != nil {
		return 0, err
	}

	mw := multistatusWriter{w: req.resp}
	if err := mw.write(makePropstatResponse(h.href(res.Path(), res.IsCollection()), pstats)); err != nil {
		return 0, err
	}
	return 0, mw.close()
}

// patch applies patches atomically. Live properties are protected, touching one
// fails the whole request with 403 for it and 424 for everything else.
func (h *Handler) patch(req *request, p string, patches []Proppatch) ([]Propstat, error) {
	conflict := false
	for _, patch := range patches {
		for _, prop := range patch.Props {
			if _, ok := liveProps[prop.XMLName]; ok {
				conflict = true
			}
		}
	}

	if conflict {
		forbidden := Propstat{Status: http.StatusForbidden}
		failed := Propstat{Status: StatusFailedDependency}
		for _, patch := range patches {
			for _, prop := range patch.Props {
				if _, ok := liveProps[prop.XMLName]; ok {
					forbidden.Props = append(forbidden.Props, Property{XMLName: prop.XMLName})
				} else {
					failed.Props = append(failed.Props, Property{XMLName: prop.XMLName})
				}
			}
		}
		return makePropstats(forbidden, failed), nil
	}

	set := make(map[string]string)
	var remove []string
	done := Propstat{Status: http.StatusOK}
	for _, patch := range patches {
		for _, prop := range patch.Props {
			key := clark(prop.XMLName)
			if patch.Remove {
				delete(set, key)
				remove = append(remove, key)
			} else {
				set[key] = string(prop.InnerXML)
			}
			done.Props = append(done.Props, Property{XMLName: prop.XMLName})
		}
	}

	if err := h.store.PatchProperties(req.ctx, p, set, remove); err != nil {
		return nil, err
	}
	req.cache.forget(p)
	return []Propstat{done}, nil
}
