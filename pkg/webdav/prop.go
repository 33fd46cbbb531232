// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webdav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

// Propstat describes a XML propstat element as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#ELEMENT_propstat
type Propstat struct {
	// Props contains the properties for which Status applies.
	Props []Property

	// Status defines the HTTP status code of the properties in Prop.
	Status int

	// XMLError contains the XML representation of the optional error element.
	XMLError string

	// ResponseDescription contains the contents of the optional
	// responsedescription field. If empty, the XML element is omitted.
	ResponseDescription string
}

// makePropstats returns a slice containing those of x and y whose Props slice
// is non-empty. If both are empty, it returns a slice containing an otherwise
// zero Propstat whose HTTP status code is 200 OK.
func makePropstats(x, y Propstat) []Propstat {
	pstats := make([]Propstat, 0, 2)
	if len(x.Props) != 0 {
		pstats = append(pstats, x)
	}
	if len(y.Props) != 0 {
		pstats = append(pstats, y)
	}
	if len(pstats) == 0 {
		pstats = append(pstats, Propstat{
			Status: http.StatusOK,
		})
	}
	return pstats
}

// propFinder computes the plain text value of a live property.
type propFinder func(h *Handler, req *request, res resource.Resource) string

// liveProp is a property computed from the resource itself. Live properties
// are protected from PROPPATCH.
type liveProp struct {
	findFn propFinder
	// innerFn renders the XML value when it is more than escaped text.
	innerFn propFinder
	dir     bool
	file    bool
}

func davName(local string) xml.Name {
	return xml.Name{Space: nsDAV, Local: local}
}

func customName(local string) xml.Name {
	return xml.Name{Space: nsCustom, Local: local}
}

// allPropNames is the order properties are reported in.
var allPropNames = []xml.Name{
	customName("path"),
	davName("creationdate"),
	davName("displayname"),
	customName("owner"),
	customName("editor"),
	davName("getcontentlength"),
	davName("getcontenttype"),
	davName("getetag"),
	davName("getlastmodified"),
	davName("resourcetype"),
	davName("supportedlock"),
	davName("lockdiscovery"),
	customName("options"),
	customName("iconHref"),
	customName("actions"),
}

var liveProps = map[xml.Name]liveProp{
	customName("path"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string { return res.Path() },
		dir:    true,
		file:   true,
	},
	davName("creationdate"): {
		findFn: findCreationDate,
		dir:    true,
		file:   true,
	},
	davName("displayname"): {
		findFn: findDisplayName,
		dir:    true,
		file:   true,
	},
	customName("owner"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string {
			return h.directory.DisplayName(res.CreatedBy())
		},
		dir:  true,
		file: true,
	},
	customName("editor"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string {
			return h.directory.DisplayName(res.ModifiedBy())
		},
		dir:  true,
		file: true,
	},
	davName("getcontentlength"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string {
			return strconv.FormatInt(res.ContentLength(), 10)
		},
		file: true,
	},
	davName("getcontenttype"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string { return res.ContentType() },
		file:   true,
	},
	davName("getetag"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string { return res.ETag() },
		file:   true,
	},
	davName("getlastmodified"): {
		findFn: findLastModified,
		// Some clients sort child collections by this date.
		dir:  true,
		file: true,
	},
	davName("resourcetype"): {
		findFn:  findResourceType,
		innerFn: findResourceTypeXML,
		dir:     true,
		file:    true,
	},
	davName("supportedlock"): {
		findFn:  findSupportedLock,
		innerFn: findSupportedLockXML,
		dir:     true,
		file:    true,
	},
	davName("lockdiscovery"): {
		findFn:  findLockDiscovery,
		innerFn: findLockDiscoveryXML,
		dir:     true,
		file:    true,
	},
	customName("options"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string {
			return strings.Join(h.allowedMethods(req, res.Path(), res), ", ")
		},
		dir:  true,
		file: true,
	},
	customName("iconHref"): {
		findFn: findIconHref,
		dir:    true,
		file:   true,
	},
	customName("actions"): {
		findFn: func(h *Handler, req *request, res resource.Resource) string {
			return strings.Join(h.actions(req, res), ",")
		},
		dir:  true,
		file: true,
	},
}

func (p liveProp) applies(res resource.Resource) bool {
	if res.IsCollection() {
		return p.dir
	}
	return p.file
}

func (h *Handler) liveProperty(req *request, res resource.Resource, name xml.Name) (Property, bool) {
	prop, ok := liveProps[name]
	if !ok || !prop.applies(res) {
		return Property{}, false
	}
	text := prop.findFn(h, req, res)
	inner := []byte(escape(text))
	if prop.innerFn != nil {
		inner = []byte(prop.innerFn(h, req, res))
	}
	return Property{XMLName: name, InnerXML: inner, Text: text}, true
}

func deadProperty(res resource.Resource, name xml.Name) (Property, bool) {
	v, ok := res.Properties()[clark(name)]
	if !ok {
		return Property{}, false
	}
	return Property{XMLName: name, InnerXML: []byte(v), Text: innerText(v)}, true
}

// deadNames returns the names of dead properties of res in a stable order.
func deadNames(res resource.Resource) []xml.Name {
	keys := make([]string, 0, len(res.Properties()))
	for k := range res.Properties() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make([]xml.Name, 0, len(keys))
	for _, k := range keys {
		if n, ok := parseClark(k); ok {
			if _, live := liveProps[n]; !live {
				names = append(names, n)
			}
		}
	}
	return names
}

// props returns the status of the properties named pnames. Unknown names are
// reported in a separate 404 block.
func (h *Handler) props(req *request, res resource.Resource, pnames []xml.Name) []Propstat {
	pstatOK := Propstat{Status: http.StatusOK}
	pstatNotFound := Propstat{Status: http.StatusNotFound}
	for _, pn := range pnames {
		if p, ok := h.liveProperty(req, res, pn); ok {
			pstatOK.Props = append(pstatOK.Props, p)
			continue
		}
		if p, ok := deadProperty(res, pn); ok {
			pstatOK.Props = append(pstatOK.Props, p)
			continue
		}
		pstatNotFound.Props = append(pstatNotFound.Props, Property{XMLName: pn})
	}
	return makePropstats(pstatOK, pstatNotFound)
}

// propnames returns the property names defined for res.
func (h *Handler) propnames(res resource.Resource) []xml.Name {
	pnames := make([]xml.Name, 0, len(allPropNames)+len(res.Properties()))
	for _, pn := range allPropNames {
		if liveProps[pn].applies(res) {
			pnames = append(pnames, pn)
		}
	}
	return append(pnames, deadNames(res)...)
}

// allprop returns every defined property of res, plus those named in include.
//
// Without include, this is the allprop mode of PROPFIND.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_include
func (h *Handler) allprop(req *request, res resource.Resource, include []xml.Name) []Propstat {
	pnames := h.propnames(res)
	for _, pn := range include {
		found := false
		for _, n := range pnames {
			if n == pn {
				found = true
				break
			}
		}
		if !found {
			pnames = append(pnames, pn)
		}
	}
	return h.props(req, res, pnames)
}

// lockNullProps are reported for locked paths without a resource.
var lockNullProps = []xml.Name{
	customName("path"),
	davName("displayname"),
	davName("resourcetype"),
	davName("supportedlock"),
	davName("lockdiscovery"),
}

// lockNullPropstats describes a lock-null entry. Only the names in
// lockNullProps carry a value, everything else is not found.
func (h *Handler) lockNullPropstats(req *request, p string, pf propfind) []Propstat {
	placeholder := &resource.Entry{EntryPath: p}
	values := make(map[xml.Name]Property, len(lockNullProps))
	for _, pn := range lockNullProps {
		prop := liveProps[pn]
		text := prop.findFn(h, req, placeholder)
		inner := []byte(escape(text))
		if prop.innerFn != nil {
			inner = []byte(prop.innerFn(h, req, placeholder))
		}
		values[pn] = Property{XMLName: pn, InnerXML: inner, Text: text}
	}

	switch pf.mode {
	case modePropName:
		pstat := Propstat{Status: http.StatusOK}
		for _, pn := range lockNullProps {
			pstat.Props = append(pstat.Props, Property{XMLName: pn})
		}
		return []Propstat{pstat}
	case modeProp:
		pstatOK := Propstat{Status: http.StatusOK}
		pstatNotFound := Propstat{Status: http.StatusNotFound}
		for _, pn := range pf.names {
			if v, ok := values[pn]; ok {
				pstatOK.Props = append(pstatOK.Props, v)
			} else {
				pstatNotFound.Props = append(pstatNotFound.Props, Property{XMLName: pn})
			}
		}
		return makePropstats(pstatOK, pstatNotFound)
	default:
		pstat := Propstat{Status: http.StatusOK}
		for _, pn := range lockNullProps {
			pstat.Props = append(pstat.Props, values[pn])
		}
		return []Propstat{pstat}
	}
}

func findDisplayName(h *Handler, req *request, res resource.Resource) string {
	if util.SlashClean(res.Path()) == "/" {
		if h.cfg.MountName != "" {
			return h.cfg.MountName
		}
		return "/"
	}
	return path.Base(res.Path())
}

func findCreationDate(h *Handler, req *request, res resource.Resource) string {
	if res.Created().IsZero() {
		return ""
	}
	return res.Created().UTC().Format(time.RFC3339)
}

func findLastModified(h *Handler, req *request, res resource.Resource) string {
	if res.Modified().IsZero() {
		return ""
	}
	return res.Modified().UTC().Format(http.TimeFormat)
}

func findResourceType(h *Handler, req *request, res resource.Resource) string {
	if res.IsCollection() {
		return "collection"
	}
	return ""
}

func findResourceTypeXML(h *Handler, req *request, res resource.Resource) string {
	if res.IsCollection() {
		return `<D:collection xmlns:D="DAV:"/>`
	}
	return ""
}

func findSupportedLock(h *Handler, req *request, res resource.Resource) string {
	if !h.cfg.Locking {
		return ""
	}
	return "exclusive,shared"
}

func findSupportedLockXML(h *Handler, req *request, res resource.Resource) string {
	if !h.cfg.Locking {
		return ""
	}
	return `<D:lockentry xmlns:D="DAV:">` +
		`<D:lockscope><D:exclusive/></D:lockscope>` +
		`<D:locktype><D:write/></D:locktype>` +
		`</D:lockentry>` +
		`<D:lockentry xmlns:D="DAV:">` +
		`<D:lockscope><D:shared/></D:lockscope>` +
		`<D:locktype><D:write/></D:locktype>` +
		`</D:lockentry>`
}

func findLockDiscovery(h *Handler, req *request, res resource.Resource) string {
	locks := h.locks.Discover(h.now(), res.Path())
	scopes := make([]string, 0, len(locks))
	for _, l := range locks {
		scopes = append(scopes, string(l.Scope))
	}
	return strings.Join(scopes, ",")
}

func findLockDiscoveryXML(h *Handler, req *request, res resource.Resource) string {
	var b strings.Builder
	for _, l := range h.locks.Discover(h.now(), res.Path()) {
		b.WriteString(h.activeLockXML(l, ""))
	}
	return b.String()
}

// activeLockXML renders one DAV:activelock element. The lock token is only
// revealed to the client that just obtained it.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_activelock
func (h *Handler) activeLockXML(l *lock.Lock, token string) string {
	depth := "infinity"
	if l.Depth == 0 {
		depth = "0"
	}
	timeout := int64(l.ExpiresAt.Sub(h.now()) / time.Second)
	if timeout < 0 {
		timeout = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<D:activelock xmlns:D="DAV:">`+
		`<D:locktype><D:write/></D:locktype>`+
		`<D:lockscope><D:%s/></D:lockscope>`+
		`<D:depth>%s</D:depth>`+
		`<D:owner>%s</D:owner>`+
		`<D:timeout>Second-%d</D:timeout>`,
		l.Scope, depth, l.Owner, timeout,
	)
	if token != "" {
		fmt.Fprintf(&b, `<D:locktoken><D:href>%s</D:href></D:locktoken>`, escape(token))
	}
	fmt.Fprintf(&b, `<D:lockroot><D:href>%s</D:href></D:lockroot></D:activelock>`, escape(h.href(l.Path, false)))
	return b.String()
}

// findIconHref points at the static icon for the resource kind.
func findIconHref(h *Handler, req *request, res resource.Resource) string {
	if res.IsCollection() {
		return "/static/icons/folder.svg"
	}
	ext := util.Ext(res.Path())
	if ext == "" {
		return "/static/icons/file.svg"
	}
	return "/static/icons/" + ext + ".svg"
}

// actions lists what a user interface may offer for res.
func (h *Handler) actions(req *request, res resource.Resource) []string {
	var actions []string
	readable := res.CanRead(req.principal, false)
	deletable := !h.cfg.ReadOnly && res.CanDelete(req.principal, false)
	if readable {
		if res.IsCollection() {
			actions = append(actions, "zip")
		} else {
			actions = append(actions, "download")
		}
	}
	if readable && deletable {
		actions = append(actions, "rename", "move")
	}
	if deletable {
		actions = append(actions, "delete")
	}
	if res.IsCollection() && !h.cfg.ReadOnly && res.CanCreate(req.principal, false) {
		actions = append(actions, "upload", "mkcol")
	}
	if !res.IsCollection() && !h.cfg.ReadOnly && res.CanWrite(req.principal, false) {
		actions = append(actions, "edit")
	}
	return actions
}

// innerText extracts the character data of a XML fragment.
func innerText(fragment string) string {
	if !strings.Contains(fragment, "<") && !strings.Contains(fragment, "&") {
		return fragment
	}
	d := xml.NewDecoder(strings.NewReader("<v>" + fragment + "</v>"))
	var b strings.Builder
	for {
		t, err := d.Token()
		if err != nil {
			break
		}
		if cd, ok := t.(xml.CharData); ok {
			b.Write(cd)
		}
	}
	return strings.TrimSpace(b.String())
}

func makePropstatResponse(href string, pstats []Propstat) *response {
	resp := response{
		Href:     []string{href},
		Propstat: make([]propstat, 0, len(pstats)),
	}
	seq := 0
	for _, p := range pstats {
		var xmlErr *xmlError
		if p.XMLError != "" {
			xmlErr = &xmlError{InnerXML: []byte(p.XMLError)}
		}
		props := make([]encodedProperty, 0, len(p.Props))
		for _, prop := range p.Props {
			props = append(props, encodeProperty(prop, seq))
			seq++
		}
		resp.Propstat = append(resp.Propstat, propstat{
			Status:              statusLine(p.Status),
			Prop:                props,
			ResponseDescription: p.ResponseDescription,
			Error:               xmlErr,
		})
	}
	return &resp
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, StatusText(code))
}
