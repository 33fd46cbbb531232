// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package webdav

// The XML encoding is covered by Section 14.
// http://www.webdav.org/specs/rfc4918.html#xml.element.definitions

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	nsDAV    = "DAV:"
	nsCustom = "http://cloudreve.org/ns/dav"
)

// lockInfo is the body of a LOCK request.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_lockinfo
type lockInfo struct {
	XMLName   xml.Name  `xml:"lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     *struct{} `xml:"locktype>write"`
	Owner     owner     `xml:"owner"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_owner
type owner struct {
	InnerXML string `xml:",innerxml"`
}

// readLockInfo decodes a LOCK body. An empty body yields a zero lockInfo and
// means the client refreshes a lock.
func readLockInfo(r io.Reader) (li lockInfo, status int, err error) {
	c := &countingReader{r: r}
	if err = xml.NewDecoder(c).Decode(&li); err != nil {
		if err == io.EOF {
			if c.n == 0 {
				// http://www.webdav.org/specs/rfc4918.html#refreshing-locks
				return lockInfo{}, 0, nil
			}
			err = errInvalidLockInfo
		}
		return lockInfo{}, http.StatusBadRequest, err
	}

	if li.Write == nil || (li.Exclusive == nil) == (li.Shared == nil) {
		return lockInfo{}, http.StatusNotImplemented, errUnsupportedLockInfo
	}
	return li, 0, nil
}

type countingReader struct {
	n int
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func escape(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '&', '\'', '<', '>':
			b := bytes.NewBuffer(nil)
			xml.EscapeText(b, []byte(s))
			return b.String()
		}
	}
	return s
}

// next returns the next token, if any, in the XML stream of d.
// RFC 4918 requires to ignore comments, processing instructions
// and directives.
// http://www.webdav.org/specs/rfc4918.html#property_values
// http://www.webdav.org/specs/rfc4918.html#xml-extensibility
func next(d *xml.Decoder) (xml.Token, error) {
	for {
		t, err := d.Token()
		if err != nil {
			return t, err
		}
		switch t.(type) {
		case xml.Comment, xml.Directive, xml.ProcInst:
			continue
		default:
			return t, nil
		}
	}
}

type propfindMode int

const (
	modeAllProp propfindMode = iota
	modePropName
	modeProp
)

// propfind is a parsed PROPFIND body.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_propfind
type propfind struct {
	mode propfindMode
	// names are the requested properties in modeProp, or the DAV:include list
	// in modeAllProp.
	names []xml.Name
}

// readPropfind decodes a PROPFIND body. The mode is picked by the suffix of the
// first element below the root so clients sending foreign namespaces still work.
// An empty body falls back to the "type" and "propname" query parameters.
func readPropfind(r io.Reader, query url.Values) (pf propfind, err error) {
	d := xml.NewDecoder(r)

	var root *xml.StartElement
	for {
		t, err := next(d)
		if err == io.EOF && root == nil {
			// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPFIND
			return propfindFromQuery(query), nil
		}
		if err != nil {
			return propfind{}, errors.Wrap(errInvalidPropfind, err.Error())
		}

		if end, ok := t.(xml.EndElement); ok && root != nil && end.Name == root.Name {
			// http://www.webdav.org/specs/rfc4918.html#rfc.section.9.1
			return propfind{mode: modeAllProp}, nil
		}
		start, ok := t.(xml.StartElement)
		if !ok {
			continue
		}
		if root == nil {
			root = &start
			continue
		}

		local := strings.ToLower(start.Name.Local)
		switch {
		case strings.HasSuffix(local, "allprop"):
			if err := d.Skip(); err != nil {
				return propfind{}, errors.Wrap(errInvalidPropfind, err.Error())
			}
			pf.mode = modeAllProp
			// an optional DAV:include may follow
			include, err := readIncludes(d)
			if err != nil {
				return propfind{}, err
			}
			pf.names = include
			return pf, nil
		case strings.HasSuffix(local, "propname"):
			return propfind{mode: modePropName}, nil
		case strings.HasSuffix(local, "prop"):
			names, err := readPropNames(d)
			if err != nil {
				return propfind{}, err
			}
			if len(names) == 0 {
				return propfind{}, errInvalidPropfind
			}
			return propfind{mode: modeProp, names: names}, nil
		default:
			return propfind{}, errInvalidPropfind
		}
	}
}

func readIncludes(d *xml.Decoder) ([]xml.Name, error) {
	for {
		t, err := next(d)
		if err != nil {
			// nothing after allprop
			return nil, nil
		}
		switch elem := t.(type) {
		case xml.StartElement:
			if strings.HasSuffix(strings.ToLower(elem.Name.Local), "include") {
				return readPropNames(d)
			}
			if err := d.Skip(); err != nil {
				return nil, errors.Wrap(errInvalidPropfind, err.Error())
			}
		case xml.EndElement:
			return nil, nil
		}
	}
}

// readPropNames collects the empty elements below the current element.
func readPropNames(d *xml.Decoder) ([]xml.Name, error) {
	var names []xml.Name
	for {
		t, err := next(d)
		if err != nil {
			return nil, errors.Wrap(errInvalidPropfind, err.Error())
		}
		switch elem := t.(type) {
		case xml.EndElement:
			return names, nil
		case xml.StartElement:
			names = append(names, elem.Name)
			if err := d.Skip(); err != nil {
				return nil, errors.Wrap(errInvalidPropfind, err.Error())
			}
		}
	}
}

func propfindFromQuery(query url.Values) propfind {
	switch strings.ToLower(query.Get("type")) {
	case "propname":
		return propfind{mode: modePropName}
	case "prop":
		var names []xml.Name
		for _, n := range query["propname"] {
			if name, ok := parseClark(n); ok {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			return propfind{mode: modeProp, names: names}
		}
	}
	return propfind{mode: modeAllProp}
}

// parseClark parses "{space}local". A bare local name is taken from DAV:.
func parseClark(s string) (xml.Name, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return xml.Name{}, false
	}
	if !strings.HasPrefix(s, "{") {
		return xml.Name{Space: nsDAV, Local: s}, true
	}
	end := strings.Index(s, "}")
	if end < 0 || end == len(s)-1 {
		return xml.Name{}, false
	}
	return xml.Name{Space: s[1:end], Local: s[end+1:]}, true
}

func clark(n xml.Name) string {
	return "{" + n.Space + "}" + n.Local
}

// Property is a single DAV resource property as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#data.model.for.resource.properties
type Property struct {
	// XMLName is the fully qualified name that identifies this property.
	XMLName xml.Name

	// Lang is an optional xml:lang attribute.
	Lang string

	// InnerXML contains the XML representation of the property value.
	// See http://www.webdav.org/specs/rfc4918.html#property_values
	InnerXML []byte

	// Text is the plain value used by the JSON listing.
	Text string
}

// encodedProperty is a Property as written, with its namespace folded into a
// prefix.
type encodedProperty struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	InnerXML []byte     `xml:",innerxml"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_error
type xmlError struct {
	XMLName  xml.Name `xml:"D:error"`
	InnerXML []byte   `xml:",innerxml"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_propstat
type propstat struct {
	Prop                []encodedProperty `xml:"D:prop>_ignored_"`
	Status              string            `xml:"D:status"`
	Error               *xmlError         `xml:"D:error"`
	ResponseDescription string            `xml:"D:responsedescription,omitempty"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_response
type response struct {
	XMLName             xml.Name   `xml:"D:response"`
	Href                []string   `xml:"D:href"`
	Propstat            []propstat `xml:"D:propstat"`
	Status              string     `xml:"D:status,omitempty"`
	Error               *xmlError  `xml:"D:error"`
	ResponseDescription string     `xml:"D:responsedescription,omitempty"`
}

// encodeProperty prefixes DAV: names with "D:" and the custom namespace with
// "C:", both declared on the multistatus element. Other namespaces are declared
// on the property itself.
func encodeProperty(p Property, seq int) encodedProperty {
	e := encodedProperty{InnerXML: p.InnerXML}
	switch p.XMLName.Space {
	case nsDAV:
		e.XMLName = xml.Name{Local: "D:" + p.XMLName.Local}
	case nsCustom:
		e.XMLName = xml.Name{Local: "C:" + p.XMLName.Local}
	case "":
		e.XMLName = xml.Name{Local: p.XMLName.Local}
	default:
		prefix := fmt.Sprintf("ns%d", seq)
		e.XMLName = xml.Name{Local: prefix + ":" + p.XMLName.Local}
		e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: p.XMLName.Space})
	}
	if p.Lang != "" {
		e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: "xml:lang"}, Value: p.Lang})
	}
	return e
}

// multistatusWriter marshals one or more responses into a XML multistatus
// response. See http://www.webdav.org/specs/rfc4918.html#ELEMENT_multistatus
//
// The "D:" prefix is written on every nested element, some versions of the
// Mini-Redirector ignore elements in the default namespace.
type multistatusWriter struct {
	// responseDescription is the optional responsedescription of the
	// multistatus element. Only the latest value before close is sent.
	responseDescription string

	w   http.ResponseWriter
	enc *xml.Encoder
}

// write validates and sends r as part of the multistatus. The 207 status and
// the opening element are written with the first response. Callers must call
// close after the last response.
func (w *multistatusWriter) write(r *response) error {
	switch len(r.Href) {
	case 0:
		return errInvalidResponse
	case 1:
		if len(r.Propstat) > 0 != (r.Status == "") {
			return errInvalidResponse
		}
	default:
		if len(r.Propstat) > 0 || r.Status == "" {
			return errInvalidResponse
		}
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.enc.Encode(r)
}

// writeHeader writes the XML declaration and the opening multistatus element.
// It is a no-op after the first call.
func (w *multistatusWriter) writeHeader() error {
	if w.enc != nil {
		return nil
	}
	w.w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.w.WriteHeader(StatusMulti)
	if _, err := fmt.Fprintf(w.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return err
	}
	w.enc = xml.NewEncoder(w.w)
	return w.enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "D:multistatus"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:D"}, Value: nsDAV},
			{Name: xml.Name{Local: "xmlns:C"}, Value: nsCustom},
		},
	})
}

// close finishes the multistatus. A writer that never wrote a response sends
// an empty multistatus so the client still gets a 207 body.
func (w *multistatusWriter) close() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	var end []xml.Token
	if w.responseDescription != "" {
		name := xml.Name{Local: "D:responsedescription"}
		end = append(end,
			xml.StartElement{Name: name},
			xml.CharData(w.responseDescription),
			xml.EndElement{Name: name},
		)
	}
	end = append(end, xml.EndElement{Name: xml.Name{Local: "D:multistatus"}})
	for _, t := range end {
		if err := w.enc.EncodeToken(t); err != nil {
			return err
		}
	}
	return w.enc.Flush()
}

var xmlLangName = xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}

func xmlLang(s xml.StartElement, d string) string {
	for _, attr := range s.Attr {
		if attr.Name == xmlLangName {
			return attr.Value
		}
	}
	return d
}

type xmlValue []byte

// UnmarshalXML re-encodes the value of a property so it carries every namespace
// declaration it uses.
func (v *xmlValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b bytes.Buffer
	e := xml.NewEncoder(&b)
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		if e, ok := t.(xml.EndElement); ok && e.Name == start.Name {
			break
		}
		if err = e.EncodeToken(xml.CopyToken(t)); err != nil {
			return err
		}
	}
	if err := e.Flush(); err != nil {
		return err
	}
	*v = b.Bytes()
	return nil
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_prop (for proppatch)
type proppatchProps []Property

// UnmarshalXML appends the property names and values enclosed within start
// to ps. xml:lang is inherited from enclosing elements.
func (ps *proppatchProps) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	lang := xmlLang(start, "")
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch elem := t.(type) {
		case xml.EndElement:
			if len(*ps) == 0 {
				return errors.Errorf("%s must not be empty", start.Name.Local)
			}
			return nil
		case xml.StartElement:
			p := Property{
				XMLName: elem.Name,
				Lang:    xmlLang(elem, lang),
			}
			if err := d.DecodeElement((*xmlValue)(&p.InnerXML), &elem); err != nil {
				return err
			}
			*ps = append(*ps, p)
		}
	}
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_set
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_remove
type setRemove struct {
	XMLName xml.Name
	Lang    string         `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Prop    proppatchProps `xml:"DAV: prop"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_propertyupdate
type propertyupdate struct {
	XMLName   xml.Name    `xml:"DAV: propertyupdate"`
	Lang      string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	SetRemove []setRemove `xml:",any"`
}

// Proppatch describes a property update instruction as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#METHOD_PROPPATCH
type Proppatch struct {
	// Remove specifies whether this patch removes properties. If it does not
	// remove them, it sets them.
	Remove bool
	Props  []Property
}

func readProppatch(r io.Reader) (patches []Proppatch, status int, err error) {
	var pu propertyupdate
	if err = xml.NewDecoder(r).Decode(&pu); err != nil {
		return nil, http.StatusBadRequest, err
	}
	for _, op := range pu.SetRemove {
		remove := false
		switch op.XMLName {
		case xml.Name{Space: nsDAV, Local: "set"}:
		case xml.Name{Space: nsDAV, Local: "remove"}:
			for _, p := range op.Prop {
				if len(bytes.TrimSpace(p.InnerXML)) > 0 {
					return nil, http.StatusBadRequest, errInvalidProppatch
				}
			}
			remove = true
		default:
			return nil, http.StatusBadRequest, errInvalidProppatch
		}
		patches = append(patches, Proppatch{Remove: remove, Props: op.Prop})
	}
	return patches, 0, nil
}

// checkXMLBody reports whether the body is well formed XML. It is used where a
// body is not supported at all but malformed bodies get a distinct status.
func checkXMLBody(r io.Reader) error {
	d := xml.NewDecoder(r)
	seen := false
	for {
		t, err := d.Token()
		if err == io.EOF {
			if !seen {
				return errUnsupportedMediaType
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(errUnsupportedMediaType, err.Error())
		}
		if _, ok := t.(xml.StartElement); ok {
			seen = true
		}
	}
}
