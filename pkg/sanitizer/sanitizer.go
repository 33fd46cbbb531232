// Package sanitizer detects active content in HTML documents before they are
// stored on the server.
package sanitizer

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var dangerousTags = map[string]bool{
	"script": true,
	"iframe": true,
	"object": true,
	"embed":  true,
	"applet": true,
	"frame":  true,
}

var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"data":       true,
	"xlink:href": true,
}

// Detector scans HTML for embedded script.
type Detector struct{}

// New returns a Detector.
func New() *Detector {
	return &Detector{}
}

// ContainsScript reports whether the document carries script tags, inline event
// handlers, javascript URLs, or embedded frames/objects.
func (d *Detector) ContainsScript(r io.Reader) (bool, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return false, err
			}
			return false, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if dangerousTags[strings.ToLower(tok.Data)] {
				return true, nil
			}
			for _, attr := range tok.Attr {
				if suspiciousAttr(attr) {
					return true, nil
				}
			}
		}
	}
}

func suspiciousAttr(attr html.Attribute) bool {
	key := strings.ToLower(attr.Key)
	if strings.HasPrefix(key, "on") {
		return true
	}

	if urlAttrs[key] {
		// 去除空白和控制字符，防止 "java\tscript:" 绕过
		v := strings.Map(func(r rune) rune {
			if r <= ' ' {
				return -1
			}
			return r
		}, strings.ToLower(attr.Val))
		return strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "vbscript:")
	}

	return false
}
