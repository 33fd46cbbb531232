package controllers

import (
	"net/http"
	"strings"

	"github.com/cloudreve/davserver/pkg/webdav"
	"github.com/gin-gonic/gin"
)

// DavFallback hands requests below the WebDAV prefix that matched no route, such as
// unknown methods, to the engine. Everything else is not found.
func DavFallback(h *webdav.Handler) gin.HandlerFunc {
	prefix := h.Prefix()
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			h.ServeHTTP(c)
			return
		}

		c.Status(http.StatusNotFound)
	}
}
