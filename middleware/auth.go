package middleware

import (
	"net/http"

	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/serializer"
	"github.com/gin-gonic/gin"
)

// CurrentPrincipal 解析 Basic 认证信息并注入当前身份，失败或缺省时为访客
func CurrentPrincipal(provider auth.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := auth.Guest()
		if user, password, ok := c.Request.BasicAuth(); ok {
			p, err := provider.Authenticate(user, password)
			if err != nil {
				logging.FromContext(c.Request.Context()).Warning("Basic authentication failed for %q: %s", user, err)
			} else {
				principal = p
			}
		}

		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// TrustedRequired 需要受信任的登录用户
func TrustedRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := auth.PrincipalFromContext(c.Request.Context())
		if principal.Guest {
			c.JSON(http.StatusOK, serializer.ErrWithDetails(c.Request.Context(), serializer.CodeCheckLogin, "Login required", nil))
			c.Abort()
			return
		}

		if !principal.Trusted {
			c.JSON(http.StatusOK, serializer.ErrWithDetails(c.Request.Context(), serializer.CodeNoPermissionErr, "Permission denied", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
