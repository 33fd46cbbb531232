package middleware

import (
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Cors 根据配置启用跨域，AllowOrigins 为 UNSET 时不做处理
func Cors(config *conf.Cors) gin.HandlerFunc {
	if len(config.AllowOrigins) == 0 || config.AllowOrigins[0] == "UNSET" {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	corsConfig := cors.Config{
		AllowOrigins:     config.AllowOrigins,
		AllowMethods:     config.AllowMethods,
		AllowHeaders:     config.AllowHeaders,
		AllowCredentials: config.AllowCredentials,
		ExposeHeaders:    config.ExposeHeaders,
	}
	if lo.Contains(config.AllowOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}

	return cors.New(corsConfig)
}
