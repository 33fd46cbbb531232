package routers

import (
	"net/http"

	"github.com/cloudreve/davserver/application/constants"
	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/middleware"
	"github.com/cloudreve/davserver/pkg/statics"
	"github.com/cloudreve/davserver/routers/controllers"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// InitRouter 初始化路由
func InitRouter(dep dependency.Dep) *gin.Engine {
	config := dep.ConfigProvider()
	l := dep.Logger()
	r := gin.New()
	r.Use(gin.Recovery())

	// 中间件
	r.Use(middleware.InitializeHandling(dep))
	r.Use(middleware.Logging())
	r.Use(middleware.RateLimit(config.RateLimit()))

	// 静态资源
	l.Info("Serving static assets under %q.", config.Static().Prefix)
	r.Use(statics.Serve(config.Static().Prefix, dep.StaticFS()))

	initAPI(r.Group(constants.APIPrefix), dep)
	initDav(r, dep)
	return r
}

// initDav registers every WebDAV method below the prefix. A root prefix is served
// entirely through NoRoute so it does not shadow the API routes.
func initDav(r *gin.Engine, dep dependency.Dep) {
	h := dep.DavHandler()
	principal := middleware.CurrentPrincipal(dep.AuthProvider())

	if prefix := h.Prefix(); prefix != "" {
		dav := r.Group(prefix)
		dav.Use(principal)
		for _, m := range h.Methods() {
			dav.Handle(m, "", h.ServeHTTP)
			dav.Handle(m, "/*path", h.ServeHTTP)
		}
	}

	r.NoRoute(principal, controllers.DavFallback(h))
}

func initAPI(v1 *gin.RouterGroup, dep dependency.Dep) {
	v1.Use(middleware.Cors(dep.ConfigProvider().Cors()))
	v1.Use(middleware.CacheControl())
	v1.Use(gzip.Gzip(gzip.DefaultCompression))
	v1.Use(middleware.CurrentPrincipal(dep.AuthProvider()))

	// 跨域预检
	v1.OPTIONS("/*any", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// 测试用路由
	v1.GET("ping", controllers.Ping)

	// 资源树
	v1.GET("tree/*path", controllers.ListTree)

	// 锁管理，仅限受信任用户
	v1.GET("locks", middleware.TrustedRequired(), controllers.ListLocks)
}
