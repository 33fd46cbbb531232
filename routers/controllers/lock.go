package controllers

import (
	"github.com/cloudreve/davserver/service/admin"
	"github.com/gin-gonic/gin"
)

// ListLocks 列出活跃的 WebDAV 锁
func ListLocks(c *gin.Context) {
	var service admin.ListLockService
	if err := c.ShouldBindQuery(&service); err != nil {
		c.JSON(200, ErrorResponse(err))
		return
	}

	c.JSON(200, service.List(c))
}
