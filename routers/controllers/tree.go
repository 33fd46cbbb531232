package controllers

import (
	"github.com/cloudreve/davserver/service/explorer"
	"github.com/gin-gonic/gin"
)

// ListTree 列出资源树
func ListTree(c *gin.Context) {
	var service explorer.TreeService
	if err := c.ShouldBindUri(&service); err != nil {
		c.JSON(200, ErrorResponse(err))
		return
	}
	if err := c.ShouldBindQuery(&service); err != nil {
		c.JSON(200, ErrorResponse(err))
		return
	}

	c.JSON(200, service.List(c))
}
