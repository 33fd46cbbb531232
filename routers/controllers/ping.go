package controllers

import (
	"github.com/cloudreve/davserver/application/constants"
	"github.com/cloudreve/davserver/pkg/serializer"
	"github.com/gin-gonic/gin"
)

// Ping 状态检查页面
func Ping(c *gin.Context) {
	c.JSON(200, serializer.Response{
		Code: 0,
		Data: constants.BackendVersion,
		Msg:  "Pong",
	})
}
