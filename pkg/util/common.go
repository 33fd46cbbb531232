package util

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

var (
	RandomVariantAll = []rune("1234567890abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	RandomLowerCases = []rune("1234567890abcdefghijklmnopqrstuvwxyz")
)

// RandStringRunes 返回随机字符串
func RandStringRunes(n int) string {
	return RandString(n, RandomVariantAll)
}

// RandString returns random string in given length and variant
func RandString(n int, variant []rune) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = variant[rand.Intn(len(variant))]
	}
	return string(b)
}

// IsInExtensionList 返回文件的扩展名是否在给定的列表范围内
func IsInExtensionList(extList []string, fileName string) bool {
	ext := Ext(fileName)
	if len(ext) == 0 {
		return false
	}

	for _, e := range extList {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}

	return false
}

// Replace 根据替换表执行批量替换
func Replace(table map[string]string, s string) string {
	for key, value := range table {
		s = strings.Replace(s, key, value, -1)
	}
	return s
}

// WithValue inject key-value pair into request context.
func WithValue(c *gin.Context, key any, value any) {
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), key, value))
}

// IsTrue parses the loose boolean flags used in WebDAV headers and query strings ("T", "true", "1").
func IsTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "yes", "on":
		return true
	}
	return false
}
