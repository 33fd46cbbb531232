package controllers

import (
	"encoding/json"
	"errors"

	"github.com/cloudreve/davserver/pkg/serializer"
	"github.com/go-playground/validator/v10"
)

// ParamErrorMsg 根据Validator返回的错误信息给出错误提示
func ParamErrorMsg(field string, tag string) string {
	// 未通过的规则与提示对应
	tagMap := map[string]string{
		"required":   "is required",
		"min":        "is too small",
		"max":        "is too large",
		"startswith": "must be an absolute path",
	}
	if msg, ok := tagMap[tag]; ok {
		return field + " " + msg
	}
	return ""
}

// ErrorResponse 返回错误消息
func ErrorResponse(err error) serializer.Response {
	// 处理 Validator 产生的错误
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, e := range ve {
			return serializer.ParamErr(
				ParamErrorMsg(e.Field(), e.Tag()),
				err,
			)
		}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return serializer.ParamErr("JSON type mismatch", err)
	}

	return serializer.ParamErr("", err)
}
