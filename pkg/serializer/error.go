package serializer

import (
	"context"
	"errors"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// AppError 应用错误，实现了error接口
type AppError struct {
	Code     int
	Msg      string
	RawError error
}

// NewError 返回新的错误对象
func NewError(code int, msg string, err error) AppError {
	return AppError{
		Code:     code,
		Msg:      msg,
		RawError: err,
	}
}

// WithError 将应用error携带标准库中的error
func (err *AppError) WithError(raw error) AppError {
	err.RawError = raw
	return *err
}

// Error 返回业务代码确定的可读错误信息
func (err AppError) Error() string {
	return err.Msg
}

func (err AppError) Unwrap() error {
	return err.RawError
}

// 三位数错误编码为复用http原本含义
// 五位数错误编码为应用自定义错误
const (
	// CodeCheckLogin 未登录
	CodeCheckLogin = 401
	// CodeNoPermissionErr 未授权访问
	CodeNoPermissionErr = 403
	// CodeNotFound 资源未找到
	CodeNotFound = 404
	// CodeParamErr 参数错误
	CodeParamErr = 40001
	// CodeNotCollection 目标不是目录
	CodeNotCollection = 40002
	// CodeDepthNotSupported 不支持的遍历深度
	CodeDepthNotSupported = 40003
	// CodeTooManyRequests 请求过于频繁
	CodeTooManyRequests = 40004
	// CodeDBError 数据库操作失败
	CodeDBError = 50001
	// CodeIOFailed IO操作失败
	CodeIOFailed = 50004
	// CodeInternalSetting 内部设置参数错误
	CodeInternalSetting = 50005
	// CodeNotSet 未定错误，后续尝试从error中获取
	CodeNotSet = -1
)

// ParamErr 各种参数错误
func ParamErr(msg string, err error) Response {
	if msg == "" {
		msg = "Invalid parameters"
	}
	return Err(CodeParamErr, msg, err)
}

// Err 通用错误处理
func Err(errCode int, msg string, err error) Response {
	// 底层错误是AppError，则尝试从AppError中获取详细信息
	var appError AppError
	if errors.As(err, &appError) {
		errCode = appError.Code
		err = appError.RawError
		msg = appError.Msg
	}

	res := Response{
		Code: errCode,
		Msg:  msg,
	}
	// 生产环境隐藏底层报错
	if err != nil && gin.Mode() != gin.ReleaseMode {
		res.Error = err.Error()
	}
	return res
}

// ErrWithDetails is Err with the correlation ID of the current request attached.
func ErrWithDetails(c context.Context, errCode int, msg string, err error) Response {
	res := Err(errCode, msg, err)
	if cid := logging.CorrelationID(c); cid != uuid.Nil {
		res.CorrelationID = cid.String()
	}
	return res
}
