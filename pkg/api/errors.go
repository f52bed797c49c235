package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 区分错误来源。
type Kind int

const (
	// KindTransport 请求已发出但没有收到响应
	KindTransport Kind = iota + 1
	// KindStatus 服务器返回了非 2xx 状态码
	KindStatus
	// KindApplication HTTP 成功但响应体 code != 200
	KindApplication
	// KindDecode 响应体无法解析
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindApplication:
		return "application"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// ErrAuthExpired 用于 errors.Is 判断登录是否失效（HTTP 401 或业务码 401）。
// 客户端自身不清理凭证，由上层统一处理。
var ErrAuthExpired = errors.New("api: authentication expired")

// Error 是所有 API 调用失败时返回的归一化错误。
type Error struct {
	Kind    Kind
	Status  int    // HTTP 状态码，传输错误时为 0
	Code    int    // 响应体中的业务码，缺失时为 0
	Message string // 面向用户的错误信息
	Method  string
	Path    string
	Body    []byte
	cause   error
}

// Error 返回面向用户的错误信息。
func (e *Error) Error() string {
	return e.Message
}

// Unwrap 支持 errors.Is/errors.As 向下追溯
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 让 errors.Is(err, ErrAuthExpired) 对 401 生效。
func (e *Error) Is(target error) bool {
	return target == ErrAuthExpired && e.AuthExpired()
}

// AuthExpired 判断是否为登录失效。
func (e *Error) AuthExpired() bool {
	return e.Status == http.StatusUnauthorized || e.Code == http.StatusUnauthorized
}

// NotFound 判断状态码或业务码是否为 404。
func (e *Error) NotFound() bool {
	return e.Status == http.StatusNotFound || e.Code == http.StatusNotFound
}

// Describe 返回带请求上下文的完整描述，用于日志。
func (e *Error) Describe() string {
	return fmt.Sprintf("%s %s: %s error (status=%d code=%d): %s", e.Method, e.Path, e.Kind, e.Status, e.Code, e.Message)
}

// MessageOf 提取面向用户的错误信息。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

const (
	msgNoResponse = "服务器无响应，请检查网络连接"
	msgGeneric    = "请求失败，请稍后再试"
)

// statusMessage 是响应体中没有 message 时使用的固定提示。
func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "请求参数错误"
	case http.StatusUnauthorized:
		return "未授权，请重新登录"
	case http.StatusForbidden:
		return "无权限访问该资源"
	case http.StatusNotFound:
		return "请求的资源不存在"
	case http.StatusConflict:
		return "资源冲突，可能已存在"
	case http.StatusInternalServerError:
		return "服务器内部错误"
	default:
		return fmt.Sprintf("请求失败 (%d)", status)
	}
}
