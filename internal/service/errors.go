package service

import (
	"errors"
	"net/http"
	"strings"

	"aihelper-go/pkg/api"
)

// 业务层的哨兵错误，错误信息直接展示给用户。
var (
	ErrEmptyMessage            = errors.New("消息内容不能为空")
	ErrGenerationInProgress    = errors.New("正在生成回复，请稍候或先停止生成")
	ErrNoActiveConversation    = errors.New("没有活动的会话，无法停止生成")
	ErrIncompleteUser          = errors.New("用户信息不完整，请重新登录")
	ErrNotAuthenticated        = errors.New("用户未登录")
	ErrTemporaryMessage        = errors.New("消息尚未保存，无法删除")
	ErrMessageNotFound         = errors.New("消息不存在")
	ErrNoPrecedingUserMessage  = errors.New("找不到可以重新生成的用户消息")
	ErrCodeLoginIncomplete     = errors.New("手机号和验证码不能为空")
	ErrRegistrationIncomplete  = errors.New("注册信息不完整，请检查")
	ErrEmptyContact            = errors.New("联系方式不能为空")
	ErrConversationCreateEmpty = errors.New("创建对话失败")
	ErrInvalidConversation     = errors.New("无效的对话ID")
	ErrNotAssistantMessage     = errors.New("只能重新生成助手消息")
)

// failureClass 决定发送失败后追加哪一条助手消息。
type failureClass int

const (
	failureGeneric failureClass = iota
	failureAuth
	failureConversation
)

// classifyFailure 按结构化的错误信息分类，只有无类型的错误才退回到关键字匹配。
func classifyFailure(err error) failureClass {
	if errors.Is(err, api.ErrAuthExpired) {
		return failureAuth
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusForbidden || apiErr.Code == http.StatusForbidden:
			return failureAuth
		case apiErr.NotFound():
			return failureConversation
		default:
			return failureGeneric
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "认证"), strings.Contains(msg, "授权"), strings.Contains(strings.ToLower(msg), "token"):
		return failureAuth
	case strings.Contains(msg, "会话"), strings.Contains(msg, "对话"):
		return failureConversation
	default:
		return failureGeneric
	}
}

// isBenignStopError 判断停止生成失败是否只是因为生成已经结束。
func isBenignStopError(err error) bool {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.NotFound() {
		return true
	}
	msg := api.MessageOf(err)
	return strings.Contains(msg, "未找到") || strings.Contains(msg, "已完成")
}
