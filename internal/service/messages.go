package service

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	msgFetchHistoryFailed = "获取对话历史失败，请重试或开始新的对话。"
	msgAuthFailure        = "抱歉，您的登录状态已失效，请重新登录后再试。"
	msgConversationFail   = "抱歉，会话创建失败，您可以尝试刷新页面或重新开始对话。"
	msgSendFailedDefault  = "发送消息失败，请重试"
	msgImageProcessing    = "正在处理..."
	msgImageFailed        = "图片处理失败，请重试"
	defaultTitle          = "新对话"
	titleMaxRunes         = 20

	// StopSuffix 被追加到被中断的助手消息末尾
	StopSuffix = "\n\n---\n*生成已被用户中断*"
)

var welcomeMessages = map[string]string{
	"zh": "你好！我是 DeepSeek，有什么我可以帮助你的吗？",
	"en": "Hello! I am DeepSeek. How can I help you today?",
}

// WelcomeMessage 返回指定语言的欢迎语，未知语言使用中文。
func WelcomeMessage(lang string) string {
	if msg, ok := welcomeMessages[strings.ToLower(lang)]; ok {
		return msg
	}
	return welcomeMessages["zh"]
}

// ChatTitle 取前 20 个字符作为会话标题，超出部分用 "..." 表示。
func ChatTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleMaxRunes]) + "..."
}

func failureText(class failureClass, msg string) string {
	switch class {
	case failureAuth:
		return msgAuthFailure
	case failureConversation:
		return msgConversationFail
	default:
		if msg == "" {
			msg = msgSendFailedDefault
		}
		return fmt.Sprintf("抱歉，发送消息时出现错误：%s", msg)
	}
}
