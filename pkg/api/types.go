package api

import (
	"encoding/json"

	"aihelper-go/internal/model"
)

// LoginRequest 是密码登录的请求体。
type LoginRequest struct {
	Account   string `json:"account"`
	Password  string `json:"password"`
	LoginType string `json:"loginType"` // email 或 mobile
}

// CodeLoginRequest 是验证码登录的请求体。
type CodeLoginRequest struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	Code    string `json:"code"`
}

// RegisterRequest 是注册的请求体。
type RegisterRequest struct {
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
	Password string `json:"password"`
	Nickname string `json:"nickname,omitempty"`
	Code     string `json:"code"`
}

// PasswordResetRequest 是重置密码的请求体。
type PasswordResetRequest struct {
	Account          string `json:"account"`
	VerificationCode string `json:"verificationCode"`
	NewPassword      string `json:"newPassword"`
}

// VerificationCodeRequest 是获取验证码的请求体，账号只填 Account/Email/Mobile 中的一个。
type VerificationCodeRequest struct {
	Type    string `json:"type"`
	Account string `json:"account,omitempty"`
	Email   string `json:"email,omitempty"`
	Mobile  string `json:"mobile,omitempty"`
	Code    string `json:"code,omitempty"`
}

// AuthResponse 是登录和注册的返回数据。
type AuthResponse struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Token    string `json:"token"`
}

// ProfileUpdate 是更新个人资料的请求体。
type ProfileUpdate struct {
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
}

// PasswordChange 是修改密码的请求体。
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AvatarURL 是头像相关接口返回的签名 URL。
type AvatarURL struct {
	AvatarURL string `json:"avatarUrl"`
	ExpiresIn string `json:"expiresIn,omitempty"`
}

// ChatRequest 是发送消息的请求体。
type ChatRequest struct {
	Prompt          string   `json:"prompt"`
	ConversationID  int64    `json:"conversationId,omitempty"`
	UserID          int64    `json:"userId,omitempty"`
	Model           string   `json:"model,omitempty"`
	DeepThinking    bool     `json:"deepThinking"`
	ImageBase64List []string `json:"imageBase64List,omitempty"`
}

// ChatResponse 是发送消息的返回数据。
type ChatResponse struct {
	ConversationID int64                `json:"conversationId"`
	Response       string               `json:"response"`
	Reason         string               `json:"reason,omitempty"`
	MessageID      int64                `json:"messageId,omitempty"`
	Images         []model.MessageImage `json:"images,omitempty"`
}

// StopRequest 是停止生成的请求体。
type StopRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// StopResult 兼容两种返回：布尔值，或 {success, conversationId, stoppedAt} 对象。
type StopResult struct {
	Stopped   bool
	StoppedAt string
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StopResult) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		s.Stopped = b
		return nil
	}
	var obj struct {
		Success   bool   `json:"success"`
		StoppedAt string `json:"stoppedAt"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Stopped = obj.Success
	s.StoppedAt = obj.StoppedAt
	return nil
}

// CreateConversationRequest 是创建会话的请求参数。
type CreateConversationRequest struct {
	Title  string `json:"title"`
	Model  string `json:"model"`
	UserID int64  `json:"-"` // 通过 query 传递
}
