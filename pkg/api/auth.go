package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// AuthAPI 封装 /api/auth 与 /api/verification 接口。
type AuthAPI struct {
	c *Client
}

// Login 密码登录。
func (a *AuthAPI) Login(ctx context.Context, req LoginRequest) (*Response[AuthResponse], error) {
	return doJSON[AuthResponse](ctx, a.c, http.MethodPost, "/api/auth/login", req)
}

// LoginWithCode 验证码登录。
func (a *AuthAPI) LoginWithCode(ctx context.Context, req CodeLoginRequest) (*Response[AuthResponse], error) {
	return doJSON[AuthResponse](ctx, a.c, http.MethodPost, "/api/auth/login/code", req)
}

// Register 用户注册。
func (a *AuthAPI) Register(ctx context.Context, req RegisterRequest) (*Response[AuthResponse], error) {
	return doJSON[AuthResponse](ctx, a.c, http.MethodPost, "/api/auth/register", req)
}

// ResetPassword 重置密码。
func (a *AuthAPI) ResetPassword(ctx context.Context, req PasswordResetRequest) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, a.c, http.MethodPost, "/api/auth/reset-password", req)
}

// VerifyToken 验证令牌有效性。
func (a *AuthAPI) VerifyToken(ctx context.Context) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, a.c, http.MethodGet, "/api/auth/verify-token", nil)
}

// GetVerificationCode 获取验证码。
// 返回的 data 结构不固定，调用方需要自行从 Data/Message/Raw 中提取验证码。
func (a *AuthAPI) GetVerificationCode(ctx context.Context, req VerificationCodeRequest) (*Response[json.RawMessage], error) {
	body := VerificationCodeRequest{Type: req.Type, Code: req.Code}
	switch {
	case req.Account != "":
		body.Account = req.Account
	case req.Email != "":
		body.Email = req.Email
	case req.Mobile != "":
		body.Mobile = req.Mobile
	}
	return doJSON[json.RawMessage](ctx, a.c, http.MethodPost, "/api/verification/code", body)
}
