package handler

import (
	"strings"
	"time"

	"aihelper-go/internal/middleware"
	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/model"
	"aihelper-go/pkg/log"
	"aihelper-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthHandler 处理登录、注册、验证码相关的请求。
type AuthHandler struct {
	backend    *mockserver.Backend
	jwtManager *token.JWTManager
}

// NewAuthHandler 创建一个新的 AuthHandler。
func NewAuthHandler(backend *mockserver.Backend, jwtManager *token.JWTManager) *AuthHandler {
	return &AuthHandler{backend: backend, jwtManager: jwtManager}
}

// LoginRequest 定义了密码登录的请求体。
type LoginRequest struct {
	Account   string `json:"account" binding:"required"`
	Password  string `json:"password" binding:"required"`
	LoginType string `json:"loginType"`
}

// Login 处理密码登录请求。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "账号和密码不能为空")
		return
	}
	user, err := h.backend.Login(strings.TrimSpace(req.Account), req.Password)
	if err != nil {
		log.Warnw("登录失败", "account", req.Account, "error", err)
		fail(c, err)
		return
	}
	h.respondWithToken(c, user, "登录成功")
}

// CodeLoginRequest 定义了验证码登录的请求体。
type CodeLoginRequest struct {
	Type    string `json:"type"`
	Account string `json:"account" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

// LoginWithCode 处理验证码登录请求。
func (h *AuthHandler) LoginWithCode(c *gin.Context) {
	var req CodeLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "账号和验证码不能为空")
		return
	}
	user, err := h.backend.LoginWithCode(strings.TrimSpace(req.Account), req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondWithToken(c, user, "登录成功")
}

// RegisterRequest 定义了注册的请求体。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required_without=Mobile"`
	Mobile   string `json:"mobile" binding:"required_without=Email"`
	Password string `json:"password" binding:"required"`
	Nickname string `json:"nickname"`
	Code     string `json:"code" binding:"required"`
}

// Register 处理注册请求。
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "注册信息不完整")
		return
	}
	user, err := h.backend.Register(req.Email, req.Mobile, req.Password, req.Nickname, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	log.Infow("用户注册成功", "userId", user.ID, "username", user.Username)
	h.respondWithToken(c, user, "注册成功")
}

// ResetPasswordRequest 定义了重置密码的请求体。
type ResetPasswordRequest struct {
	Account          string `json:"account" binding:"required"`
	VerificationCode string `json:"verificationCode" binding:"required"`
	NewPassword      string `json:"newPassword" binding:"required"`
}

// ResetPassword 处理重置密码请求。
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "账号、验证码和新密码不能为空")
		return
	}
	if err := h.backend.ResetPassword(req.Account, req.VerificationCode, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	success(c, "密码重置成功", nil)
}

// VerifyToken 返回当前 token 的状态，token 无效时已被中间件拦截。
func (h *AuthHandler) VerifyToken(c *gin.Context) {
	user := middleware.CurrentUser(c)
	claims, _ := c.MustGet("claims").(*token.CustomClaims)
	var expiresIn int64
	if claims != nil && claims.ExpiresAt != nil {
		expiresIn = int64(time.Until(claims.ExpiresAt.Time).Seconds())
	}
	success(c, "success", gin.H{
		"valid":     true,
		"username":  user.Username,
		"message":   "令牌有效",
		"expiresIn": expiresIn,
	})
}

// VerificationCodeRequest 定义了获取验证码的请求体。
type VerificationCodeRequest struct {
	Type    string `json:"type" binding:"required"`
	Account string `json:"account"`
	Email   string `json:"email"`
	Mobile  string `json:"mobile"`
}

// SendCode 生成验证码。开发模式下在响应中回显验证码。
func (h *AuthHandler) SendCode(c *gin.Context) {
	var req VerificationCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "验证码类型不能为空")
		return
	}
	account := req.Account
	if account == "" {
		account = req.Email
	}
	if account == "" {
		account = req.Mobile
	}
	code, err := h.backend.SendCode(account, req.Type)
	if err != nil {
		fail(c, err)
		return
	}
	data := gin.H{"message": "验证码已发送"}
	if h.backend.EchoCodes() {
		data["code"] = code
	}
	success(c, "验证码已发送", data)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, user *model.User, message string) {
	tokenString, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, message, gin.H{
		"userId":   user.ID,
		"username": user.Username,
		"nickname": user.Nickname,
		"email":    user.Email,
		"mobile":   user.Mobile,
		"avatar":   user.Avatar,
		"token":    tokenString,
	})
}
