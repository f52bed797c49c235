package handler

import (
	"net/http"
	"strconv"

	"aihelper-go/internal/middleware"
	"aihelper-go/internal/mockserver"
	"aihelper-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 签名 URL 的有效期说明，与 mockserver 的签名时长一致
const avatarExpiresIn = "3600"

// UserHandler 负责处理个人资料与头像相关的 API 请求。
type UserHandler struct {
	backend *mockserver.Backend
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(backend *mockserver.Backend) *UserHandler {
	return &UserHandler{backend: backend}
}

// GetProfile 获取当前登录用户的个人信息。
// 用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		failure(c, http.StatusInternalServerError, "无法获取用户信息")
		return
	}
	success(c, "success", user)
}

// ProfileRequest 定义了更新个人资料的请求体。
type ProfileRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
}

// UpdateProfile 更新昵称、邮箱或手机号。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	user, err := h.backend.UpdateProfile(middleware.CurrentUser(c).ID, req.Nickname, req.Email, req.Mobile)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "个人资料更新成功", user)
}

// PasswordRequest 定义了修改密码的请求体。
type PasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword 修改密码。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	if err := h.backend.ChangePassword(middleware.CurrentUser(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	success(c, "密码修改成功", nil)
}

// UploadAvatar 接收 multipart 表单中的 file 字段作为头像。
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "请选择要上传的图片文件")
		return
	}
	url, err := h.backend.SetAvatar(middleware.CurrentUser(c).ID, file.Filename, int(file.Size))
	if err != nil {
		fail(c, err)
		return
	}
	log.Infow("头像上传成功", "userId", middleware.CurrentUser(c).ID, "fileName", file.Filename)
	h.respondAvatar(c, "头像上传成功", url)
}

// RefreshAvatarURL 刷新当前用户头像的签名 URL。
func (h *UserHandler) RefreshAvatarURL(c *gin.Context) {
	url, err := h.backend.AvatarURL(middleware.CurrentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondAvatar(c, "头像URL已刷新", url)
}

// RefreshUserAvatarURL 刷新指定用户头像的签名 URL。
func (h *UserHandler) RefreshUserAvatarURL(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "无效的用户ID")
		return
	}
	url, err := h.backend.AvatarURL(id)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondAvatar(c, "头像URL已刷新", url)
}

// GenerateAvatar 随机生成 AI 头像。
func (h *UserHandler) GenerateAvatar(c *gin.Context) {
	url, err := h.backend.GenerateAvatar(middleware.CurrentUser(c).ID, "", true)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondAvatar(c, "AI头像生成成功", url)
}

// GenerateAvatarWithPrompt 按提示词生成 AI 头像。
func (h *UserHandler) GenerateAvatarWithPrompt(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		badRequest(c, "提示词不能为空")
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("forceReplace", "false"))
	url, err := h.backend.GenerateAvatar(middleware.CurrentUser(c).ID, prompt, force)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondAvatar(c, "AI头像生成成功", url)
}

// Deactivate 注销当前账号。
func (h *UserHandler) Deactivate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.backend.Deactivate(user.ID); err != nil {
		fail(c, err)
		return
	}
	log.Infow("账号已注销", "userId", user.ID)
	success(c, "账号已注销", nil)
}

func (h *UserHandler) respondAvatar(c *gin.Context, message, url string) {
	success(c, message, gin.H{"avatarUrl": url, "expiresIn": avatarExpiresIn})
}
