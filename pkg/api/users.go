package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"aihelper-go/internal/model"
)

// UsersAPI 封装 /api/users 接口。
type UsersAPI struct {
	c *Client
}

// Me 获取当前用户信息。
func (u *UsersAPI) Me(ctx context.Context) (*Response[model.User], error) {
	return doJSON[model.User](ctx, u.c, http.MethodGet, "/api/users/me", nil)
}

// UpdateProfile 更新个人资料。
func (u *UsersAPI) UpdateProfile(ctx context.Context, req ProfileUpdate) (*Response[model.User], error) {
	return doJSON[model.User](ctx, u.c, http.MethodPut, "/api/users/profile", req)
}

// ChangePassword 修改密码。
func (u *UsersAPI) ChangePassword(ctx context.Context, req PasswordChange) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, u.c, http.MethodPut, "/api/users/password", req)
}

// UploadAvatar 以 multipart 上传头像。
func (u *UsersAPI) UploadAvatar(ctx context.Context, fileName string, file io.Reader) (*Response[AvatarURL], error) {
	return doMultipart[AvatarURL](ctx, u.c, "/api/users/avatar", "file", fileName, file)
}

// RefreshAvatarURL 刷新当前用户头像的签名 URL。
func (u *UsersAPI) RefreshAvatarURL(ctx context.Context) (*Response[AvatarURL], error) {
	return doJSON[AvatarURL](ctx, u.c, http.MethodGet, "/api/users/refresh-avatar-url", nil)
}

// RefreshUserAvatarURL 刷新指定用户头像的签名 URL。
func (u *UsersAPI) RefreshUserAvatarURL(ctx context.Context, userID int64) (*Response[AvatarURL], error) {
	return doJSON[AvatarURL](ctx, u.c, http.MethodGet, fmt.Sprintf("/api/users/%d/refresh-avatar-url", userID), nil)
}

// Deactivate 注销账号。
func (u *UsersAPI) Deactivate(ctx context.Context) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, u.c, http.MethodPost, "/api/users/deactivate", nil)
}

// GenerateAvatar 生成 AI 头像，prompt 为空时由后端随机生成。
func (u *UsersAPI) GenerateAvatar(ctx context.Context, prompt string, forceReplace bool) (*Response[AvatarURL], error) {
	if prompt == "" {
		return doJSON[AvatarURL](ctx, u.c, http.MethodPost, "/api/users/generate-avatar", nil)
	}
	q := url.Values{}
	q.Set("prompt", prompt)
	if forceReplace {
		q.Set("forceReplace", "true")
	}
	return doJSON[AvatarURL](ctx, u.c, http.MethodPost, "/api/users/generate-avatar-with-prompt?"+q.Encode(), nil)
}
