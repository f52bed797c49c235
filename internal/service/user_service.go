package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"aihelper-go/internal/model"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/log"
)

// UserService 接口定义了个人资料与头像相关的操作。
type UserService interface {
	UpdateProfile(ctx context.Context, update api.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, currentPassword, newPassword string) error
	UploadAvatar(ctx context.Context, source string) (string, error)
	RefreshAvatarURL(ctx context.Context) (string, error)
	RefreshUserAvatarURL(ctx context.Context, userID int64) (string, error)
	GenerateAvatar(ctx context.Context, prompt string, forceReplace bool) (string, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	client *api.Client
	auth   AuthService
	images ImageLoader
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(client *api.Client, auth AuthService, images ImageLoader) UserService {
	return &userService{client: client, auth: auth, images: images}
}

// UpdateProfile 更新昵称、邮箱或手机号，并刷新本地缓存的用户。
func (s *userService) UpdateProfile(ctx context.Context, update api.ProfileUpdate) (*model.User, error) {
	resp, err := s.client.Users.UpdateProfile(ctx, update)
	if err != nil {
		return nil, s.auth.HandleError(ctx, err)
	}
	user := resp.Data
	if user.ID == 0 {
		// 后端没有返回完整资料时在缓存上合并修改
		cached := s.auth.User()
		if cached == nil {
			return nil, ErrNotAuthenticated
		}
		user = *cached
		if update.Nickname != "" {
			user.Nickname = update.Nickname
		}
		if update.Email != "" {
			user.Email = update.Email
		}
		if update.Mobile != "" {
			user.Mobile = update.Mobile
		}
	}
	s.auth.SetUser(user)
	return &user, nil
}

// ChangePassword 修改密码。
func (s *userService) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if _, err := s.client.Users.ChangePassword(ctx, api.PasswordChange{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}); err != nil {
		// 当前密码错误时后端返回业务码 401，不代表登录失效
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Kind == api.KindApplication {
			return err
		}
		return s.auth.HandleError(ctx, err)
	}
	log.Info("密码修改成功")
	return nil
}

// UploadAvatar 上传本地文件或 minio:// 对象作为头像，返回新的签名 URL。
func (s *userService) UploadAvatar(ctx context.Context, source string) (string, error) {
	img, err := s.images.Load(ctx, source)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Users.UploadAvatar(ctx, img.Name, bytes.NewReader(img.Data))
	if err != nil {
		return "", s.auth.HandleError(ctx, err)
	}
	s.setAvatar(resp.Data.AvatarURL)
	return resp.Data.AvatarURL, nil
}

// RefreshAvatarURL 刷新当前用户头像的签名 URL。
func (s *userService) RefreshAvatarURL(ctx context.Context) (string, error) {
	resp, err := s.client.Users.RefreshAvatarURL(ctx)
	if err != nil {
		return "", s.auth.HandleError(ctx, err)
	}
	s.setAvatar(resp.Data.AvatarURL)
	return resp.Data.AvatarURL, nil
}

// RefreshUserAvatarURL 刷新指定用户头像的签名 URL。
func (s *userService) RefreshUserAvatarURL(ctx context.Context, userID int64) (string, error) {
	resp, err := s.client.Users.RefreshUserAvatarURL(ctx, userID)
	if err != nil {
		return "", s.auth.HandleError(ctx, err)
	}
	return resp.Data.AvatarURL, nil
}

// GenerateAvatar 生成 AI 头像。
func (s *userService) GenerateAvatar(ctx context.Context, prompt string, forceReplace bool) (string, error) {
	resp, err := s.client.Users.GenerateAvatar(ctx, prompt, forceReplace)
	if err != nil {
		return "", s.auth.HandleError(ctx, err)
	}
	s.setAvatar(resp.Data.AvatarURL)
	return resp.Data.AvatarURL, nil
}

func (s *userService) setAvatar(url string) {
	if url == "" {
		return
	}
	if u := s.auth.User(); u != nil {
		u.Avatar = url
		s.auth.SetUser(*u)
	}
}

// AvatarRefresher 定期刷新头像签名 URL，签名 URL 有有效期。
type AvatarRefresher struct {
	users    UserService
	auth     AuthService
	interval time.Duration
	onChange func(url string)
}

// NewAvatarRefresher 创建 AvatarRefresher，interval 不大于 0 时使用 45 分钟。
func NewAvatarRefresher(users UserService, auth AuthService, interval time.Duration, onChange func(url string)) *AvatarRefresher {
	if interval <= 0 {
		interval = 45 * time.Minute
	}
	return &AvatarRefresher{users: users, auth: auth, interval: interval, onChange: onChange}
}

// Run 阻塞运行直到 ctx 被取消。未登录时跳过本次刷新。
func (r *AvatarRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *AvatarRefresher) refreshOnce(ctx context.Context) {
	if !r.auth.IsAuthenticated() {
		return
	}
	url, err := r.users.RefreshAvatarURL(ctx)
	if err != nil {
		log.Warnw("刷新头像 URL 失败", "error", err)
		return
	}
	if url != "" && r.onChange != nil {
		r.onChange(url)
	}
}
