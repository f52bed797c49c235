// Package service 包含了客户端的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"aihelper-go/internal/model"
	"aihelper-go/internal/repository"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/log"
	"aihelper-go/pkg/token"
)

// AuthState 是登录状态机的状态。
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateLoading
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// 登录状态保留一天
const loginExpiration = 24 * time.Hour

// RegisterInput 是注册所需的信息，Email 与 Mobile 至少填一个。
type RegisterInput struct {
	Email    string
	Mobile   string
	Password string
	Code     string
	Nickname string
}

// AuthService 管理 token 生命周期、会话过期和当前用户缓存。
// 它同时实现 api.TokenSource，为每个请求提供 bearer token。
type AuthService interface {
	Init(ctx context.Context) error
	Login(ctx context.Context, account, password, loginType string) (*model.User, error)
	LoginWithCode(ctx context.Context, account, code string) (*model.User, error)
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	ResetPassword(ctx context.Context, account, code, newPassword string) error
	GetVerificationCode(ctx context.Context, codeType, contact string) (string, error)
	UpdateUserInfo(ctx context.Context) (*model.User, error)
	Logout(ctx context.Context)
	DeactivateAccount(ctx context.Context) error
	HandleError(ctx context.Context, err error) error
	OnLogout(fn func())
	SetUser(u model.User)

	State() AuthState
	IsAuthenticated() bool
	User() *model.User
	Token() string
}

// AuthOption 配置 authService。
type AuthOption func(*authService)

// WithClock 替换当前时间来源，测试中使用。
func WithClock(now func() time.Time) AuthOption {
	return func(s *authService) { s.now = now }
}

type authService struct {
	client   *api.Client
	sessions repository.SessionRepository
	now      func() time.Time

	mu        sync.RWMutex
	state     AuthState
	session   *model.Session
	user      *model.User
	listeners []func()
}

// NewAuthService 创建一个新的 AuthService，并把自己设置为 client 的 token 来源。
func NewAuthService(client *api.Client, sessions repository.SessionRepository, opts ...AuthOption) AuthService {
	s := &authService{
		client:   client,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	client.SetTokenSource(s)
	return s
}

// Init 从持久化存储恢复登录状态。
// 没有保存的凭证时保持未登录；凭证过期或校验失败时注销。
func (s *authService) Init(ctx context.Context) error {
	session, err := s.sessions.Load(ctx)
	if err != nil {
		log.Warnw("读取登录凭证失败", "error", err)
		s.Logout(ctx)
		return nil
	}
	if session == nil {
		s.setState(StateUnauthenticated)
		return nil
	}
	if !session.Valid(s.now()) {
		log.Infow("登录凭证已过期", "expiresAt", session.ExpiresAt)
		s.Logout(ctx)
		return nil
	}

	s.mu.Lock()
	s.session = session
	s.state = StateLoading
	s.mu.Unlock()

	if _, err := s.UpdateUserInfo(ctx); err != nil {
		return err
	}
	return nil
}

// Login 使用账号密码登录。
func (s *authService) Login(ctx context.Context, account, password, loginType string) (*model.User, error) {
	resp, err := s.client.Auth.Login(ctx, api.LoginRequest{Account: account, Password: password, LoginType: loginType})
	if err != nil {
		log.Warnw("登录失败", "account", account, "error", err)
		return nil, err
	}
	return s.saveAuthData(ctx, resp.Data)
}

// LoginWithCode 使用验证码登录，account 可以是手机号或邮箱。
func (s *authService) LoginWithCode(ctx context.Context, account, code string) (*model.User, error) {
	if account == "" || code == "" {
		return nil, ErrCodeLoginIncomplete
	}
	resp, err := s.client.Auth.LoginWithCode(ctx, api.CodeLoginRequest{Type: "login", Account: account, Code: code})
	if err != nil {
		log.Warnw("验证码登录失败", "account", account, "error", err)
		return nil, err
	}
	return s.saveAuthData(ctx, resp.Data)
}

// Register 注册新用户并直接登录。
func (s *authService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if (in.Email == "" && in.Mobile == "") || in.Password == "" || in.Code == "" {
		return nil, ErrRegistrationIncomplete
	}
	resp, err := s.client.Auth.Register(ctx, api.RegisterRequest{
		Email:    in.Email,
		Mobile:   in.Mobile,
		Password: in.Password,
		Nickname: in.Nickname,
		Code:     in.Code,
	})
	if err != nil {
		log.Warnw("注册失败", "email", in.Email, "mobile", in.Mobile, "error", err)
		return nil, err
	}
	return s.saveAuthData(ctx, resp.Data)
}

// ResetPassword 使用验证码重置密码。
func (s *authService) ResetPassword(ctx context.Context, account, code, newPassword string) error {
	if _, err := s.client.Auth.ResetPassword(ctx, api.PasswordResetRequest{
		Account:          account,
		VerificationCode: code,
		NewPassword:      newPassword,
	}); err != nil {
		return err
	}
	log.Infow("密码重置成功", "account", account)
	return nil
}

// GetVerificationCode 请求发送验证码，并尽量从响应中提取验证码。
// 后端不回显验证码时返回空串，不视为错误。
func (s *authService) GetVerificationCode(ctx context.Context, codeType, contact string) (string, error) {
	if contact == "" {
		return "", ErrEmptyContact
	}
	resp, err := s.client.Auth.GetVerificationCode(ctx, api.VerificationCodeRequest{Type: codeType, Account: contact})
	if err != nil {
		return "", err
	}
	code := ExtractVerificationCode(resp.Data, resp.Message, resp.Raw)
	log.Infow("验证码已发送", "type", codeType, "contact", contact, "echoed", code != "")
	return code, nil
}

// UpdateUserInfo 校验 token 并重新获取用户信息，任何失败都会注销。
func (s *authService) UpdateUserInfo(ctx context.Context) (*model.User, error) {
	if _, err := s.client.Auth.VerifyToken(ctx); err != nil {
		log.Warnw("令牌验证失败", "error", err)
		s.Logout(ctx)
		return nil, err
	}
	resp, err := s.client.Users.Me(ctx)
	if err != nil {
		log.Warnw("获取用户信息失败", "error", err)
		s.Logout(ctx)
		return nil, err
	}
	if resp.Data.ID == 0 {
		s.Logout(ctx)
		return nil, errors.New("用户信息响应格式不正确")
	}

	user := resp.Data
	s.mu.Lock()
	s.user = &user
	s.state = StateAuthenticated
	s.mu.Unlock()
	return s.User(), nil
}

// Logout 清除持久化凭证与用户缓存，并通知监听者。
func (s *authService) Logout(ctx context.Context) {
	if err := s.sessions.Clear(ctx); err != nil {
		log.Warnw("清除登录凭证失败", "error", err)
	}

	s.mu.Lock()
	wasAuthenticated := s.state != StateUnauthenticated || s.session != nil
	s.session = nil
	s.user = nil
	s.state = StateUnauthenticated
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if wasAuthenticated {
		for _, fn := range listeners {
			fn()
		}
	}
}

// DeactivateAccount 注销账号，成功后退出登录。
func (s *authService) DeactivateAccount(ctx context.Context) error {
	if _, err := s.client.Users.Deactivate(ctx); err != nil {
		return err
	}
	s.Logout(ctx)
	return nil
}

// HandleError 是登录失效的唯一处理入口：err 表示 401 时注销。原样返回 err。
func (s *authService) HandleError(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrAuthExpired) {
		log.Infow("登录状态已失效，自动注销")
		s.Logout(ctx)
	}
	return err
}

// OnLogout 注册注销回调。
func (s *authService) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetUser 用最新的用户资料替换缓存。
func (s *authService) SetUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		s.user = &u
	}
}

func (s *authService) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *authService) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// User 返回当前用户的副本，未登录时返回 nil。
func (s *authService) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token implements api.TokenSource. 会话过期后不再发送 token。
func (s *authService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.Valid(s.now()) {
		return ""
	}
	return s.session.Token
}

func (s *authService) setState(state AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// saveAuthData 持久化 token 并直接用登录响应填充用户，不再额外请求。
func (s *authService) saveAuthData(ctx context.Context, auth api.AuthResponse) (*model.User, error) {
	if auth.Token == "" {
		return nil, errors.New("登录响应中缺少 token")
	}
	now := s.now()
	session := model.Session{Token: auth.Token, ExpiresAt: s.sessionExpiry(auth.Token, now)}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	created := model.LocalTime(now)
	user := &model.User{
		ID:        auth.UserID,
		Username:  auth.Username,
		Nickname:  auth.Nickname,
		Email:     auth.Email,
		Mobile:    auth.Mobile,
		Avatar:    auth.Avatar,
		Status:    1,
		Role:      "user",
		CreatedAt: created,
		UpdatedAt: created,
	}

	s.mu.Lock()
	s.session = &session
	s.user = user
	s.state = StateAuthenticated
	s.mu.Unlock()

	log.Infow("登录成功", "userId", auth.UserID, "username", auth.Username, "expiresAt", session.ExpiresAt)
	return s.User(), nil
}

// sessionExpiry 默认保留 24 小时，token 自带更早的 exp 时以 exp 为准。
func (s *authService) sessionExpiry(tokenString string, now time.Time) time.Time {
	expiry := now.Add(loginExpiration)
	if exp, ok := token.ExpiresAt(tokenString); ok && exp.Before(expiry) {
		return exp
	}
	return expiry
}

var (
	codeOnlyPattern   = regexp.MustCompile(`^\d{4,6}$`)
	codeInTextPattern = regexp.MustCompile(`(?:^|\D)(\d{4,6})(?:\D|$)`)
	codeInJSONPattern = regexp.MustCompile(`"code"\s*:\s*"?(\d{4,6})"?`)
)

// ExtractVerificationCode 依次从结构化字段、message 文本和完整响应中查找 4 到 6 位验证码。
// 找不到时返回空串。
func ExtractVerificationCode(data json.RawMessage, message string, raw []byte) string {
	if code := codeFromData(data); code != "" {
		return code
	}
	if m := codeInTextPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if m := codeInJSONPattern.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	if m := codeInTextPattern.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	return ""
}

func codeFromData(data json.RawMessage) string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if codeOnlyPattern.MatchString(str) {
			return str
		}
		return ""
	}
	var obj struct {
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || len(obj.Code) == 0 {
		return ""
	}
	// code 可能是字符串也可能是数字
	code := strings.Trim(string(obj.Code), `"`)
	if codeOnlyPattern.MatchString(code) {
		return code
	}
	return ""
}
