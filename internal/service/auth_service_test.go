package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/model"
	"aihelper-go/internal/service"
	"aihelper-go/pkg/api"
)

func TestLoginPersistsSession(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()

	if user.ID == 0 || user.Nickname != "Alice" || user.Role != "user" || user.Status != 1 {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !h.auth.IsAuthenticated() || h.auth.Token() == "" {
		t.Fatal("expected authenticated state with token")
	}
	session, err := h.sessions.Load(context.Background())
	if err != nil || session == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if !session.ExpiresAt.After(time.Now().Add(23 * time.Hour)) {
		t.Fatalf("session expires too early: %v", session.ExpiresAt)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	h.auth.Logout(context.Background())

	_, err := h.auth.Login(context.Background(), testEmail, "wrong-password", "email")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want code 401", err)
	}
	if h.auth.IsAuthenticated() {
		t.Fatal("failed login must not authenticate")
	}
}

func TestInitRestoresValidSession(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()

	// 新进程：同一份持久化凭证，新的 AuthService
	restored := service.NewAuthService(h.client, h.sessions)
	if err := restored.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !restored.IsAuthenticated() {
		t.Fatalf("state = %s", restored.State())
	}
	if u := restored.User(); u == nil || u.Username != testEmail {
		t.Fatalf("user = %+v", u)
	}
}

func TestInitWithExpiredSessionLogsOut(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	ctx := context.Background()
	if err := h.sessions.Save(ctx, model.Session{Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	if err := h.auth.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if h.auth.State() != service.StateUnauthenticated {
		t.Fatalf("state = %s", h.auth.State())
	}
	if s, _ := h.sessions.Load(ctx); s != nil {
		t.Fatalf("expired session not cleared: %+v", s)
	}
	if got := h.callCount(http.MethodGet, "/api/auth/verify-token"); got != 0 {
		t.Fatalf("verify-token calls = %d, want 0", got)
	}
}

func TestInitWithRejectedTokenLogsOut(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	ctx := context.Background()
	if err := h.sessions.Save(ctx, model.Session{Token: "forged", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if err := h.auth.Init(ctx); err == nil {
		t.Fatal("expected error for rejected token")
	}
	if h.auth.IsAuthenticated() {
		t.Fatal("rejected token must not authenticate")
	}
	if s, _ := h.sessions.Load(ctx); s != nil {
		t.Fatal("rejected session not cleared")
	}
}

func TestHandleErrorLogsOutOnUnauthorized(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()
	ctx := context.Background()

	notified := 0
	h.auth.OnLogout(func() { notified++ })

	// 注销账号后旧 token 被中间件拒绝
	if err := h.backend.Deactivate(user.ID); err != nil {
		t.Fatal(err)
	}
	err := h.conversations.FetchConversations(ctx)
	if !errors.Is(err, api.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if h.auth.IsAuthenticated() || h.auth.User() != nil {
		t.Fatal("expected logout after 401")
	}
	if notified != 1 {
		t.Fatalf("logout listeners called %d times", notified)
	}
	if s, _ := h.sessions.Load(ctx); s != nil {
		t.Fatal("session not cleared after 401")
	}
}

func TestVerificationCodeRoundTrip(t *testing.T) {
	h := newHarness(t, mockserver.Options{EchoCodes: true})
	ctx := context.Background()

	code, err := h.auth.GetVerificationCode(ctx, "register", "bob@example.com")
	if err != nil {
		t.Fatalf("GetVerificationCode: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q", code)
	}
	user, err := h.auth.Register(ctx, service.RegisterInput{
		Email:    "bob@example.com",
		Password: "pass1234",
		Code:     code,
		Nickname: "Bob",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "bob@example.com" || !h.auth.IsAuthenticated() {
		t.Fatalf("unexpected state after register: %+v", user)
	}
}

func TestVerificationCodeNotEchoed(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	code, err := h.auth.GetVerificationCode(context.Background(), "login", "13800138000")
	if err != nil {
		t.Fatalf("GetVerificationCode: %v", err)
	}
	if code != "" {
		t.Fatalf("code = %q, want empty", code)
	}
	if _, err := h.auth.GetVerificationCode(context.Background(), "login", ""); !errors.Is(err, service.ErrEmptyContact) {
		t.Fatalf("err = %v, want ErrEmptyContact", err)
	}
}

func TestExtractVerificationCode(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		message string
		raw     string
		want    string
	}{
		{"message suffix", "", "验证码已发送123456", `{"message":"验证码已发送123456"}`, "123456"},
		{"data code", `{"message":"验证码已发送","code":"654321"}`, "验证码已发送", "", "654321"},
		{"numeric data code", `{"code":4321}`, "", "", "4321"},
		{"bare string", `"987654"`, "", "", "987654"},
		{"raw only", "", "", `{"result":{"code":"112233"}}`, "112233"},
		{"none", `{"message":"验证码已发送"}`, "验证码已发送", `{"code":200,"message":"验证码已发送"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var data json.RawMessage
			if tc.data != "" {
				data = json.RawMessage(tc.data)
			}
			if got := service.ExtractVerificationCode(data, tc.message, []byte(tc.raw)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoginWithCode(t *testing.T) {
	h := newHarness(t, mockserver.Options{EchoCodes: true})
	h.signUp()
	ctx := context.Background()
	h.auth.Logout(ctx)

	if _, err := h.auth.LoginWithCode(ctx, "", ""); !errors.Is(err, service.ErrCodeLoginIncomplete) {
		t.Fatalf("err = %v", err)
	}
	code, err := h.auth.GetVerificationCode(ctx, "login", testEmail)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.auth.LoginWithCode(ctx, testEmail, code); err != nil {
		t.Fatalf("LoginWithCode: %v", err)
	}
	if !h.auth.IsAuthenticated() {
		t.Fatal("expected authenticated")
	}
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t, mockserver.Options{EchoCodes: true})
	h.signUp()
	ctx := context.Background()
	h.auth.Logout(ctx)

	code, err := h.auth.GetVerificationCode(ctx, "reset", testEmail)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.auth.ResetPassword(ctx, testEmail, code, "newpass99"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := h.auth.Login(ctx, testEmail, "newpass99", "email"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
