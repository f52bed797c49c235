package service_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/service"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/storage"
)

func TestUpdateProfileRefreshesCachedUser(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()

	user, err := h.users.UpdateProfile(context.Background(), api.ProfileUpdate{Nickname: "小艾", Mobile: "13900139000"})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Nickname != "小艾" || user.Mobile != "13900139000" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if cached := h.auth.User(); cached.Nickname != "小艾" {
		t.Fatalf("cache not updated: %+v", cached)
	}
}

func TestChangePasswordWrongCurrentKeepsSession(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	ctx := context.Background()

	err := h.users.ChangePassword(ctx, "not-my-password", "another1")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "当前密码错误" {
		t.Fatalf("err = %v", err)
	}
	if !h.auth.IsAuthenticated() {
		t.Fatal("wrong current password must not log out")
	}

	if err := h.users.ChangePassword(ctx, testPassword, "another1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
}

func TestUploadAvatarFromFile(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()

	path := filepath.Join(t.TempDir(), "me.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0o600); err != nil {
		t.Fatal(err)
	}
	url, err := h.users.UploadAvatar(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadAvatar: %v", err)
	}
	if !strings.Contains(url, "avatars/") || !strings.HasSuffix(strings.Split(url, "?")[0], "me.png") {
		t.Fatalf("url = %q", url)
	}
	if h.auth.User().Avatar != url {
		t.Fatalf("cached avatar = %q", h.auth.User().Avatar)
	}

	refreshed, err := h.users.RefreshAvatarURL(context.Background())
	if err != nil {
		t.Fatalf("RefreshAvatarURL: %v", err)
	}
	if !strings.Contains(refreshed, "avatars/") {
		t.Fatalf("refreshed = %q", refreshed)
	}
}

func TestUploadAvatarFromMinIOWithoutClient(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	if _, err := h.users.UploadAvatar(context.Background(), storage.Scheme+"bucket/avatar.png"); err == nil {
		t.Fatal("expected error without minio client")
	}
	if got := h.callCount(http.MethodPost, "/api/users/avatar"); got != 0 {
		t.Fatalf("avatar uploads = %d", got)
	}
}

func TestGenerateAvatar(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	ctx := context.Background()

	first, err := h.users.GenerateAvatar(ctx, "", false)
	if err != nil {
		t.Fatalf("GenerateAvatar: %v", err)
	}
	kept, err := h.users.GenerateAvatar(ctx, "一只猫", false)
	if err != nil {
		t.Fatalf("GenerateAvatar with prompt: %v", err)
	}
	if objectKey(kept) != objectKey(first) {
		t.Fatalf("avatar replaced without force: %q vs %q", kept, first)
	}
	replaced, err := h.users.GenerateAvatar(ctx, "一只猫", true)
	if err != nil {
		t.Fatal(err)
	}
	if objectKey(replaced) == objectKey(first) {
		t.Fatal("forced generation kept the old avatar")
	}
}

func objectKey(url string) string {
	return strings.Split(url, "?")[0]
}

func TestAvatarRefresherReportsURL(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()
	if _, err := h.backend.GenerateAvatar(user.ID, "", true); err != nil {
		t.Fatal(err)
	}

	urls := make(chan string, 4)
	refresher := service.NewAvatarRefresher(h.users, h.auth, 10*time.Millisecond, func(url string) { urls <- url })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refresher.Run(ctx)

	select {
	case url := <-urls:
		if !strings.Contains(url, "avatars/") {
			t.Fatalf("url = %q", url)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("refresher never reported a url")
	}
	cancel()
}
