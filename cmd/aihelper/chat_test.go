package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aihelper-go/internal/handler"
	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/model"
	"aihelper-go/internal/repository"
	"aihelper-go/internal/service"
	"aihelper-go/internal/store"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// newTestApp 把 app 连接到 httptest 上的模拟后端，并登录一个用户。
func newTestApp(t *testing.T, opts mockserver.Options) (*app, *mockserver.Backend, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := mockserver.NewBackend(opts)
	srv := httptest.NewServer(handler.NewRouter(backend, token.NewJWTManager("test-secret", 24)))
	t.Cleanup(srv.Close)

	out := &bytes.Buffer{}
	ids := &model.SequenceIDGenerator{}
	a := &app{out: out, images: service.NewImageLoader(nil)}
	a.client = api.New(api.Options{BaseURL: srv.URL, Timeout: 10 * time.Second})
	a.auth = service.NewAuthService(a.client, repository.NewMemorySessionRepository())
	a.store = store.New("deepseek-r1")
	a.conversations = service.NewConversationService(a.client, a.auth, a.store, ids, "zh")
	a.chat = service.NewChatService(a.client, a.auth, a.conversations, a.store, ids)

	code, err := backend.SendCode("cli@example.com", "register")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Register("cli@example.com", "", "secret123", "Cli", code); err != nil {
		t.Fatal(err)
	}
	if _, err := a.auth.Login(context.Background(), "cli@example.com", "secret123", "email"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return a, backend, out
}

func TestInterruptStopsServerGeneration(t *testing.T) {
	a, backend, out := newTestApp(t, mockserver.Options{ReplyDelay: 10 * time.Second})
	interrupts := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() {
		done <- a.sendAndWait(context.Background(), "写一篇很长的文章", nil, interrupts)
	}()

	deadline := time.Now().Add(5 * time.Second)
	var convID int64
	for convID == 0 || !backend.InFlight(convID) {
		if time.Now().After(deadline) {
			t.Fatal("generation never started on server")
		}
		time.Sleep(5 * time.Millisecond)
		convID = a.store.ActiveID()
	}

	interrupts <- os.Interrupt
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sendAndWait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after interrupt")
	}
	if backend.InFlight(convID) {
		t.Fatal("server generation still in flight")
	}
	if !strings.Contains(out.String(), "已停止生成") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestImageCommand(t *testing.T) {
	var out bytes.Buffer
	a := &app{out: &out, images: service.NewImageLoader(nil)}
	ctx := context.Background()
	var pending *service.Image

	if _, err := a.command(ctx, "/image", &pending, false, nil); !errors.Is(err, errImageUsage) {
		t.Fatalf("err = %v, want usage error", err)
	}

	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.command(ctx, "/image "+path, &pending, false, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if pending == nil || pending.Name != "cat.png" {
		t.Fatalf("pending = %+v", pending)
	}

	if _, err := a.command(ctx, "/image", &pending, false, nil); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if pending != nil {
		t.Fatal("attachment not removed")
	}
	if !strings.Contains(out.String(), "已移除附加图片") {
		t.Fatalf("output = %q", out.String())
	}
}
