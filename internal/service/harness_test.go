package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
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

const (
	testEmail    = "alice@example.com"
	testPassword = "secret123"
)

// harness 把全部服务连接到 httptest 上的模拟后端。
type harness struct {
	t        *testing.T
	backend  *mockserver.Backend
	srv      *httptest.Server
	client   *api.Client
	sessions repository.SessionRepository
	store    *store.Store
	ids      *model.SequenceIDGenerator

	auth          service.AuthService
	conversations service.ConversationService
	chat          service.ChatService
	users         service.UserService
	events        *eventRecorder

	mu        sync.Mutex
	calls     map[string]int
	intercept func(w http.ResponseWriter, r *http.Request) bool
}

type eventRecorder struct {
	mu     sync.Mutex
	events []service.TurnEvent
}

func (r *eventRecorder) publish(_ context.Context, ev service.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) all() []service.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.TurnEvent(nil), r.events...)
}

func newHarness(t *testing.T, opts mockserver.Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		t:        t,
		backend:  mockserver.NewBackend(opts),
		sessions: repository.NewMemorySessionRepository(),
		ids:      &model.SequenceIDGenerator{},
		calls:    make(map[string]int),
		events:   &eventRecorder{},
	}
	router := handler.NewRouter(h.backend, token.NewJWTManager("test-secret", 24))
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.calls[r.Method+" "+r.URL.Path]++
		intercept := h.intercept
		h.mu.Unlock()
		if intercept != nil && intercept(w, r) {
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(h.srv.Close)

	h.client = api.New(api.Options{BaseURL: h.srv.URL, Timeout: 10 * time.Second})
	h.store = store.New("deepseek-r1")
	h.auth = service.NewAuthService(h.client, h.sessions)
	h.conversations = service.NewConversationService(h.client, h.auth, h.store, h.ids, "zh")
	h.chat = service.NewChatService(h.client, h.auth, h.conversations, h.store, h.ids,
		service.WithPublisher(service.FuncPublisher(h.events.publish)))
	h.users = service.NewUserService(h.client, h.auth, service.NewImageLoader(nil))
	return h
}

func (h *harness) setIntercept(f func(w http.ResponseWriter, r *http.Request) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.intercept = f
}

func (h *harness) callCount(method, path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method+" "+path]
}

// signUp 直接在后端注册用户，然后通过客户端登录。
func (h *harness) signUp() *model.User {
	h.t.Helper()
	code, err := h.backend.SendCode(testEmail, "register")
	if err != nil {
		h.t.Fatalf("SendCode: %v", err)
	}
	if _, err := h.backend.Register(testEmail, "", testPassword, "Alice", code); err != nil {
		h.t.Fatalf("Register: %v", err)
	}
	user, err := h.auth.Login(context.Background(), testEmail, testPassword, "email")
	if err != nil {
		h.t.Fatalf("Login: %v", err)
	}
	return user
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// waitFor 轮询直到 cond 成立，超时则失败。
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastMessages(msgs []model.Message, n int) []model.Message {
	if len(msgs) < n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
