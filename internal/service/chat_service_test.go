package service_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/model"
	"aihelper-go/internal/service"
	"aihelper-go/pkg/api"
)

func hiThere(_ context.Context, history []model.Message, _ bool) (string, string, error) {
	prompt := history[len(history)-1].Content
	if prompt == "Hello" {
		return "Hi there", "", nil
	}
	return "echo: " + prompt, "", nil
}

func TestSendCreatesConversationThenChats(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()

	result, err := h.chat.Send(ctx, "Hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Outcome != service.OutcomeCompleted {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if got := h.callCount(http.MethodPost, "/api/conversations"); got != 1 {
		t.Fatalf("create calls = %d, want 1", got)
	}
	if got := h.callCount(http.MethodPost, "/api/chat"); got != 1 {
		t.Fatalf("chat calls = %d, want 1", got)
	}

	snap := h.conversations.Snapshot()
	if snap.ActiveID == 0 || snap.ActiveID != result.ConversationID {
		t.Fatalf("active id = %d, result conversation = %d", snap.ActiveID, result.ConversationID)
	}
	if snap.Title != "Hello" {
		t.Fatalf("title = %q, want Hello", snap.Title)
	}
	tail := lastMessages(snap.Messages, 2)
	if len(tail) != 2 ||
		tail[0].Role != model.RoleUser || tail[0].Content != "Hello" ||
		tail[1].Role != model.RoleAssistant || tail[1].Content != "Hi there" {
		t.Fatalf("unexpected transcript tail: %+v", tail)
	}
	if tail[0].ID >= 0 {
		t.Fatalf("optimistic user message id = %d, want negative", tail[0].ID)
	}
	if tail[1].ID <= 0 {
		t.Fatalf("assistant message id = %d, want server id", tail[1].ID)
	}

	events := h.events.all()
	if len(events) != 1 || events[0].Outcome != service.OutcomeCompleted || events[0].Response != "Hi there" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestCreateFailureSkipsChat(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost && r.URL.Path == "/api/conversations" {
			writeEnvelope(w, http.StatusInternalServerError, `{"code":500,"message":"数据库不可用"}`)
			return true
		}
		return false
	})

	_, err := h.chat.Send(context.Background(), "Hello", nil)
	if err == nil {
		t.Fatal("expected error when conversation creation fails")
	}
	if got := h.callCount(http.MethodPost, "/api/chat"); got != 0 {
		t.Fatalf("chat calls = %d, want 0", got)
	}
	if h.store.Generating() {
		t.Fatal("generating flag left set")
	}
}

func TestSendReplacesImagesOnOptimisticMessage(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	result, err := h.chat.Send(ctx, "看看这张图", &service.Image{Name: "cat.png", Data: png})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.UserMessage == nil {
		t.Fatal("missing user message")
	}

	for _, m := range h.conversations.Snapshot().Messages {
		if m.ID != result.UserMessage.ID {
			if len(m.Images) != 0 {
				t.Fatalf("message %d unexpectedly has images", m.ID)
			}
			continue
		}
		if !m.HasImages || len(m.Images) != 1 {
			t.Fatalf("user message images = %+v", m.Images)
		}
		if m.Images[0].IsPreview() || !strings.HasPrefix(m.Images[0].SignedURL, "https://") {
			t.Fatalf("image not replaced by signed url: %q", m.Images[0].SignedURL)
		}
		return
	}
	t.Fatalf("user message %d not found", result.UserMessage.ID)
}

func TestSendFailureAppendsAssistantError(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat" {
			writeEnvelope(w, http.StatusOK, `{"code":500,"message":"处理聊天请求时出错: 模型超时"}`)
			return true
		}
		return false
	})

	result, err := h.chat.Send(context.Background(), "Hello", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result == nil || result.Outcome != service.OutcomeFailed || result.Assistant == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	last := lastMessages(h.conversations.Snapshot().Messages, 1)[0]
	if last.Role != model.RoleAssistant || !strings.Contains(last.Content, "模型超时") {
		t.Fatalf("last message = %+v", last)
	}
	if last.ID >= 0 {
		t.Fatalf("error message id = %d, want temporary", last.ID)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	if _, err := h.chat.Send(context.Background(), "   ", nil); !errors.Is(err, service.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestRegenerateDoesNotDuplicateUserMessage(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()

	first, err := h.chat.Send(ctx, "Hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := h.chat.Regenerate(ctx, first.Assistant.ID)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if second.UserMessage != nil {
		t.Fatalf("regenerate inserted a user message: %+v", second.UserMessage)
	}

	users := 0
	for _, m := range h.conversations.Snapshot().Messages {
		if m.Role == model.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("user messages = %d, want 1", users)
	}
	if _, err := h.chat.Regenerate(ctx, first.UserMessage.ID); !errors.Is(err, service.ErrNotAssistantMessage) {
		t.Fatalf("regenerate user message err = %v", err)
	}
}

func TestStopWithoutActiveConversation(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	if _, err := h.chat.StopGeneration(context.Background()); !errors.Is(err, service.ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
}

func TestStopAppendsSuffixOnce(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()
	if _, err := h.chat.Send(ctx, "Hello", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat/stop" {
			writeEnvelope(w, http.StatusOK, `{"code":200,"message":"已停止生成","data":true}`)
			return true
		}
		return false
	})

	for i := 0; i < 2; i++ {
		out, err := h.chat.StopGeneration(ctx)
		if err != nil {
			t.Fatalf("StopGeneration #%d: %v", i, err)
		}
		if out.State != service.StopStopped {
			t.Fatalf("state = %s", out.State)
		}
		if out.Annotated != (i == 0) {
			t.Fatalf("annotated #%d = %v", i, out.Annotated)
		}
	}
	last := lastMessages(h.conversations.Snapshot().Messages, 1)[0]
	if last.Content != "Hi there"+service.StopSuffix {
		t.Fatalf("last message = %q", last.Content)
	}
}

func TestStopLeavesUserMessageAlone(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	ctx := context.Background()
	if _, err := h.chat.Send(ctx, "Hello", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat/stop" {
			writeEnvelope(w, http.StatusOK, `{"code":200,"data":{"success":true,"stoppedAt":"2024-01-01T00:00:00"}}`)
			return true
		}
		return false
	})
	// 最后一条是用户消息时不追加中断提示
	h.store.AppendMessage(model.Message{ID: -100, Role: model.RoleUser, Content: "还在吗"})

	out, err := h.chat.StopGeneration(ctx)
	if err != nil {
		t.Fatalf("StopGeneration: %v", err)
	}
	if out.Annotated {
		t.Fatal("user message must not be annotated")
	}
	last := lastMessages(h.conversations.Snapshot().Messages, 1)[0]
	if last.Content != "还在吗" {
		t.Fatalf("last message = %q", last.Content)
	}
}

func TestStopWhenNothingInFlightIsBenign(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()
	if _, err := h.chat.Send(ctx, "Hello", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out, err := h.chat.StopGeneration(ctx)
	if err != nil {
		t.Fatalf("StopGeneration: %v", err)
	}
	if !out.AlreadyFinished || out.Annotated {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !h.auth.IsAuthenticated() {
		t.Fatal("benign stop must not log out")
	}
}

func TestStopInFlightGeneration(t *testing.T) {
	h := newHarness(t, mockserver.Options{ReplyDelay: 10 * time.Second})
	h.signUp()
	ctx := context.Background()

	type sendResult struct {
		result *service.TurnResult
		err    error
	}
	done := make(chan sendResult, 1)
	go func() {
		r, err := h.chat.Send(ctx, "写一篇很长的文章", nil)
		done <- sendResult{r, err}
	}()

	waitFor(t, "active conversation", func() bool { return h.store.ActiveID() != 0 })
	convID := h.store.ActiveID()
	waitFor(t, "generation on server", func() bool { return h.backend.InFlight(convID) })

	if _, err := h.chat.Send(ctx, "第二条", nil); !errors.Is(err, service.ErrGenerationInProgress) {
		t.Fatalf("concurrent send err = %v, want ErrGenerationInProgress", err)
	}

	out, err := h.chat.StopGeneration(ctx)
	if err != nil {
		t.Fatalf("StopGeneration: %v", err)
	}
	if out.State != service.StopStopped || out.AlreadyFinished {
		t.Fatalf("unexpected stop outcome: %+v", out)
	}

	var r sendResult
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after stop")
	}
	if r.err != nil {
		t.Fatalf("stopped send returned error: %v", r.err)
	}
	// 服务器可能先返回中断回复，也可能本地请求先被取消
	if r.result.Outcome != service.OutcomeStopped && r.result.Outcome != service.OutcomeCompleted {
		t.Fatalf("outcome = %s", r.result.Outcome)
	}
	for _, m := range h.conversations.Snapshot().Messages {
		if strings.HasPrefix(m.Content, "抱歉") {
			t.Fatalf("stop produced an error message: %q", m.Content)
		}
	}
	if h.store.Generating() {
		t.Fatal("generating flag left set")
	}
	if h.backend.InFlight(convID) {
		t.Fatal("server generation still in flight")
	}
}

func findMessage(t *testing.T, msgs []model.Message, id int64) model.Message {
	t.Helper()
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("message %d not found", id)
	return model.Message{}
}

func TestSendFailureMarksPreviewImagesFailed(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat" {
			writeEnvelope(w, http.StatusOK, `{"code":500,"message":"图片识别服务不可用"}`)
			return true
		}
		return false
	})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	result, err := h.chat.Send(context.Background(), "看看这张图", &service.Image{Name: "cat.png", Data: png})
	if err == nil {
		t.Fatal("expected error")
	}
	if result == nil || result.UserMessage == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	m := findMessage(t, h.conversations.Snapshot().Messages, result.UserMessage.ID)
	if len(m.Images) != 1 {
		t.Fatalf("images = %+v", m.Images)
	}
	if m.Images[0].OCRText != "图片处理失败，请重试" || !m.Images[0].IsPreview() {
		t.Fatalf("preview not marked failed: %+v", m.Images[0])
	}
}

func TestCreateFailureMarksPreviewImagesFailed(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost && r.URL.Path == "/api/conversations" {
			writeEnvelope(w, http.StatusOK, `{"code":500,"message":"数据库不可用"}`)
			return true
		}
		return false
	})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	if _, err := h.chat.Send(context.Background(), "看看这张图", &service.Image{Name: "cat.png", Data: png}); err == nil {
		t.Fatal("expected error")
	}
	var found bool
	for _, m := range h.conversations.Snapshot().Messages {
		if m.Role != model.RoleUser {
			continue
		}
		found = true
		if len(m.Images) != 1 || m.Images[0].OCRText != "图片处理失败，请重试" {
			t.Fatalf("preview not marked failed: %+v", m.Images)
		}
	}
	if !found {
		t.Fatal("optimistic user message missing")
	}
}

func TestChatUnauthorizedLogsOut(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	h.signUp()
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat" {
			writeEnvelope(w, http.StatusUnauthorized, `{"error":"令牌已过期"}`)
			return true
		}
		return false
	})
	loggedOut := 0
	h.auth.OnLogout(func() { loggedOut++ })

	result, err := h.chat.Send(context.Background(), "Hello", nil)
	if !errors.Is(err, api.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if result == nil || result.Outcome != service.OutcomeFailed {
		t.Fatalf("unexpected result: %+v", result)
	}
	last := lastMessages(h.conversations.Snapshot().Messages, 1)[0]
	if last.Role != model.RoleAssistant || last.Content != "抱歉，您的登录状态已失效，请重新登录后再试。" {
		t.Fatalf("last message = %+v", last)
	}
	if h.auth.IsAuthenticated() || loggedOut != 1 {
		t.Fatalf("authenticated = %v, logout callbacks = %d", h.auth.IsAuthenticated(), loggedOut)
	}
	if sess, err := h.sessions.Load(context.Background()); err != nil || sess != nil {
		t.Fatalf("session not cleared: %+v, %v", sess, err)
	}
}

func TestStopAfterSwitchKeepsOtherConversationSend(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere, ReplyDelay: 300 * time.Millisecond})
	user := h.signUp()
	ctx := context.Background()

	type sendResult struct {
		result *service.TurnResult
		err    error
	}
	done := make(chan sendResult, 1)
	go func() {
		r, err := h.chat.Send(ctx, "Hello", nil)
		done <- sendResult{r, err}
	}()

	waitFor(t, "active conversation", func() bool { return h.store.ActiveID() != 0 })
	first := h.store.ActiveID()
	waitFor(t, "generation on server", func() bool { return h.backend.InFlight(first) })

	other := h.backend.CreateConversation(user.ID, "另一个会话", "")
	if err := h.conversations.SwitchConversation(ctx, other.ID); err != nil {
		t.Fatalf("SwitchConversation: %v", err)
	}

	out, err := h.chat.StopGeneration(ctx)
	if err != nil {
		t.Fatalf("StopGeneration: %v", err)
	}
	if !out.AlreadyFinished {
		t.Fatalf("stop outcome = %+v, want already finished", out)
	}

	var r sendResult
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
	}
	if r.err != nil {
		t.Fatalf("send: %v", r.err)
	}
	if r.result.Outcome != service.OutcomeCompleted || r.result.ConversationID != first {
		t.Fatalf("result = %+v, want completed in conversation %d", r.result, first)
	}
	if r.result.Assistant == nil || r.result.Assistant.Content != "Hi there" {
		t.Fatalf("assistant = %+v", r.result.Assistant)
	}
	msgs, err := h.backend.Messages(first)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("server messages = %+v, %v", msgs, err)
	}
	for _, m := range h.conversations.Snapshot().Messages {
		if m.Content == "Hi there" {
			t.Fatal("reply written into the switched-to conversation")
		}
	}
}
