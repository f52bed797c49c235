package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"aihelper-go/internal/mockserver"
	"aihelper-go/internal/model"
	"aihelper-go/internal/service"
)

func TestNewChatShowsWelcome(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	snap := h.conversations.Snapshot()
	if snap.ActiveID != 0 {
		t.Fatalf("active id = %d", snap.ActiveID)
	}
	if len(snap.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(snap.Messages))
	}
	m := snap.Messages[0]
	if m.Role != model.RoleAssistant || m.Content != service.WelcomeMessage("zh") || m.ID >= 0 {
		t.Fatalf("unexpected welcome message: %+v", m)
	}
	if snap.Title != "新对话" {
		t.Fatalf("title = %q", snap.Title)
	}
}

func TestEmptyConversationShowsSingleWelcome(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()
	conv := h.backend.CreateConversation(user.ID, "空会话", "")

	ctx := context.Background()
	if err := h.conversations.FetchConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.conversations.SwitchConversation(ctx, conv.ID); err != nil {
		t.Fatalf("SwitchConversation: %v", err)
	}
	snap := h.conversations.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != service.WelcomeMessage("zh") {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	if snap.Title != "空会话" {
		t.Fatalf("title = %q", snap.Title)
	}
}

func TestFetchMessagesFailureShowsError(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()
	conv := h.backend.CreateConversation(user.ID, "会话", "")
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/conversations/1/messages" {
			writeEnvelope(w, http.StatusInternalServerError, `{}`)
			return true
		}
		return false
	})

	if err := h.conversations.SwitchConversation(context.Background(), conv.ID); err == nil {
		t.Fatal("expected error")
	}
	msgs := h.conversations.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].Role != model.RoleAssistant || msgs[0].Content == "" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !h.auth.IsAuthenticated() {
		t.Fatal("500 must not log out")
	}
}

func TestFetchConversationsOrderAndSkipWhenLoggedOut(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	ctx := context.Background()

	if err := h.conversations.FetchConversations(ctx); err != nil {
		t.Fatalf("logged out fetch: %v", err)
	}
	if got := h.callCount(http.MethodGet, "/api/conversations/0"); got != 0 {
		t.Fatalf("fetch without login hit the server")
	}

	user := h.signUp()
	first := h.backend.CreateConversation(user.ID, "first", "")
	second := h.backend.CreateConversation(user.ID, "second", "")
	if err := h.conversations.FetchConversations(ctx); err != nil {
		t.Fatal(err)
	}
	list := h.conversations.Snapshot().Conversations
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestRenameAndDeleteConversation(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()

	result, err := h.chat.Send(ctx, "Hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	id := result.ConversationID

	if err := h.conversations.UpdateConversationTitle(ctx, id, "问候"); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}
	if got := h.conversations.Snapshot().Title; got != "问候" {
		t.Fatalf("title = %q", got)
	}
	conv, err := h.conversations.GenerateTitle(ctx, id)
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if conv.Title != "Hello" {
		t.Fatalf("generated title = %q", conv.Title)
	}

	if err := h.conversations.DeleteConversation(ctx, id); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	snap := h.conversations.Snapshot()
	if snap.ActiveID != 0 || len(snap.Conversations) != 0 {
		t.Fatalf("conversation not removed: %+v", snap)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != service.WelcomeMessage("zh") {
		t.Fatalf("expected fresh chat, got %+v", snap.Messages)
	}
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, mockserver.Options{Replier: hiThere})
	h.signUp()
	ctx := context.Background()

	result, err := h.chat.Send(ctx, "Hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.conversations.DeleteMessage(ctx, result.UserMessage.ID); !errors.Is(err, service.ErrTemporaryMessage) {
		t.Fatalf("temporary delete err = %v", err)
	}
	if got := h.callCount(http.MethodDelete, fmt.Sprintf("/api/messages/%d", result.UserMessage.ID)); got != 0 {
		t.Fatal("temporary delete hit the server")
	}

	if err := h.conversations.DeleteMessage(ctx, result.Assistant.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, ok := h.store.Message(result.Assistant.ID); ok {
		t.Fatal("message still in store")
	}
	if err := h.conversations.DeleteMessage(ctx, result.Assistant.ID); err == nil {
		t.Fatal("expected not found on second delete")
	}
}

func TestReplyForSwitchedAwayConversationIsNotShown(t *testing.T) {
	h := newHarness(t, mockserver.Options{})
	user := h.signUp()
	ctx := context.Background()
	other := h.backend.CreateConversation(user.ID, "other", "")

	// 第一轮建立会话
	first, err := h.chat.Send(ctx, "第一条", nil)
	if err != nil {
		t.Fatal(err)
	}
	h.setIntercept(func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/chat" {
			// 回复返回前用户已经切走
			if err := h.conversations.SwitchConversation(ctx, other.ID); err != nil {
				t.Errorf("switch: %v", err)
			}
		}
		return false
	})
	if _, err := h.chat.Send(ctx, "第二条", nil); err != nil {
		t.Fatal(err)
	}

	snap := h.conversations.Snapshot()
	if snap.ActiveID != other.ID {
		t.Fatalf("active = %d, want %d", snap.ActiveID, other.ID)
	}
	for _, m := range snap.Messages {
		if m.ConversationID == first.ConversationID {
			t.Fatalf("reply for old conversation leaked into list: %+v", m)
		}
	}
}
