package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aihelper-go/internal/config"
)

func TestChatMessagesUsesReasoningModel(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"你好","reasoning_content":"先打招呼"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/",
		Model:          "deepseek-chat",
		ReasoningModel: "deepseek-reasoner",
		Generation:     config.LLMGenerationConfig{Temperature: 0.5},
	})
	reply, err := c.ChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, true)
	if err != nil {
		t.Fatalf("ChatMessages: %v", err)
	}
	if reply.Content != "你好" || reply.ReasoningContent != "先打招呼" {
		t.Errorf("reply = %+v", reply)
	}
	if got.Model != "deepseek-reasoner" {
		t.Errorf("model = %s", got.Model)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if got.TopP != nil || got.MaxTokens != nil {
		t.Errorf("zero generation params should be omitted")
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChatMessagesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-200", http.StatusUnauthorized, `{"error":"bad key"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"malformed", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "deepseek-chat"})
			if _, err := c.ChatMessages(context.Background(), nil, false); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
