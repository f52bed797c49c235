package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"aihelper-go/internal/model"
)

// ChatAPI 封装 /api/chat 接口。
type ChatAPI struct {
	c *Client
}

// Send 发送一条消息并等待完整回复，没有流式输出。
func (a *ChatAPI) Send(ctx context.Context, req ChatRequest) (*Response[ChatResponse], error) {
	return doJSON[ChatResponse](ctx, a.c, http.MethodPost, "/api/chat", req)
}

// Stop 请求后端停止指定会话的生成。
func (a *ChatAPI) Stop(ctx context.Context, conversationID int64) (*Response[StopResult], error) {
	return doJSON[StopResult](ctx, a.c, http.MethodPost, "/api/chat/stop", StopRequest{ConversationID: conversationID})
}

// ConversationsAPI 封装 /api/conversations 接口。
type ConversationsAPI struct {
	c *Client
}

// List 获取用户的所有会话，顺序由服务器决定。
func (a *ConversationsAPI) List(ctx context.Context, userID int64) (*Response[[]model.Conversation], error) {
	return doJSON[[]model.Conversation](ctx, a.c, http.MethodGet, fmt.Sprintf("/api/conversations/%d", userID), nil)
}

// Create 创建新会话。
func (a *ConversationsAPI) Create(ctx context.Context, req CreateConversationRequest) (*Response[model.Conversation], error) {
	path := "/api/conversations"
	if req.UserID != 0 {
		path += "?userId=" + strconv.FormatInt(req.UserID, 10)
	}
	return doJSON[model.Conversation](ctx, a.c, http.MethodPost, path, req)
}

// Detail 获取会话详情。
func (a *ConversationsAPI) Detail(ctx context.Context, id int64) (*Response[model.Conversation], error) {
	return doJSON[model.Conversation](ctx, a.c, http.MethodGet, fmt.Sprintf("/api/conversations/detail/%d", id), nil)
}

// Messages 获取会话中的消息。
func (a *ConversationsAPI) Messages(ctx context.Context, id int64) (*Response[[]model.Message], error) {
	return doJSON[[]model.Message](ctx, a.c, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", id), nil)
}

// UpdateTitle 更新会话标题。
func (a *ConversationsAPI) UpdateTitle(ctx context.Context, id int64, title string) (*Response[json.RawMessage], error) {
	path := fmt.Sprintf("/api/conversations/%d?title=%s", id, url.QueryEscape(title))
	return doJSON[json.RawMessage](ctx, a.c, http.MethodPut, path, nil)
}

// GenerateTitle 让后端根据会话内容生成标题。
func (a *ConversationsAPI) GenerateTitle(ctx context.Context, id int64) (*Response[model.Conversation], error) {
	return doJSON[model.Conversation](ctx, a.c, http.MethodPut, fmt.Sprintf("/api/conversations/%d/generate-title", id), nil)
}

// Delete 删除会话。
func (a *ConversationsAPI) Delete(ctx context.Context, id int64) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, a.c, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", id), nil)
}

// MessagesAPI 封装 /api/messages 接口。
type MessagesAPI struct {
	c *Client
}

// Delete 删除一条消息。
func (a *MessagesAPI) Delete(ctx context.Context, id int64) (*Response[json.RawMessage], error) {
	return doJSON[json.RawMessage](ctx, a.c, http.MethodDelete, fmt.Sprintf("/api/messages/%d", id), nil)
}
