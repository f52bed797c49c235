package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"aihelper-go/internal/middleware"
	"aihelper-go/internal/mockserver"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话和消息相关的 API 请求。
type ConversationHandler struct {
	backend *mockserver.Backend
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(backend *mockserver.Backend) *ConversationHandler {
	return &ConversationHandler{backend: backend}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "无效的ID")
		return 0, false
	}
	return id, true
}

// GetConversations 获取用户的会话列表，只能查看自己的会话。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}
	if userID != middleware.CurrentUser(c).ID {
		failure(c, http.StatusForbidden, "无权访问该用户的会话")
		return
	}
	success(c, "success", h.backend.Conversations(userID))
}

// CreateConversationRequest 定义了创建会话的请求体。
type CreateConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// CreateConversation 创建会话，userId 通过 query 传递，缺省为当前用户。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	// 请求体可以为空
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "无效的请求负载")
		return
	}
	userID := middleware.CurrentUser(c).ID
	if q := c.Query("userId"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			badRequest(c, "无效的用户ID")
			return
		}
		userID = id
	}
	conv := h.backend.CreateConversation(userID, req.Title, req.Model)
	success(c, "会话创建成功", conv)
}

// GetConversation 获取会话详情。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conv, err := h.backend.Conversation(id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", conv)
}

// GetMessages 获取会话中的消息。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := h.backend.Messages(id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "success", msgs)
}

// UpdateTitle 修改会话标题，标题通过 query 传递。
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	title := c.Query("title")
	if title == "" {
		badRequest(c, "标题不能为空")
		return
	}
	if err := h.backend.UpdateTitle(id, title); err != nil {
		fail(c, err)
		return
	}
	success(c, "会话标题更新成功", nil)
}

// GenerateTitle 根据会话内容生成标题。
func (h *ConversationHandler) GenerateTitle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conv, err := h.backend.GenerateTitle(id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, "标题生成成功", conv)
}

// DeleteConversation 删除会话。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.backend.DeleteConversation(id); err != nil {
		fail(c, err)
		return
	}
	success(c, "会话删除成功", nil)
}

// DeleteMessage 删除一条消息。
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.backend.DeleteMessage(id); err != nil {
		fail(c, err)
		return
	}
	success(c, "消息删除成功", nil)
}
