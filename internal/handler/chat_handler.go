package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"aihelper-go/internal/middleware"
	"aihelper-go/internal/mockserver"
	"aihelper-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 处理发送消息与停止生成的请求。
type ChatHandler struct {
	backend *mockserver.Backend
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(backend *mockserver.Backend) *ChatHandler {
	return &ChatHandler{backend: backend}
}

// ChatRequest 定义了发送消息的请求体。
type ChatRequest struct {
	Prompt          string   `json:"prompt"`
	ConversationID  int64    `json:"conversationId"`
	UserID          int64    `json:"userId"`
	Model           string   `json:"model"`
	DeepThinking    bool     `json:"deepThinking"`
	ImageBase64List []string `json:"imageBase64List"`
}

// Chat 同步返回完整回复。生成期间可以被 Stop 中断。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	user := middleware.CurrentUser(c)
	userID := req.UserID
	if userID == 0 {
		userID = user.ID
	}

	out, err := h.backend.Chat(c.Request.Context(), mockserver.ChatInput{
		Prompt:         req.Prompt,
		ConversationID: req.ConversationID,
		UserID:         userID,
		Model:          req.Model,
		DeepThinking:   req.DeepThinking,
		Images:         req.ImageBase64List,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infow("客户端已断开", "conversationId", req.ConversationID)
			return
		}
		var be *mockserver.Error
		if errors.As(err, &be) {
			fail(c, err)
			return
		}
		log.Errorw("处理聊天请求时出错", "error", err)
		failure(c, http.StatusInternalServerError, "处理聊天请求时出错: "+err.Error())
		return
	}

	data := gin.H{
		"conversationId": out.ConversationID,
		"response":       out.Response,
		"reason":         out.Reason,
	}
	if out.MessageID != 0 {
		data["messageId"] = out.MessageID
	}
	if len(out.Images) > 0 {
		data["images"] = out.Images
	}
	success(c, "success", data)
}

// StopRequest 定义了停止生成的请求体。
type StopRequest struct {
	ConversationID int64 `json:"conversationId" binding:"required"`
}

// Stop 中断会话进行中的生成。
func (h *ChatHandler) Stop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "会话ID不能为空")
		return
	}
	if !h.backend.Stop(req.ConversationID) {
		failure(c, http.StatusNotFound, "未找到指定的生成请求或已完成")
		return
	}
	log.Infow("已停止生成", "conversationId", req.ConversationID)
	success(c, "已停止生成", gin.H{
		"success":        true,
		"conversationId": req.ConversationID,
		"stoppedAt":      time.Now().Format("2006-01-02T15:04:05"),
	})
}
