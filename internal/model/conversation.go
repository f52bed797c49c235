// Package model 包含了应用的数据模型定义。
package model

import "strings"

// Role 是消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation 代表服务器上的一个会话，id 由服务器分配。
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt LocalTime `json:"createdAt"`
	UpdatedAt LocalTime `json:"updatedAt"`
}

// MessageImage 是附在用户消息上的图片。
// 乐观插入时 SignedURL 是本地 data URL，服务器确认后替换为签名 URL。
type MessageImage struct {
	ID               int64  `json:"id"`
	SignedURL        string `json:"signedUrl"`
	OCRText          string `json:"ocrText"`
	OriginalFileName string `json:"originalFileName"`
}

// IsPreview 判断图片是否仍是本地预览。
func (i MessageImage) IsPreview() bool {
	return strings.HasPrefix(i.SignedURL, "data:image")
}

// Message 是会话中的一条消息。
// 本地持有的消息总有 ID，负数表示尚未被服务器持久化的临时 ID。
type Message struct {
	ID               int64          `json:"id,omitempty"`
	ConversationID   int64          `json:"conversationId,omitempty"`
	Role             Role           `json:"role"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoningContent,omitempty"`
	Order            int            `json:"order,omitempty"`
	CreatedAt        LocalTime      `json:"createdAt"`
	HasImages        bool           `json:"hasImages,omitempty"`
	Images           []MessageImage `json:"images,omitempty"`
}

// IsTemporary 判断消息是否仍使用临时 ID。
func (m Message) IsTemporary() bool {
	return m.ID < 0
}

// Clone 返回不与原消息共享图片切片的副本。
func (m Message) Clone() Message {
	if m.Images != nil {
		images := make([]MessageImage, len(m.Images))
		copy(images, m.Images)
		m.Images = images
	}
	return m
}
