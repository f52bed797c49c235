package model

import "time"

// ArchivedConversation 是保存在本地 MySQL 中的会话副本，ID 沿用服务器的会话 ID。
type ArchivedConversation struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID     int64     `gorm:"index;not null" json:"userId"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	Model      string    `gorm:"type:varchar(64)" json:"model"`
	ArchivedAt time.Time `gorm:"not null" json:"archivedAt"`
}

func (ArchivedConversation) TableName() string {
	return "archived_conversations"
}

// ArchivedMessage 是一条归档消息。ServerID 为 0 表示服务器没有返回消息 ID。
type ArchivedMessage struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	ServerID         int64     `gorm:"index" json:"id"`
	ConversationID   int64     `gorm:"index;not null" json:"conversationId"`
	Role             Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content          string    `gorm:"type:longtext" json:"content"`
	ReasoningContent string    `gorm:"type:longtext" json:"reasoningContent,omitempty"`
	Outcome          string    `gorm:"type:varchar(16)" json:"outcome,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (ArchivedMessage) TableName() string {
	return "archived_messages"
}
