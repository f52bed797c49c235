package repository

import (
	"errors"
	"time"

	"aihelper-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRepository 定义了对话归档的持久化操作。
type ArchiveRepository interface {
	Migrate() error
	SaveTurn(conv model.ArchivedConversation, messages []model.ArchivedMessage) error
	ReplaceConversation(conv model.ArchivedConversation, messages []model.ArchivedMessage) error
	FindConversations(userID int64) ([]model.ArchivedConversation, error)
	FindMessages(conversationID int64) ([]model.ArchivedMessage, error)
}

// archiveRepository 是 ArchiveRepository 接口的 GORM 实现。
type archiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository 创建一个新的 ArchiveRepository 实例。
func NewArchiveRepository(db *gorm.DB) ArchiveRepository {
	return &archiveRepository{db: db}
}

// Migrate 创建或更新归档表。
func (r *archiveRepository) Migrate() error {
	return r.db.AutoMigrate(&model.ArchivedConversation{}, &model.ArchivedMessage{})
}

// SaveTurn 更新会话信息并追加一轮对话的消息。
func (r *archiveRepository) SaveTurn(conv model.ArchivedConversation, messages []model.ArchivedMessage) error {
	if conv.ID == 0 {
		return errors.New("archive: conversation id is required")
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertConversation(tx, conv); err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		return tx.Create(&messages).Error
	})
}

// ReplaceConversation 用服务器上的完整消息列表覆盖归档。
func (r *archiveRepository) ReplaceConversation(conv model.ArchivedConversation, messages []model.ArchivedMessage) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertConversation(tx, conv); err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&model.ArchivedMessage{}).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		return tx.Create(&messages).Error
	})
}

// FindConversations 按归档时间倒序返回用户的会话。
func (r *archiveRepository) FindConversations(userID int64) ([]model.ArchivedConversation, error) {
	var convs []model.ArchivedConversation
	err := r.db.Where("user_id = ?", userID).Order("archived_at DESC").Find(&convs).Error
	return convs, err
}

// FindMessages 按写入顺序返回会话的归档消息。
func (r *archiveRepository) FindMessages(conversationID int64) ([]model.ArchivedMessage, error) {
	var msgs []model.ArchivedMessage
	err := r.db.Where("conversation_id = ?", conversationID).Order("id ASC").Find(&msgs).Error
	return msgs, err
}

func upsertConversation(tx *gorm.DB, conv model.ArchivedConversation) error {
	if conv.ArchivedAt.IsZero() {
		conv.ArchivedAt = time.Now()
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "model", "archived_at"}),
	}).Create(&conv).Error
}
