package service

import (
	"context"
	"fmt"
	"time"

	"aihelper-go/internal/model"
	"aihelper-go/internal/repository"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/log"
)

// ArchiveService 把对话保存到本地 MySQL。
type ArchiveService interface {
	RecordTurn(ctx context.Context, ev TurnEvent) error
	ExportAll(ctx context.Context) (int, error)
}

type archiveService struct {
	repo   repository.ArchiveRepository
	client *api.Client
	auth   AuthService
}

// NewArchiveService 创建一个新的 ArchiveService。
func NewArchiveService(repo repository.ArchiveRepository, client *api.Client, auth AuthService) ArchiveService {
	return &archiveService{repo: repo, client: client, auth: auth}
}

// RecordTurn 追加一轮对话。只有用户消息的一轮（失败或被中断）也会保存。
func (s *archiveService) RecordTurn(ctx context.Context, ev TurnEvent) error {
	if ev.ConversationID == 0 {
		return nil
	}
	conv := model.ArchivedConversation{
		ID:         ev.ConversationID,
		UserID:     ev.UserID,
		Title:      ev.Title,
		Model:      ev.Model,
		ArchivedAt: ev.FinishedAt,
	}
	msgs := make([]model.ArchivedMessage, 0, 2)
	if !ev.Regenerated {
		msgs = append(msgs, model.ArchivedMessage{
			ConversationID: ev.ConversationID,
			Role:           model.RoleUser,
			Content:        ev.Prompt,
			Outcome:        string(ev.Outcome),
			CreatedAt:      ev.FinishedAt,
		})
	}
	if ev.Outcome == OutcomeCompleted {
		msgs = append(msgs, model.ArchivedMessage{
			ServerID:         ev.MessageID,
			ConversationID:   ev.ConversationID,
			Role:             model.RoleAssistant,
			Content:          ev.Response,
			ReasoningContent: ev.Reason,
			Outcome:          string(ev.Outcome),
			CreatedAt:        ev.FinishedAt,
		})
	}
	if err := s.repo.SaveTurn(conv, msgs); err != nil {
		return fmt.Errorf("failed to archive turn: %w", err)
	}
	return nil
}

// ExportAll 把服务器上当前用户的所有会话完整覆盖到归档中，返回导出的会话数。
func (s *archiveService) ExportAll(ctx context.Context) (int, error) {
	user := s.auth.User()
	if user == nil || user.ID == 0 {
		return 0, ErrNotAuthenticated
	}
	if err := s.repo.Migrate(); err != nil {
		return 0, fmt.Errorf("failed to migrate archive tables: %w", err)
	}

	list, err := s.client.Conversations.List(ctx, user.ID)
	if err != nil {
		return 0, s.auth.HandleError(ctx, err)
	}

	exported := 0
	for _, conv := range list.Data {
		resp, err := s.client.Conversations.Messages(ctx, conv.ID)
		if err != nil {
			if handled := s.auth.HandleError(ctx, err); !s.auth.IsAuthenticated() {
				return exported, handled
			}
			log.Warnw("导出会话消息失败，跳过", "conversationId", conv.ID, "error", err)
			continue
		}
		msgs := make([]model.ArchivedMessage, 0, len(resp.Data))
		for _, m := range resp.Data {
			createdAt := m.CreatedAt.Time()
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			msgs = append(msgs, model.ArchivedMessage{
				ServerID:         m.ID,
				ConversationID:   conv.ID,
				Role:             m.Role,
				Content:          m.Content,
				ReasoningContent: m.ReasoningContent,
				Outcome:          string(OutcomeCompleted),
				CreatedAt:        createdAt,
			})
		}
		archived := model.ArchivedConversation{
			ID:         conv.ID,
			UserID:     user.ID,
			Title:      conv.Title,
			Model:      conv.Model,
			ArchivedAt: time.Now(),
		}
		if err := s.repo.ReplaceConversation(archived, msgs); err != nil {
			return exported, fmt.Errorf("failed to archive conversation %d: %w", conv.ID, err)
		}
		exported++
	}
	log.Infow("对话归档完成", "userId", user.ID, "conversations", exported)
	return exported, nil
}

type nopArchive struct{}

func (nopArchive) RecordTurn(context.Context, TurnEvent) error { return nil }
func (nopArchive) ExportAll(context.Context) (int, error)      { return 0, nil }
