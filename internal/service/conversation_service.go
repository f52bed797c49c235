package service

import (
	"context"

	"aihelper-go/internal/model"
	"aihelper-go/internal/store"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/log"
)

// ConversationService 定义了会话列表与消息列表的同步操作。
type ConversationService interface {
	FetchConversations(ctx context.Context) error
	FetchConversationMessages(ctx context.Context, id int64) ([]model.Message, error)
	SwitchConversation(ctx context.Context, id int64) error
	StartNewChat()
	UpdateConversationTitle(ctx context.Context, id int64, title string) error
	GenerateTitle(ctx context.Context, id int64) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	DeleteMessage(ctx context.Context, id int64) error
	SetModel(m string)
	Snapshot() store.Snapshot
}

type conversationService struct {
	client *api.Client
	auth   AuthService
	store  *store.Store
	ids    model.IDGenerator
	lang   string
}

// NewConversationService 创建一个新的 ConversationService，并初始化为只有欢迎语的新对话。
func NewConversationService(client *api.Client, auth AuthService, st *store.Store, ids model.IDGenerator, lang string) ConversationService {
	s := &conversationService{client: client, auth: auth, store: st, ids: ids, lang: lang}
	s.StartNewChat()
	return s
}

// FetchConversations 获取当前用户的所有会话，未登录时什么也不做。
func (s *conversationService) FetchConversations(ctx context.Context) error {
	user := s.auth.User()
	if !s.auth.IsAuthenticated() || user == nil || user.ID == 0 {
		log.Debugw("用户未登录或用户ID不存在，无法获取对话历史")
		return nil
	}
	resp, err := s.client.Conversations.List(ctx, user.ID)
	if err != nil {
		log.Warnw("获取对话历史出错", "userId", user.ID, "error", err)
		return s.auth.HandleError(ctx, err)
	}
	s.store.SetConversations(resp.Data)
	log.Debugw("已获取对话历史", "count", len(resp.Data))
	return nil
}

// FetchConversationMessages 获取会话的消息，并在 id 仍是当前会话时写入消息列表。
// 消息列表不会为空：没有消息时显示欢迎语，失败时显示一条错误提示。
func (s *conversationService) FetchConversationMessages(ctx context.Context, id int64) ([]model.Message, error) {
	if id == 0 {
		return nil, ErrInvalidConversation
	}
	resp, err := s.client.Conversations.Messages(ctx, id)
	if err != nil {
		log.Warnw("获取对话消息出错", "conversationId", id, "error", err)
		msgs := []model.Message{s.assistantMessage(msgFetchHistoryFailed)}
		s.store.SetMessagesFor(id, msgs)
		return msgs, s.auth.HandleError(ctx, err)
	}

	msgs := make([]model.Message, 0, len(resp.Data))
	for _, m := range resp.Data {
		if m.ID == 0 {
			m.ID = s.ids.NextTempID()
		}
		m.ConversationID = id
		m.HasImages = m.HasImages || len(m.Images) > 0
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, s.welcomeMessage())
	}
	s.store.SetMessagesFor(id, msgs)

	if conv, ok := s.store.Conversation(id); ok {
		s.store.SetModel(conv.Model)
	}
	log.Debugw("已获取对话消息", "conversationId", id, "count", len(resp.Data))
	return msgs, nil
}

// SwitchConversation 切换当前会话并加载消息，不会取消其他会话进行中的发送。
func (s *conversationService) SwitchConversation(ctx context.Context, id int64) error {
	if id == 0 {
		return ErrInvalidConversation
	}
	s.store.SetActive(id)
	_, err := s.FetchConversationMessages(ctx, id)
	return err
}

// StartNewChat 开始新对话，不访问服务器。
func (s *conversationService) StartNewChat() {
	s.store.ResetChat(s.welcomeMessage())
}

// UpdateConversationTitle 修改会话标题，成功后更新本地列表。
func (s *conversationService) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	if id == 0 {
		return ErrInvalidConversation
	}
	if _, err := s.client.Conversations.UpdateTitle(ctx, id, title); err != nil {
		log.Warnw("更新会话标题出错", "conversationId", id, "error", err)
		return s.auth.HandleError(ctx, err)
	}
	if !s.store.SetConversationTitle(id, title) {
		// 列表里还没有这个会话时补一条，保证当前标题能推导出来
		s.store.UpsertConversation(model.Conversation{ID: id, Title: title, Model: s.store.Model()})
	}
	log.Infow("会话标题更新成功", "conversationId", id, "title", title)
	return nil
}

// GenerateTitle 让服务器根据会话内容生成标题。
func (s *conversationService) GenerateTitle(ctx context.Context, id int64) (*model.Conversation, error) {
	if id == 0 {
		return nil, ErrInvalidConversation
	}
	resp, err := s.client.Conversations.GenerateTitle(ctx, id)
	if err != nil {
		return nil, s.auth.HandleError(ctx, err)
	}
	conv := resp.Data
	if conv.ID == 0 {
		conv.ID = id
	}
	s.store.UpsertConversation(conv)
	return &conv, nil
}

// DeleteConversation 删除会话；删除的是当前会话时开始新对话。之后刷新会话列表。
func (s *conversationService) DeleteConversation(ctx context.Context, id int64) error {
	if id == 0 {
		return ErrInvalidConversation
	}
	if _, err := s.client.Conversations.Delete(ctx, id); err != nil {
		return s.auth.HandleError(ctx, err)
	}
	if s.store.ActiveID() == id {
		s.StartNewChat()
	}
	s.store.RemoveConversation(id)
	if err := s.FetchConversations(ctx); err != nil {
		log.Warnw("删除后刷新会话列表失败", "error", err)
	}
	return nil
}

// DeleteMessage 删除一条已保存的消息，临时消息直接拒绝。
func (s *conversationService) DeleteMessage(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrTemporaryMessage
	}
	if _, err := s.client.Messages.Delete(ctx, id); err != nil {
		log.Warnw("删除消息出错", "messageId", id, "error", err)
		return s.auth.HandleError(ctx, err)
	}
	s.store.RemoveMessage(id)
	return nil
}

// SetModel 切换之后发送消息使用的模型。
func (s *conversationService) SetModel(m string) {
	s.store.SetModel(m)
}

func (s *conversationService) Snapshot() store.Snapshot {
	return s.store.Snapshot()
}

func (s *conversationService) welcomeMessage() model.Message {
	return s.assistantMessage(WelcomeMessage(s.lang))
}

func (s *conversationService) assistantMessage(content string) model.Message {
	return model.Message{ID: s.ids.NextTempID(), Role: model.RoleAssistant, Content: content}
}
