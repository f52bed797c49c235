// Package store 保存客户端的会话与消息状态。
//
// 会话以 id 为键保存一份，另记录服务器返回的顺序；当前标题从当前会话推导，
// 会话尚未创建时使用待定标题。所有方法都可以被多个 goroutine 同时调用。
package store

import (
	"strings"
	"sync"

	"aihelper-go/internal/model"
)

// Store 是会话列表、当前会话和消息列表的唯一数据源。
type Store struct {
	mu sync.RWMutex

	conversations map[int64]model.Conversation
	order         []int64

	activeID     int64
	pendingTitle string
	model        string
	messages     []model.Message
	generating   bool
}

// Snapshot 是某一时刻状态的只读副本。
type Snapshot struct {
	Conversations []model.Conversation
	ActiveID      int64
	Title         string
	Model         string
	Messages      []model.Message
	Generating    bool
}

// New 创建一个空的 Store。
func New(defaultModel string) *Store {
	return &Store{
		conversations: make(map[int64]model.Conversation),
		model:         defaultModel,
	}
}

// SetConversations 用服务器返回的列表替换本地列表，保留服务器顺序。
func (s *Store) SetConversations(list []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[int64]model.Conversation, len(list))
	s.order = s.order[:0]
	for _, c := range list {
		if _, dup := s.conversations[c.ID]; !dup {
			s.order = append(s.order, c.ID)
		}
		s.conversations[c.ID] = c
	}
}

// UpsertConversation 更新已有会话，新会话放在列表最前面。
func (s *Store) UpsertConversation(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[c.ID]; !ok {
		s.order = append([]int64{c.ID}, s.order...)
	}
	s.conversations[c.ID] = c
}

// SetConversationTitle 修改本地会话标题，会话不存在时返回 false。
func (s *Store) SetConversationTitle(id int64, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return false
	}
	c.Title = title
	s.conversations[id] = c
	return true
}

// RemoveConversation 从本地列表中删除会话。
func (s *Store) RemoveConversation(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return
	}
	delete(s.conversations, id)
	for i, cid := range s.order {
		if cid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Conversation 按 id 查找会话。
func (s *Store) Conversation(id int64) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Conversations 按服务器顺序返回会话列表。
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsLocked()
}

func (s *Store) conversationsLocked() []model.Conversation {
	out := make([]model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id])
	}
	return out
}

// ActiveID 返回当前会话 id，0 表示还没有会话。
func (s *Store) ActiveID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive 切换当前会话并清除待定标题。
func (s *Store) SetActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	s.pendingTitle = ""
}

// SetPendingTitle 设置会话创建前显示的标题。
func (s *Store) SetPendingTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTitle = title
}

// Title 返回当前标题。
func (s *Store) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titleLocked()
}

func (s *Store) titleLocked() string {
	if c, ok := s.conversations[s.activeID]; ok && s.activeID != 0 {
		return c.Title
	}
	return s.pendingTitle
}

// Model 返回当前选择的模型。
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SetModel 修改当前选择的模型，空值被忽略。
func (s *Store) SetModel(m string) {
	if m == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}

// ResetChat 回到没有当前会话的状态，消息列表替换为 messages。
func (s *Store) ResetChat(messages ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = 0
	s.pendingTitle = ""
	s.messages = cloneMessages(messages)
}

// SetMessages 替换消息列表。
func (s *Store) SetMessages(messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = cloneMessages(messages)
}

// SetMessagesFor 仅当 conversationID 仍是当前会话时替换消息列表。
func (s *Store) SetMessagesFor(conversationID int64, messages []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != conversationID {
		return false
	}
	s.messages = cloneMessages(messages)
	return true
}

// Messages 返回消息列表的副本。
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

// AppendMessage 追加一条消息。
func (s *Store) AppendMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m.Clone())
}

// AppendMessageFor 仅当 conversationID 仍是当前会话时追加消息。
// 一轮对话开始时还没有会话（conversationID 为 0）的情况同样视为匹配。
func (s *Store) AppendMessageFor(conversationID int64, m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID != 0 && s.activeID != conversationID {
		return false
	}
	s.messages = append(s.messages, m.Clone())
	return true
}

// Message 按 id 查找消息。
func (s *Store) Message(id int64) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// ReplaceImages 把 id 对应消息的图片替换为 images，只匹配 id，不按位置。
func (s *Store) ReplaceImages(id int64, images []model.MessageImage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			replaced := make([]model.MessageImage, len(images))
			copy(replaced, images)
			s.messages[i].Images = replaced
			s.messages[i].HasImages = len(replaced) > 0
			return true
		}
	}
	return false
}

// MarkPreviewsFailed 把 id 对应消息中仍是本地预览的图片标记为失败。
func (s *Store) MarkPreviewsFailed(id int64, ocrText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		changed := false
		for j := range s.messages[i].Images {
			if s.messages[i].Images[j].IsPreview() {
				s.messages[i].Images[j].OCRText = ocrText
				changed = true
			}
		}
		return changed
	}
	return false
}

// AnnotateLastAssistant 在最后一条消息末尾追加 suffix。
// 最后一条不是助手消息、列表为空或已经追加过时不做任何修改。
func (s *Store) AnnotateLastAssistant(suffix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages)
	if n == 0 {
		return false
	}
	last := &s.messages[n-1]
	if last.Role != model.RoleAssistant || strings.HasSuffix(last.Content, suffix) {
		return false
	}
	last.Content += suffix
	return true
}

// RemoveMessage 删除一条消息。
func (s *Store) RemoveMessage(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// PrecedingUserMessage 返回 id 之前最近的一条用户消息。
func (s *Store) PrecedingUserMessage(id int64) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := -1
	for i, m := range s.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if s.messages[i].Role == model.RoleUser {
			return s.messages[i].Clone(), true
		}
	}
	return model.Message{}, false
}

// TryBeginGenerating 在没有进行中的生成时置位并返回 true。
func (s *Store) TryBeginGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return false
	}
	s.generating = true
	return true
}

// EndGenerating 清除生成标志。
func (s *Store) EndGenerating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generating = false
}

// Generating 返回是否正在等待回复。
func (s *Store) Generating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}

// Snapshot 返回当前状态的副本。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Conversations: s.conversationsLocked(),
		ActiveID:      s.activeID,
		Title:         s.titleLocked(),
		Model:         s.model,
		Messages:      cloneMessages(s.messages),
		Generating:    s.generating,
	}
}

func cloneMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
