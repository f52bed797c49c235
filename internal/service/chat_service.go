package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aihelper-go/internal/model"
	"aihelper-go/internal/store"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/log"
)

// StopState 是停止生成的状态机：requested -> acknowledged -> stopped。
type StopState int32

const (
	StopIdle StopState = iota
	StopRequested
	StopAcknowledged
	StopStopped
)

func (s StopState) String() string {
	switch s {
	case StopRequested:
		return "requested"
	case StopAcknowledged:
		return "acknowledged"
	case StopStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// TurnResult 是一轮对话的结果。
type TurnResult struct {
	Outcome        TurnOutcome
	ConversationID int64
	// UserMessage 是乐观插入的用户消息，重新生成时为 nil
	UserMessage *model.Message
	// Assistant 是追加的助手消息，被中断时为 nil
	Assistant *model.Message
}

// StopOutcome 是一次停止请求的结果。
type StopOutcome struct {
	State StopState
	// AlreadyFinished 为 true 表示服务器上已经没有进行中的生成
	AlreadyFinished bool
	// Annotated 为 true 表示最后一条助手消息追加了中断提示
	Annotated bool
	StoppedAt string
}

// ChatService 实现消息发送与停止生成协议。
type ChatService interface {
	Send(ctx context.Context, text string, image *Image) (*TurnResult, error)
	Regenerate(ctx context.Context, assistantID int64) (*TurnResult, error)
	StopGeneration(ctx context.Context) (*StopOutcome, error)
	StopState() StopState
	SetDeepThinking(on bool)
}

// ChatOption 配置 chatService。
type ChatOption func(*chatService)

// WithPublisher 设置对话事件的发布方式。
func WithPublisher(p EventPublisher) ChatOption {
	return func(s *chatService) { s.events = p }
}

// WithArchive 在每轮对话结束后写入归档。
func WithArchive(a ArchiveService) ChatOption {
	return func(s *chatService) { s.archive = a }
}

// WithDeepThinking 设置是否开启深度思考。
func WithDeepThinking(on bool) ChatOption {
	return func(s *chatService) { s.deepThinking.Store(on) }
}

// inflight 是进行中的一轮对话，停止生成时通过它取消请求。
type inflight struct {
	conversationID int64
	cancel         context.CancelFunc
	stopRequested  atomic.Bool
	done           chan struct{}
}

type chatService struct {
	client        *api.Client
	auth          AuthService
	conversations ConversationService
	store         *store.Store
	ids           model.IDGenerator
	events        EventPublisher
	archive       ArchiveService
	deepThinking  atomic.Bool

	mu        sync.Mutex
	current   *inflight
	stopState StopState
}

// NewChatService 创建一个新的 ChatService。
func NewChatService(client *api.Client, auth AuthService, conversations ConversationService, st *store.Store, ids model.IDGenerator, opts ...ChatOption) ChatService {
	s := &chatService{
		client:        client,
		auth:          auth,
		conversations: conversations,
		store:         st,
		ids:           ids,
		events:        NopPublisher(),
		archive:       nopArchive{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *chatService) SetDeepThinking(on bool) {
	s.deepThinking.Store(on)
}

func (s *chatService) StopState() StopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopState
}

// Send 发送一条消息：先乐观插入用户消息，必要时创建会话，再等待完整回复。
func (s *chatService) Send(ctx context.Context, text string, image *Image) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" && image == nil {
		return nil, ErrEmptyMessage
	}
	if !s.store.TryBeginGenerating() {
		return nil, ErrGenerationInProgress
	}
	// 进入 runTurn 之后由它负责清除生成标志
	handedOff := false
	defer func() {
		if !handedOff {
			s.store.EndGenerating()
		}
	}()

	var imageList []string
	var previews []model.MessageImage
	if image != nil {
		dataURL := image.DataURL()
		imageList = append(imageList, dataURL)
		previews = append(previews, model.MessageImage{
			ID:               s.ids.NextTempID(),
			SignedURL:        dataURL,
			OCRText:          msgImageProcessing,
			OriginalFileName: image.Name,
		})
	}

	userMsg := model.Message{
		ID:        s.ids.NextTempID(),
		Role:      model.RoleUser,
		Content:   text,
		CreatedAt: model.Now(),
		HasImages: image != nil,
		Images:    previews,
	}
	s.store.AppendMessage(userMsg)

	convID, err := s.ensureConversation(ctx, text)
	if err != nil {
		if len(previews) > 0 {
			s.store.MarkPreviewsFailed(userMsg.ID, msgImageFailed)
		}
		return nil, err
	}
	if convID != 0 {
		userMsg.ConversationID = convID
	}
	handedOff = true
	return s.runTurn(ctx, turn{
		prompt:         text,
		conversationID: convID,
		images:         imageList,
		userMsg:        &userMsg,
	})
}

// Regenerate 用 assistantID 之前最近的一条用户消息重新请求回复，不会再插入用户消息。
func (s *chatService) Regenerate(ctx context.Context, assistantID int64) (*TurnResult, error) {
	target, ok := s.store.Message(assistantID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	if target.Role != model.RoleAssistant {
		return nil, ErrNotAssistantMessage
	}
	userMsg, ok := s.store.PrecedingUserMessage(assistantID)
	if !ok || strings.TrimSpace(userMsg.Content) == "" {
		return nil, ErrNoPrecedingUserMessage
	}
	if !s.store.TryBeginGenerating() {
		return nil, ErrGenerationInProgress
	}

	convID, err := s.ensureConversation(ctx, userMsg.Content)
	if err != nil {
		s.store.EndGenerating()
		return nil, err
	}
	return s.runTurn(ctx, turn{
		prompt:         userMsg.Content,
		conversationID: convID,
		regenerated:    true,
	})
}

// ensureConversation 在没有当前会话且已登录时先创建会话。创建失败时整轮发送中止。
func (s *chatService) ensureConversation(ctx context.Context, text string) (int64, error) {
	if id := s.store.ActiveID(); id != 0 || !s.auth.IsAuthenticated() {
		return id, nil
	}
	user := s.auth.User()
	if user == nil || user.ID == 0 {
		log.Warnw("创建对话失败：用户信息不完整")
		return 0, ErrIncompleteUser
	}

	title := ChatTitle(text)
	s.store.SetPendingTitle(title)
	if title == "" {
		title = defaultTitle
	}
	resp, err := s.client.Conversations.Create(ctx, api.CreateConversationRequest{
		Title:  title,
		Model:  s.store.Model(),
		UserID: user.ID,
	})
	if err != nil {
		log.Warnw("创建对话失败", "userId", user.ID, "error", err)
		return 0, s.auth.HandleError(ctx, err)
	}
	if resp.Data.ID == 0 {
		if resp.Message != "" {
			return 0, errors.New(resp.Message)
		}
		return 0, ErrConversationCreateEmpty
	}

	s.store.UpsertConversation(resp.Data)
	s.store.SetActive(resp.Data.ID)
	if err := s.conversations.FetchConversations(ctx); err != nil {
		log.Warnw("创建对话后刷新列表失败", "error", err)
	}
	log.Infow("已创建新对话", "conversationId", resp.Data.ID, "title", resp.Data.Title)
	return resp.Data.ID, nil
}

type turn struct {
	prompt         string
	conversationID int64
	images         []string
	userMsg        *model.Message
	regenerated    bool
}

func (s *chatService) runTurn(ctx context.Context, t turn) (*TurnResult, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	cur := &inflight{conversationID: t.conversationID, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.current = cur
	s.stopState = StopIdle
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.current == cur {
			s.current = nil
		}
		s.mu.Unlock()
		s.store.EndGenerating()
		close(cur.done)
	}()

	var userID int64
	if u := s.auth.User(); u != nil {
		userID = u.ID
	}
	result := &TurnResult{ConversationID: t.conversationID, UserMessage: t.userMsg}
	ev := TurnEvent{
		ConversationID: t.conversationID,
		UserID:         userID,
		Model:          s.store.Model(),
		Prompt:         t.prompt,
		HasImage:       len(t.images) > 0,
		Regenerated:    t.regenerated,
	}

	resp, err := s.client.Chat.Send(turnCtx, api.ChatRequest{
		Prompt:          t.prompt,
		ConversationID:  t.conversationID,
		UserID:          userID,
		Model:           ev.Model,
		DeepThinking:    s.deepThinking.Load(),
		ImageBase64List: t.images,
	})
	if err != nil {
		// 被停止生成取消的请求不追加错误消息
		if cur.stopRequested.Load() || turnCtx.Err() != nil {
			log.Infow("生成已被中断", "conversationId", t.conversationID)
			result.Outcome = OutcomeStopped
			s.finish(ctx, ev, result)
			if ctx.Err() != nil && !cur.stopRequested.Load() {
				return result, ctx.Err()
			}
			return result, nil
		}

		err = s.auth.HandleError(ctx, err)
		log.Warnw("发送消息失败", "conversationId", t.conversationID, "error", err)
		if t.userMsg != nil && len(t.images) > 0 {
			s.store.MarkPreviewsFailed(t.userMsg.ID, msgImageFailed)
		}
		msg := model.Message{
			ID:             s.ids.NextTempID(),
			ConversationID: t.conversationID,
			Role:           model.RoleAssistant,
			Content:        failureText(classifyFailure(err), api.MessageOf(err)),
			CreatedAt:      model.Now(),
		}
		s.store.AppendMessageFor(t.conversationID, msg)
		result.Outcome = OutcomeFailed
		result.Assistant = &msg
		ev.Error = api.MessageOf(err)
		s.finish(ctx, ev, result)
		return result, err
	}

	data := resp.Data
	convID := t.conversationID
	if convID == 0 && data.ConversationID != 0 {
		convID = data.ConversationID
		if s.store.ActiveID() == 0 {
			s.store.SetActive(convID)
			if s.auth.IsAuthenticated() {
				if err := s.conversations.FetchConversations(ctx); err != nil {
					log.Warnw("刷新会话列表失败", "error", err)
				}
			}
		}
	}
	if t.userMsg != nil && len(data.Images) > 0 {
		s.store.ReplaceImages(t.userMsg.ID, data.Images)
	}

	msgID := data.MessageID
	if msgID == 0 {
		msgID = s.ids.NextTempID()
	}
	assistant := model.Message{
		ID:               msgID,
		ConversationID:   convID,
		Role:             model.RoleAssistant,
		Content:          data.Response,
		ReasoningContent: data.Reason,
		CreatedAt:        model.Now(),
	}
	if !s.store.AppendMessageFor(convID, assistant) {
		log.Infow("回复到达时已切换到其他会话，未写入当前消息列表", "conversationId", convID)
	}

	result.Outcome = OutcomeCompleted
	result.ConversationID = convID
	result.Assistant = &assistant
	ev.ConversationID = convID
	ev.Response = data.Response
	ev.Reason = data.Reason
	ev.MessageID = data.MessageID
	s.finish(ctx, ev, result)
	return result, nil
}

// finish 发布事件并写入归档，两者失败都只记录日志。
func (s *chatService) finish(ctx context.Context, ev TurnEvent, result *TurnResult) {
	ev.Outcome = result.Outcome
	ev.FinishedAt = time.Now()
	if conv, ok := s.store.Conversation(ev.ConversationID); ok {
		ev.Title = conv.Title
	}
	// 停止生成会取消 ctx，收尾工作不能跟着被取消
	bg := context.WithoutCancel(ctx)
	publishQuietly(bg, s.events, ev)
	if err := s.archive.RecordTurn(bg, ev); err != nil {
		log.Warnw("归档对话失败", "conversationId", ev.ConversationID, "error", err)
	}
}

// StopGeneration 请求服务器停止当前会话的生成，并取消本地进行中的请求。
// 服务器返回成功时，若最后一条消息是助手消息则追加一次中断提示。
func (s *chatService) StopGeneration(ctx context.Context) (*StopOutcome, error) {
	convID := s.store.ActiveID()
	if convID == 0 {
		return nil, ErrNoActiveConversation
	}

	s.mu.Lock()
	cur := s.current
	// 只中断属于当前会话的请求，切换会话不影响其他会话进行中的发送
	if cur != nil && cur.conversationID != 0 && cur.conversationID != convID {
		cur = nil
	}
	s.stopState = StopRequested
	s.mu.Unlock()
	if cur != nil {
		cur.stopRequested.Store(true)
	}
	log.Infow("尝试停止生成", "conversationId", convID)

	out := &StopOutcome{State: StopRequested}
	var stopErr error
	acknowledged := false

	resp, err := s.client.Chat.Stop(ctx, convID)
	switch {
	case err != nil && isBenignStopError(err):
		log.Infow("生成已完成或不存在，无需停止", "conversationId", convID)
		out.AlreadyFinished = true
	case err != nil:
		stopErr = s.auth.HandleError(ctx, err)
		log.Warnw("停止生成失败", "conversationId", convID, "error", err)
	case !resp.Data.Stopped:
		msg := resp.Message
		if msg == "" {
			msg = "停止生成失败"
		}
		stopErr = errors.New(msg)
	default:
		acknowledged = true
		out.StoppedAt = resp.Data.StoppedAt
	}
	if acknowledged || out.AlreadyFinished {
		s.setStopState(StopAcknowledged)
	}

	// 不论服务器结果如何都取消本会话的本地请求，并等待这一轮收尾
	if cur != nil {
		cur.cancel()
		select {
		case <-cur.done:
		case <-ctx.Done():
		}
	}

	if acknowledged {
		out.Annotated = s.store.AnnotateLastAssistant(StopSuffix)
	}
	s.setStopState(StopStopped)
	out.State = StopStopped
	return out, stopErr
}

func (s *chatService) setStopState(st StopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopState = st
}
