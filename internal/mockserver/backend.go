// Package mockserver 是 AI 助手后端的内存实现，供本地联调和测试使用。
// 所有数据只保存在进程内，重启即丢失。
package mockserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"aihelper-go/internal/model"
	"aihelper-go/pkg/hash"
	"aihelper-go/pkg/log"

	"github.com/google/uuid"
)

// Error 是带业务码的错误，handler 把它写进响应体的 code 和 message。
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StoppedReply 是生成被中断时返回的回复内容。
const StoppedReply = "生成已被用户中断"

// Replier 根据会话历史生成回复，历史的最后一条是本次的用户消息。
// deepThinking 为 true 时可以返回推理过程。ctx 在用户停止生成时被取消。
type Replier func(ctx context.Context, history []model.Message, deepThinking bool) (response, reason string, err error)

// EchoReplier 原样复述最后一条用户消息。
func EchoReplier(_ context.Context, history []model.Message, deepThinking bool) (string, string, error) {
	prompt := ""
	if len(history) > 0 {
		prompt = history[len(history)-1].Content
	}
	reason := ""
	if deepThinking {
		reason = "用户说了：" + prompt
	}
	return "收到：" + prompt, reason, nil
}

// OCR 识别图片中的文字。
type OCR func(ctx context.Context, fileName string, data []byte) (string, error)

// Options 配置 Backend。
type Options struct {
	Replier Replier
	// ReplyDelay 模拟模型生成耗时，期间可以被停止
	ReplyDelay time.Duration
	// EchoCodes 为 true 时在验证码接口中返回验证码，相当于开发环境
	EchoCodes bool
	// OSSBaseURL 是签名 URL 的前缀
	OSSBaseURL string
	// OCR 为空时不识别图片文字
	OCR OCR
}

type userRecord struct {
	user         model.User
	passwordHash string
	avatarKey    string
	deactivated  bool
}

// Backend 保存所有用户、会话和消息。
type Backend struct {
	opts Options

	mu            sync.Mutex
	nextUserID    int64
	nextConvID    int64
	nextMessageID int64
	nextImageID   int64
	users         map[int64]*userRecord
	accounts      map[string]int64
	codes         map[string]string
	conversations map[int64]*model.Conversation
	messages      map[int64][]model.Message
	generating    map[int64]chan struct{}
}

// NewBackend 创建一个空的 Backend。
func NewBackend(opts Options) *Backend {
	if opts.Replier == nil {
		opts.Replier = EchoReplier
	}
	if opts.OSSBaseURL == "" {
		opts.OSSBaseURL = "https://oss.mock.local"
	}
	return &Backend{
		opts:          opts,
		users:         make(map[int64]*userRecord),
		accounts:      make(map[string]int64),
		codes:         make(map[string]string),
		conversations: make(map[int64]*model.Conversation),
		messages:      make(map[int64][]model.Message),
		generating:    make(map[int64]chan struct{}),
	}
}

var (
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

func isEmail(account string) bool  { return emailPattern.MatchString(account) }
func isMobile(account string) bool { return mobilePattern.MatchString(account) }

// EchoCodes 返回验证码接口是否回显验证码。
func (b *Backend) EchoCodes() bool {
	return b.opts.EchoCodes
}

// SendCode 为账号生成验证码。
func (b *Backend) SendCode(account, codeType string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", newError(http.StatusBadRequest, "账号不能为空")
	}
	if codeType == "" {
		return "", newError(http.StatusBadRequest, "验证码类型不能为空")
	}
	switch codeType {
	case "login", "register", "reset":
	default:
		return "", newError(http.StatusBadRequest, "不支持的验证码类型: %s", codeType)
	}
	if !isEmail(account) && !isMobile(account) {
		return "", newError(http.StatusBadRequest, "账号格式不正确，请输入正确的邮箱或手机号")
	}
	code := fmt.Sprintf("%06d", rand.Intn(1000000))

	b.mu.Lock()
	b.codes[codeType+":"+account] = code
	b.mu.Unlock()

	log.Infow("验证码已生成", "account", account, "type", codeType)
	return code, nil
}

// consumeCode 校验并作废验证码，调用方必须持有锁。
func (b *Backend) consumeCode(codeType, account, code string) error {
	key := codeType + ":" + account
	want, ok := b.codes[key]
	if !ok || want != code {
		return newError(http.StatusBadRequest, "验证码错误或已过期")
	}
	delete(b.codes, key)
	return nil
}

// Register 使用验证码注册。
func (b *Backend) Register(email, mobile, password, nickname, code string) (*model.User, error) {
	if email == "" && mobile == "" {
		return nil, newError(http.StatusBadRequest, "邮箱和手机号不能同时为空")
	}
	if len(password) < 6 || len(password) > 20 {
		return nil, newError(http.StatusBadRequest, "密码长度需在6-20个字符之间")
	}
	account := email
	if account == "" {
		account = mobile
	}
	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range []string{email, mobile} {
		if a == "" {
			continue
		}
		if _, exists := b.accounts[a]; exists {
			return nil, newError(http.StatusConflict, "%s 已被注册", a)
		}
	}
	if err := b.consumeCode("register", account, code); err != nil {
		return nil, err
	}

	b.nextUserID++
	now := model.Now()
	if nickname == "" {
		nickname = fmt.Sprintf("用户%04d", b.nextUserID)
	}
	rec := &userRecord{
		user: model.User{
			ID:        b.nextUserID,
			Username:  account,
			Nickname:  nickname,
			Email:     email,
			Mobile:    mobile,
			Status:    1,
			Role:      "user",
			CreatedAt: now,
			UpdatedAt: now,
		},
		passwordHash: hashed,
	}
	b.users[rec.user.ID] = rec
	if email != "" {
		b.accounts[email] = rec.user.ID
	}
	if mobile != "" {
		b.accounts[mobile] = rec.user.ID
	}
	u := b.userLocked(rec)
	return &u, nil
}

// Login 使用账号密码登录。
func (b *Backend) Login(account, password string) (*model.User, error) {
	if account == "" || password == "" {
		return nil, newError(http.StatusBadRequest, "账号和密码不能为空")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.activeByAccountLocked(account)
	if err != nil {
		return nil, err
	}
	if !hash.CheckPasswordHash(password, rec.passwordHash) {
		return nil, newError(http.StatusUnauthorized, "账号或密码错误")
	}
	u := b.userLocked(rec)
	return &u, nil
}

// LoginWithCode 使用验证码登录。
func (b *Backend) LoginWithCode(account, code string) (*model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.activeByAccountLocked(account)
	if err != nil {
		return nil, err
	}
	if err := b.consumeCode("login", account, code); err != nil {
		return nil, newError(http.StatusUnauthorized, "%s", err.Error())
	}
	u := b.userLocked(rec)
	return &u, nil
}

// ResetPassword 使用验证码重置密码。
func (b *Backend) ResetPassword(account, code, newPassword string) error {
	if len(newPassword) < 6 || len(newPassword) > 20 {
		return newError(http.StatusBadRequest, "新密码长度需在6-20个字符之间")
	}
	hashed, err := hash.HashPassword(newPassword)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.accounts[account]
	if !ok {
		return newError(http.StatusNotFound, "用户不存在")
	}
	if err := b.consumeCode("reset", account, code); err != nil {
		return err
	}
	b.users[id].passwordHash = hashed
	return nil
}

func (b *Backend) activeByAccountLocked(account string) (*userRecord, error) {
	id, ok := b.accounts[account]
	if !ok {
		return nil, newError(http.StatusUnauthorized, "用户不存在")
	}
	rec := b.users[id]
	if rec.deactivated {
		return nil, newError(http.StatusUnauthorized, "账号已注销")
	}
	return rec, nil
}

// User 返回仍然有效的用户，头像为新签名的 URL。
func (b *Backend) User(id int64) (*model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.users[id]
	if !ok || rec.deactivated {
		return nil, newError(http.StatusNotFound, "用户不存在")
	}
	u := b.userLocked(rec)
	return &u, nil
}

func (b *Backend) userLocked(rec *userRecord) model.User {
	u := rec.user
	if rec.avatarKey != "" {
		u.Avatar = b.signURL(rec.avatarKey)
	}
	return u
}

// UpdateProfile 更新昵称、邮箱和手机号。
func (b *Backend) UpdateProfile(id int64, nickname, email, mobile string) (*model.User, error) {
	if email != "" && !isEmail(email) {
		return nil, newError(http.StatusBadRequest, "邮箱格式不正确")
	}
	if mobile != "" && !isMobile(mobile) {
		return nil, newError(http.StatusBadRequest, "手机号格式不正确")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.users[id]
	if !ok || rec.deactivated {
		return nil, newError(http.StatusNotFound, "用户不存在")
	}
	if email != "" && email != rec.user.Email {
		if owner, exists := b.accounts[email]; exists && owner != id {
			return nil, newError(http.StatusConflict, "该邮箱已被使用")
		}
		delete(b.accounts, rec.user.Email)
		b.accounts[email] = id
		rec.user.Email = email
	}
	if mobile != "" && mobile != rec.user.Mobile {
		if owner, exists := b.accounts[mobile]; exists && owner != id {
			return nil, newError(http.StatusConflict, "该手机号已被使用")
		}
		delete(b.accounts, rec.user.Mobile)
		b.accounts[mobile] = id
		rec.user.Mobile = mobile
	}
	if nickname != "" {
		rec.user.Nickname = nickname
	}
	rec.user.UpdatedAt = model.Now()
	u := b.userLocked(rec)
	return &u, nil
}

// ChangePassword 校验旧密码后修改密码。
func (b *Backend) ChangePassword(id int64, current, next string) error {
	if current == "" {
		return newError(http.StatusBadRequest, "当前密码不能为空")
	}
	if len(next) < 6 || len(next) > 20 {
		return newError(http.StatusBadRequest, "新密码长度需在6-20个字符之间")
	}
	hashed, err := hash.HashPassword(next)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.users[id]
	if !ok {
		return newError(http.StatusNotFound, "用户不存在")
	}
	if !hash.CheckPasswordHash(current, rec.passwordHash) {
		return newError(http.StatusUnauthorized, "当前密码错误")
	}
	rec.passwordHash = hashed
	return nil
}

// Deactivate 注销账号，之后该用户的 token 全部失效。
func (b *Backend) Deactivate(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.users[id]
	if !ok || rec.deactivated {
		return newError(http.StatusNotFound, "用户不存在")
	}
	rec.deactivated = true
	return nil
}

// SetAvatar 保存上传的头像并返回签名 URL。
func (b *Backend) SetAvatar(id int64, fileName string, size int) (string, error) {
	if size == 0 {
		return "", newError(http.StatusBadRequest, "请选择要上传的图片文件")
	}
	if size > 2<<20 {
		return "", newError(http.StatusRequestEntityTooLarge, "图片大小不能超过2MB")
	}
	return b.storeAvatar(id, "avatars/"+uuid.NewString()+"-"+fileName)
}

// GenerateAvatar 模拟 AI 头像生成。已有头像且 forceReplace 为 false 时保留原头像。
func (b *Backend) GenerateAvatar(id int64, prompt string, forceReplace bool) (string, error) {
	b.mu.Lock()
	rec, ok := b.users[id]
	existing := ok && rec.avatarKey != ""
	b.mu.Unlock()
	if existing && prompt != "" && !forceReplace {
		return b.AvatarURL(id)
	}
	return b.storeAvatar(id, "avatars/ai-"+uuid.NewString()+".png")
}

func (b *Backend) storeAvatar(id int64, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.users[id]
	if !ok || rec.deactivated {
		return "", newError(http.StatusNotFound, "用户不存在")
	}
	rec.avatarKey = key
	rec.user.UpdatedAt = model.Now()
	return b.signURL(key), nil
}

// AvatarURL 重新签名用户头像。
func (b *Backend) AvatarURL(id int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.users[id]
	if !ok {
		return "", newError(http.StatusNotFound, "用户不存在")
	}
	if rec.avatarKey == "" {
		return "", newError(http.StatusNotFound, "用户未设置头像")
	}
	return b.signURL(rec.avatarKey), nil
}

// 签名 URL 一小时后过期
const signedURLTTL = time.Hour

func (b *Backend) signURL(key string) string {
	return fmt.Sprintf("%s/%s?Expires=%d&Signature=%s", b.opts.OSSBaseURL, key,
		time.Now().Add(signedURLTTL).Unix(), uuid.NewString()[:8])
}

// Conversations 按更新时间倒序返回用户的会话。
func (b *Backend) Conversations(userID int64) []model.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Conversation, 0)
	for _, c := range b.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].UpdatedAt.Time(), out[j].UpdatedAt.Time()
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out
}

// CreateConversation 创建会话，标题为空时使用 "新对话"。
func (b *Backend) CreateConversation(userID int64, title, modelName string) model.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createConversationLocked(userID, title, modelName)
}

func (b *Backend) createConversationLocked(userID int64, title, modelName string) model.Conversation {
	if title == "" {
		title = "新对话"
	}
	if modelName == "" {
		modelName = "deepseek-r1"
	}
	b.nextConvID++
	now := model.Now()
	c := &model.Conversation{ID: b.nextConvID, UserID: userID, Title: title, Model: modelName, CreatedAt: now, UpdatedAt: now}
	b.conversations[c.ID] = c
	return *c
}

// Conversation 按 id 返回会话。
func (b *Backend) Conversation(id int64) (*model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return nil, newError(http.StatusNotFound, "会话不存在")
	}
	out := *c
	return &out, nil
}

// UpdateTitle 修改会话标题。
func (b *Backend) UpdateTitle(id int64, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return newError(http.StatusNotFound, "会话不存在")
	}
	c.Title = title
	c.UpdatedAt = model.Now()
	return nil
}

// GenerateTitle 用第一条用户消息生成标题。
func (b *Backend) GenerateTitle(id int64) (*model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return nil, newError(http.StatusNotFound, "会话不存在")
	}
	for _, m := range b.messages[id] {
		if m.Role == model.RoleUser && strings.TrimSpace(m.Content) != "" {
			c.Title = summarize(m.Content)
			c.UpdatedAt = model.Now()
			break
		}
	}
	out := *c
	return &out, nil
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= 15 {
		return text
	}
	return string([]rune(text)[:15])
}

// DeleteConversation 删除会话及其消息。
func (b *Backend) DeleteConversation(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[id]; !ok {
		return newError(http.StatusNotFound, "会话不存在")
	}
	delete(b.conversations, id)
	delete(b.messages, id)
	return nil
}

// Messages 返回会话中的全部消息。
func (b *Backend) Messages(conversationID int64) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[conversationID]; !ok {
		return nil, newError(http.StatusNotFound, "会话不存在")
	}
	msgs := b.messages[conversationID]
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

// DeleteMessage 删除一条消息。
func (b *Backend) DeleteMessage(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for convID, msgs := range b.messages {
		for i, m := range msgs {
			if m.ID == id {
				b.messages[convID] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return newError(http.StatusNotFound, "消息不存在")
}

// ChatInput 是一次对话请求。
type ChatInput struct {
	Prompt         string
	ConversationID int64
	UserID         int64
	Model          string
	DeepThinking   bool
	Images         []string
}

// ChatOutput 是一次对话的结果。
type ChatOutput struct {
	ConversationID int64
	Response       string
	Reason         string
	MessageID      int64
	Images         []model.MessageImage
}

// Chat 保存用户消息，等待 ReplyDelay 后生成回复。等待期间可以被 Stop 中断。
func (b *Backend) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" && len(in.Images) == 0 {
		return nil, newError(http.StatusBadRequest, "消息内容不能为空")
	}

	decoded, err := b.decodeImages(ctx, in.Images)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	var conv *model.Conversation
	if in.ConversationID != 0 {
		c, ok := b.conversations[in.ConversationID]
		if !ok {
			b.mu.Unlock()
			return nil, newError(http.StatusNotFound, "会话不存在")
		}
		conv = c
	} else {
		created := b.createConversationLocked(in.UserID, titleFromPrompt(in.Prompt), in.Model)
		conv = b.conversations[created.ID]
	}
	images := b.storeImagesLocked(decoded)
	b.appendLocked(conv.ID, model.Message{Role: model.RoleUser, Content: in.Prompt, HasImages: len(images) > 0, Images: images})
	stop := make(chan struct{})
	b.generating[conv.ID] = stop
	convID := conv.ID
	history := append([]model.Message(nil), b.messages[convID]...)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.generating[convID] == stop {
			delete(b.generating, convID)
		}
		b.mu.Unlock()
	}()

	stopped := &ChatOutput{ConversationID: convID, Response: StoppedReply, Images: images}
	if b.opts.ReplyDelay > 0 {
		timer := time.NewTimer(b.opts.ReplyDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			log.Infow("生成已被用户中断", "conversationId", convID)
			return stopped, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-genCtx.Done():
		}
	}()

	response, reason, err := b.opts.Replier(genCtx, history, in.DeepThinking)
	if isClosed(stop) {
		log.Infow("生成已被用户中断", "conversationId", convID)
		return stopped, nil
	}
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	msg := b.appendLocked(convID, model.Message{Role: model.RoleAssistant, Content: response, ReasoningContent: reason})
	b.mu.Unlock()

	return &ChatOutput{ConversationID: convID, Response: response, Reason: reason, MessageID: msg.ID, Images: images}, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Stop 中断会话进行中的生成，没有进行中的生成时返回 false。
func (b *Backend) Stop(conversationID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	stop, ok := b.generating[conversationID]
	if !ok {
		return false
	}
	close(stop)
	delete(b.generating, conversationID)
	return true
}

// InFlight 判断会话是否有进行中的生成。
func (b *Backend) InFlight(conversationID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.generating[conversationID]
	return ok
}

func titleFromPrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) > 20 {
		return string([]rune(prompt)[:20]) + "..."
	}
	return prompt
}

func (b *Backend) appendLocked(convID int64, m model.Message) model.Message {
	b.nextMessageID++
	m.ID = b.nextMessageID
	m.ConversationID = convID
	m.Order = len(b.messages[convID]) + 1
	m.CreatedAt = model.Now()
	b.messages[convID] = append(b.messages[convID], m)
	if c, ok := b.conversations[convID]; ok {
		c.UpdatedAt = m.CreatedAt
	}
	return m
}

type decodedImage struct {
	name string
	size int
	text string
}

// decodeImages 解析 data URL 并做 OCR，不持有锁。
func (b *Backend) decodeImages(ctx context.Context, dataURLs []string) ([]decodedImage, error) {
	var out []decodedImage
	for _, d := range dataURLs {
		comma := strings.Index(d, ",")
		if !strings.HasPrefix(d, "data:image") || comma < 0 {
			return nil, newError(http.StatusBadRequest, "图片格式不正确")
		}
		raw, err := base64.StdEncoding.DecodeString(d[comma+1:])
		if err != nil {
			return nil, newError(http.StatusBadRequest, "图片解码失败")
		}
		ext := "png"
		if semi := strings.Index(d, ";"); semi > len("data:image/") {
			ext = d[len("data:image/"):semi]
		}
		img := decodedImage{name: uuid.NewString() + "." + ext, size: len(raw)}
		if b.opts.OCR != nil {
			text, err := b.opts.OCR(ctx, img.name, raw)
			if err != nil {
				log.Warnw("图片 OCR 失败", "file", img.name, "error", err)
			}
			img.text = text
		}
		if img.text == "" {
			img.text = fmt.Sprintf("图片大小 %d 字节，未识别到文字", img.size)
		}
		out = append(out, img)
	}
	return out, nil
}

func (b *Backend) storeImagesLocked(decoded []decodedImage) []model.MessageImage {
	var images []model.MessageImage
	for _, d := range decoded {
		b.nextImageID++
		images = append(images, model.MessageImage{
			ID:               b.nextImageID,
			SignedURL:        b.signURL("chat-images/" + d.name),
			OCRText:          d.text,
			OriginalFileName: d.name,
		})
	}
	return images
}
