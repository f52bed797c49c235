// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"aihelper-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 与 Web 端 localStorage 使用相同的 key
const (
	KeyAuthToken           = "auth_token"
	KeyAuthTokenExpiration = "auth_token_expiration"
)

// SessionRepository 定义了登录凭证的持久化操作。
// Load 在没有保存的凭证时返回 (nil, nil)。
type SessionRepository interface {
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, session model.Session) error
	Clear(ctx context.Context) error
}

func encodeSession(s model.Session) map[string]string {
	return map[string]string{
		KeyAuthToken:           s.Token,
		KeyAuthTokenExpiration: strconv.FormatInt(s.ExpiresAt.UnixMilli(), 10),
	}
}

func decodeSession(values map[string]string) (*model.Session, error) {
	token := values[KeyAuthToken]
	rawExp := values[KeyAuthTokenExpiration]
	if token == "" || rawExp == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(rawExp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", KeyAuthTokenExpiration, rawExp, err)
	}
	return &model.Session{Token: token, ExpiresAt: time.UnixMilli(ms)}, nil
}

// fileSessionRepository 把凭证保存在本地 JSON 文件中。
type fileSessionRepository struct {
	mu   sync.Mutex
	path string
}

// NewFileSessionRepository 创建基于文件的 SessionRepository。
func NewFileSessionRepository(path string) SessionRepository {
	return &fileSessionRepository{path: path}
}

func (r *fileSessionRepository) Load(ctx context.Context) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	return decodeSession(values)
}

func (r *fileSessionRepository) Save(ctx context.Context, session model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(encodeSession(session), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	// 先写临时文件再改名，避免中途失败留下半个文件
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *fileSessionRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// redisSessionRepository 把凭证保存在 Redis 中，多台机器可以共享同一登录状态。
type redisSessionRepository struct {
	redisClient *redis.Client
	prefix      string
}

// NewRedisSessionRepository 创建基于 Redis 的 SessionRepository。
func NewRedisSessionRepository(redisClient *redis.Client, keyPrefix string) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient, prefix: keyPrefix}
}

func (r *redisSessionRepository) key(name string) string {
	return r.prefix + name
}

func (r *redisSessionRepository) Load(ctx context.Context) (*model.Session, error) {
	vals, err := r.redisClient.MGet(ctx, r.key(KeyAuthToken), r.key(KeyAuthTokenExpiration)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	values := map[string]string{}
	for i, name := range []string{KeyAuthToken, KeyAuthTokenExpiration} {
		if s, ok := vals[i].(string); ok {
			values[name] = s
		}
	}
	return decodeSession(values)
}

func (r *redisSessionRepository) Save(ctx context.Context, session model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return r.Clear(ctx)
	}
	pipe := r.redisClient.TxPipeline()
	for name, value := range encodeSession(session) {
		pipe.Set(ctx, r.key(name), value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) Clear(ctx context.Context) error {
	if err := r.redisClient.Del(ctx, r.key(KeyAuthToken), r.key(KeyAuthTokenExpiration)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// memorySessionRepository 只在进程内保存凭证，主要用于测试和一次性命令。
type memorySessionRepository struct {
	mu      sync.Mutex
	session *model.Session
}

// NewMemorySessionRepository 创建内存中的 SessionRepository。
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{}
}

func (r *memorySessionRepository) Load(ctx context.Context) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, nil
	}
	s := *r.session
	return &s, nil
}

func (r *memorySessionRepository) Save(ctx context.Context, session model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = &session
	return nil
}

func (r *memorySessionRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
	return nil
}
