// Package api 是 AI 助手后端 REST API 的客户端。
//
// 所有接口都返回 {code, message, data} 结构；传输错误、HTTP 状态错误和业务错误
// 统一归一化为 *Error。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"aihelper-go/pkg/log"
)

// TokenSource 返回当前的 bearer token，未登录时返回空串。
type TokenSource interface {
	Token() string
}

// TokenFunc 让普通函数实现 TokenSource。
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// Response 是后端统一的响应结构。
type Response[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	// Raw 是未经处理的完整响应体
	Raw []byte `json:"-"`
}

// Options 配置 Client。
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenSource
	HTTPClient *http.Client
}

// Client 是后端 API 客户端，可以被多个 goroutine 同时使用。
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource

	Auth          *AuthAPI
	Users         *UsersAPI
	Chat          *ChatAPI
	Conversations *ConversationsAPI
	Messages      *MessagesAPI
}

// New 创建一个新的 Client。
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = TokenFunc(func() string { return "" })
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
	c.Auth = &AuthAPI{c: c}
	c.Users = &UsersAPI{c: c}
	c.Chat = &ChatAPI{c: c}
	c.Conversations = &ConversationsAPI{c: c}
	c.Messages = &MessagesAPI{c: c}
	return c
}

// SetTokenSource 替换 token 来源。
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// envelope 用指针区分 code 缺失和 code 为 0
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, body any) (*Response[T], error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return send[T](c, req)
}

func doMultipart[T any](ctx context.Context, c *Client, path, field, fileName string, file io.Reader) (*Response[T], error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send[T](c, req)
}

func send[T any](c *Client, req *http.Request) (*Response[T], error) {
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	path := req.URL.Path
	log.Debugw("API请求", "method", req.Method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		// 调用方主动取消时保留 context 错误，便于上层区分“停止”与“网络故障”
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fail(&Error{Kind: KindTransport, Method: req.Method, Path: path, Message: msgNoResponse, cause: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fail(&Error{Kind: KindTransport, Method: req.Method, Path: path, Status: resp.StatusCode, Message: msgNoResponse, cause: err})
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Kind: KindStatus, Method: req.Method, Path: path, Status: resp.StatusCode, Body: raw}
		if decodeErr == nil && env.Code != nil {
			apiErr.Code = *env.Code
		}
		apiErr.Message = env.Message
		if decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = statusMessage(resp.StatusCode)
		}
		return nil, fail(apiErr)
	}

	if decodeErr != nil {
		return nil, fail(&Error{Kind: KindDecode, Method: req.Method, Path: path, Status: resp.StatusCode, Body: raw, Message: msgGeneric, cause: decodeErr})
	}

	if env.Code != nil && *env.Code != http.StatusOK {
		msg := env.Message
		if msg == "" {
			msg = statusMessage(*env.Code)
		}
		return nil, fail(&Error{Kind: KindApplication, Method: req.Method, Path: path, Status: resp.StatusCode, Code: *env.Code, Body: raw, Message: msg})
	}

	out := &Response[T]{Message: env.Message, Raw: raw}
	if env.Code != nil {
		out.Code = *env.Code
	} else {
		out.Code = http.StatusOK
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &out.Data); err != nil {
			return nil, fail(&Error{Kind: KindDecode, Method: req.Method, Path: path, Status: resp.StatusCode, Body: raw, Message: msgGeneric, cause: err})
		}
	}
	return out, nil
}

func fail(e *Error) *Error {
	log.Errorw("API调用错误", "detail", e.Describe(), "cause", e.cause)
	return e
}
