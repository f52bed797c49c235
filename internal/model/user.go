package model

import "time"

// User 是当前登录用户的资料。
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Email     string    `json:"email,omitempty"`
	Mobile    string    `json:"mobile,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Status    int       `json:"status"`
	Role      string    `json:"role"`
	CreatedAt LocalTime `json:"createdAt"`
	UpdatedAt LocalTime `json:"updatedAt"`
}

// DisplayName 优先返回昵称。
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Session 是持久化的登录凭证。
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid 当且仅当 now 早于过期时间时会话有效。
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}
