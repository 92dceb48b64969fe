package asr

import "time"

// Token 登录/注册成功后后端返回的访问令牌
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User 当前登录用户信息（/auth/me）
type User struct {
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Credentials 用户名密码
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
