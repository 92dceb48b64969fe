package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed 握手失败，通道停留在 Closed
	ErrConnectionFailed = errors.New("realtime connection failed")
	// ErrAlreadyActive 通道正在连接、已打开或正在关闭
	ErrAlreadyActive = errors.New("realtime channel already active")
	// ErrNoSession 没有可用的登录令牌
	ErrNoSession = errors.New("no active session")
)

// ConnectionError 描述一次失败的握手。URL 不含令牌。
type ConnectionError struct {
	URL    string
	Status int // 握手 HTTP 状态码，网络错误时为 0
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("connect %s: handshake status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}

// CloseError 连接被服务端以非正常关闭码关闭
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("realtime channel closed (%d %s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("realtime channel closed (%d)", e.Code)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
