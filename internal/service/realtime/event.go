package realtime

import (
	"strings"

	"github.com/bytedance/sonic"
)

// 服务端事件类型
const (
	EventConnectionEstablished = "connection_established"
	EventReady                 = "ready"
	EventTranscription         = "transcription_result"
	EventError                 = "error"
	EventPing                  = "ping"
	EventPong                  = "pong"
	EventBinary                = "binary"
	EventUnknown               = "unknown"
	// EventClosed 每次连接的最后一个事件，之后事件通道被关闭
	EventClosed = "closed"
)

// Event 按到达顺序投递的入站消息
type Event struct {
	Type      string
	UserID    string  // connection_established
	Result    *Result // transcription_result
	Message   string  // error
	Timestamp int64   // ping/pong
	Raw       []byte

	// closed 事件专用；正常关闭时 Err 为 nil
	Err       error
	CloseCode int
}

// Result 转写结果
type Result struct {
	Text             string   `json:"text"`
	IsFinal          bool     `json:"is_final"`
	Confidence       float64  `json:"confidence"`
	HotwordsDetected []string `json:"hotwords_detected"`
	Timestamp        string   `json:"timestamp"`
	Mode             string   `json:"mode,omitempty"`
}

type wireEvent struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	Data      *Result `json:"data"`

	// FunASR 原生帧没有 type 字段，直接携带 text/mode
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	IsFinal *bool  `json:"is_final"`
}

// decodeEvent 解析文本帧；无法解析的帧以 unknown 事件交给调用方
func decodeEvent(data []byte) Event {
	var w wireEvent
	if err := sonic.Unmarshal(data, &w); err != nil {
		return Event{Type: EventUnknown, Raw: data}
	}

	ev := Event{
		Type:      w.Type,
		UserID:    w.UserID,
		Message:   w.Message,
		Timestamp: w.Timestamp,
		Result:    w.Data,
		Raw:       data,
	}

	if ev.Type == "" && w.Mode != "" {
		ev.Type = EventTranscription
		ev.Result = &Result{
			Text:    w.Text,
			Mode:    w.Mode,
			IsFinal: (w.IsFinal != nil && *w.IsFinal) || strings.HasSuffix(w.Mode, ModeOffline),
		}
	}
	if ev.Type == "" {
		ev.Type = EventUnknown
	}
	return ev
}
