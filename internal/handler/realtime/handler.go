package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

const (
	// Path 实时转写 WebSocket 路径
	Path = "/ws/asr/transcribe/realtime"

	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Authenticator 校验查询参数中的令牌
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (asr.User, error)
}

// Handler 实时转写WebSocket处理器
type Handler struct {
	auth     Authenticator
	upgrader websocket.Upgrader
}

// New 创建实时转写处理器
func New(auth Authenticator) *Handler {
	return &Handler{
		auth: auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由，认证通过查询参数完成
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(Path, h.handleWebSocket)
}

type inboundMessage struct {
	Type       string `json:"type"`
	Mode       string `json:"mode"`
	WavName    string `json:"wav_name"`
	IsSpeaking *bool  `json:"is_speaking"`
	Hotwords   string `json:"hotwords"`
	Timestamp  int64  `json:"timestamp"`
}

type resultData struct {
	Text             string   `json:"text"`
	IsFinal          bool     `json:"is_final"`
	Confidence       float64  `json:"confidence"`
	HotwordsDetected []string `json:"hotwords_detected"`
	Timestamp        string   `json:"timestamp"`
}

// streamState 单个连接的识别状态，只在读循环中访问
type streamState struct {
	user      asr.User
	mode      string
	wavName   string
	hotwords  []string
	chunks    int
	bytesSeen int
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	user, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "认证失败")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		log.Printf("[websocket] rejected realtime connection: %v", err)
		return
	}

	log.Printf("[websocket] realtime connection user=%s", user.Username)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go pingLoop(ctx, conn)

	state := &streamState{user: user, mode: "2pass"}
	send(conn, map[string]any{"type": "connection_established", "user_id": user.Username})
	send(conn, map[string]any{"type": "ready"})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			handleAudio(conn, state, data)
		case websocket.TextMessage:
			handleText(conn, state, data)
		}
	}
}

func handleText(conn *websocket.Conn, state *streamState, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		sendError(conn, "invalid message payload")
		return
	}

	switch {
	case msg.Type == "ping":
		send(conn, map[string]any{"type": "pong", "timestamp": msg.Timestamp})
	case msg.Type == "start":
		if msg.Mode != "" {
			state.mode = msg.Mode
		}
		state.wavName = msg.WavName
		state.hotwords = parseHotwords(msg.Hotwords)
		state.chunks, state.bytesSeen = 0, 0
		log.Printf("[websocket] stream started user=%s mode=%s wav=%s", state.user.Username, state.mode, state.wavName)
	case msg.Type == "stop", msg.IsSpeaking != nil && !*msg.IsSpeaking:
		send(conn, resultMessage(state, true))
	default:
		sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func handleAudio(conn *websocket.Conn, state *streamState, data []byte) {
	if len(data) == 0 {
		return
	}
	state.chunks++
	state.bytesSeen += len(data)
	send(conn, resultMessage(state, false))
}

func resultMessage(state *streamState, final bool) map[string]any {
	text := fmt.Sprintf("已接收 %d 个音频块（%d 字节）", state.chunks, state.bytesSeen)
	if final {
		text = fmt.Sprintf("识别完成：%s %d 字节", state.wavName, state.bytesSeen)
	}

	detected := state.hotwords
	if detected == nil {
		detected = []string{}
	}

	return map[string]any{
		"type": "transcription_result",
		"data": resultData{
			Text:             text,
			IsFinal:          final,
			Confidence:       0.95,
			HotwordsDetected: detected,
			Timestamp:        time.Now().Format(time.RFC3339),
		},
	}
}

// parseHotwords 解析 start 消息中的热词：JSON 对象 {"词": 权重}，
// 或每行 "词 权重" 的纯文本
func parseHotwords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var weighted map[string]int
	if err := json.Unmarshal([]byte(raw), &weighted); err == nil {
		words := make([]string, 0, len(weighted))
		for word := range weighted {
			words = append(words, word)
		}
		sort.Strings(words)
		return words
	}

	var words []string
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			words = append(words, fields[0])
		}
	}
	return words
}

func send(conn *websocket.Conn, payload any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("[websocket] write failed: %v", err)
	}
}

func sendError(conn *websocket.Conn, message string) {
	send(conn, map[string]any{"type": "error", "message": message})
}

// pingLoop 定期发送协议层 ping；WriteControl 可与读循环中的写并发调用
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
