package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/asr-client/internal/metrics"
	"github.com/zhouzirui/asr-client/internal/service/session"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

// DefaultPath 实时转写端点
const DefaultPath = "/ws/asr/transcribe/realtime"

// State 通道状态
type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config 实时通道配置
type Config struct {
	BaseURL           string        // 后端 http(s) 地址
	Path              string        // 默认 DefaultPath
	HeartbeatInterval time.Duration // 0 关闭心跳
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	CloseTimeout      time.Duration // Stop 等待服务端回应关闭帧的时间
	QueueSize         int
}

// Option 通道选项
type Option func(*Channel)

// WithMetrics 记录连接与帧指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithDialer 替换默认的 websocket.Dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

type outFrame struct {
	msgType   int
	data      []byte
	label     string
	heartbeat bool
}

// link 一次连接的全部资源，Start 每次成功都会创建新的 link
type link struct {
	ws       *websocket.Conn
	token    string // 握手时使用的令牌
	outbound chan outFrame
	closeReq chan struct{} // Stop 请求优雅关闭
	done     chan struct{} // 连接已拆除
	events   chan Event

	// senders 统计在慢路径上等待入队的发送方，写协程关闭前等它们全部入队
	senders sync.WaitGroup

	finishOnce sync.Once
	stopping   bool // 受 Channel.mu 保护
}

// Channel 实时转写双工通道。同一时间最多一个连接；
// 套接字只由写协程写入，入站帧按到达顺序经 Events 投递。
type Channel struct {
	cfg     Config
	store   *session.Store
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	target  *url.URL

	mu            sync.Mutex
	state         State
	cur           *link
	cancelDial    context.CancelFunc
	lastHeartbeat time.Time
}

// New 创建空闲状态的通道
func New(cfg Config, store *session.Store, opts ...Option) (*Channel, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}

	target, err := websocketURL(cfg.BaseURL, cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	c := &Channel{
		cfg:    cfg,
		store:  store,
		target: target,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// websocketURL 将 http/https 基础地址转换为 ws/wss
func websocketURL(base, path string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = DefaultPath
	}
	return u.JoinPath(path), nil
}

// State 当前状态
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat 最近一次心跳发出的时间
func (c *Channel) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Events 当前连接的事件通道；Start 之前返回 nil。
// 调用方需持续读取直到通道关闭，最后一个事件是 closed。
func (c *Channel) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.events
}

// Start 建立连接。ctx 只约束握手，连接建立后由 Stop 结束。
// 处于 Connecting/Open/Closing 时直接返回 ErrAlreadyActive，不影响现有连接。
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connecting, Open, Closing:
		c.mu.Unlock()
		return ErrAlreadyActive
	}

	token, ok := c.store.Token()
	if !ok {
		c.mu.Unlock()
		return &ConnectionError{URL: c.target.String(), Err: ErrNoSession}
	}

	dialCtx, cancel := context.WithCancel(ctx)
	c.state = Connecting
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	target := *c.target
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	ws, resp, err := c.dialer.DialContext(dialCtx, target.String(), nil)
	if err != nil {
		return c.handshakeFailed(token, resp, err)
	}

	c.mu.Lock()
	c.cancelDial = nil
	if c.state != Connecting {
		// Stop 在握手期间被调用
		c.state = Closed
		c.mu.Unlock()
		ws.Close()
		c.metrics.RecordRealtimeConnect("cancelled")
		return &ConnectionError{URL: c.target.String(), Err: context.Canceled}
	}

	l := &link{
		ws:       ws,
		token:    token,
		outbound: make(chan outFrame, c.cfg.QueueSize),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),
		events:   make(chan Event, c.cfg.QueueSize),
	}
	c.cur = l
	c.state = Open
	c.mu.Unlock()

	c.metrics.RecordRealtimeConnect("ok")
	c.metrics.RealtimeOpened()
	log.Printf("[realtime] connected to %s", c.target.String())

	go c.readLoop(l)
	go c.writeLoop(l)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(l)
	}
	return nil
}

func (c *Channel) handshakeFailed(token string, resp *http.Response, err error) error {
	c.mu.Lock()
	c.state = Closed
	c.cancelDial = nil
	c.mu.Unlock()

	connErr := &ConnectionError{URL: c.target.String(), Err: err}
	if resp != nil {
		connErr.Status = resp.StatusCode
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			connErr.Err = fmt.Errorf("%w: %v", transport.ErrUnauthorized, err)
			c.store.ClearToken(token, session.ReasonUnauthorized)
			c.metrics.RecordRealtimeConnect("unauthorized")
			log.Printf("[realtime] handshake rejected with status %d", resp.StatusCode)
			return connErr
		}
	}

	c.metrics.RecordRealtimeConnect("failed")
	log.Printf("[realtime] connect failed: %v", connErr)
	return connErr
}

// Stop 优雅关闭：写协程先发完队列中的帧，再发送关闭帧。可重复调用。
func (c *Channel) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Idle, Closed:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.state = Closing
		if c.cancelDial != nil {
			c.cancelDial()
		}
		c.mu.Unlock()
		return nil
	}

	l := c.cur
	if l == nil {
		c.mu.Unlock()
		return nil
	}
	if c.state == Open {
		c.state = Closing
		l.stopping = true
		close(l.closeReq)
	}
	c.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(c.cfg.CloseTimeout):
		log.Printf("[realtime] close handshake timed out, dropping connection")
		c.finish(l)
	}
	return nil
}

// SendCommand 编码命令并排队发送；非 Open 状态下丢弃并返回 false
func (c *Channel) SendCommand(cmd Command) bool {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		log.Printf("[realtime] failed to encode %s command: %v", cmd.Type, err)
		return false
	}
	return c.enqueue(outFrame{msgType: websocket.TextMessage, data: data, label: commandLabel(cmd)})
}

// SendAudio 发送一块二进制音频；非 Open 状态下丢弃并返回 false
func (c *Channel) SendAudio(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return c.enqueue(outFrame{msgType: websocket.BinaryMessage, data: buf, label: EventBinary})
}

func commandLabel(cmd Command) string {
	if cmd.Type == "" {
		return "command"
	}
	return cmd.Type
}

func (c *Channel) enqueue(f outFrame) bool {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return false
	}
	l := c.cur
	// 持锁入队保证 Stop 之前的帧一定会被写协程发出
	select {
	case l.outbound <- f:
		c.mu.Unlock()
		return true
	default:
	}
	// 队列已满：登记后再等待，Stop 只能在登记之后切换状态
	l.senders.Add(1)
	c.mu.Unlock()
	defer l.senders.Done()

	select {
	case l.outbound <- f:
		return true
	case <-l.done:
		return false
	}
}

func (c *Channel) writeLoop(l *link) {
	for {
		select {
		case f := <-l.outbound:
			if err := c.writeFrame(l, f); err != nil {
				log.Printf("[realtime] write failed: %v", err)
				c.finish(l)
				return
			}
		case <-l.closeReq:
			if err := c.drainSenders(l); err != nil {
				log.Printf("[realtime] flush failed: %v", err)
				c.finish(l)
				return
			}
			c.setWriteDeadline(l)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := l.ws.WriteMessage(websocket.CloseMessage, msg); err != nil {
				c.finish(l)
			}
			return
		case <-l.done:
			return
		}
	}
}

// drainSenders 持续写出队列，直到所有等待中的发送方都已入队，再清空队列
func (c *Channel) drainSenders(l *link) error {
	waiting := make(chan struct{})
	go func() {
		l.senders.Wait()
		close(waiting)
	}()

	for {
		select {
		case f := <-l.outbound:
			if err := c.writeFrame(l, f); err != nil {
				return err
			}
		case <-waiting:
			return c.flush(l)
		case <-l.done:
			return nil
		}
	}
}

func (c *Channel) flush(l *link) error {
	for {
		select {
		case f := <-l.outbound:
			if err := c.writeFrame(l, f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Channel) writeFrame(l *link, f outFrame) error {
	if f.heartbeat {
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
	}
	c.setWriteDeadline(l)
	if err := l.ws.WriteMessage(f.msgType, f.data); err != nil {
		return err
	}
	c.metrics.RecordRealtimeFrame("out", f.label)
	return nil
}

func (c *Channel) setWriteDeadline(l *link) {
	if c.cfg.WriteTimeout > 0 {
		l.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}

func (c *Channel) heartbeatLoop(l *link) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closeReq:
			return
		case <-l.done:
			return
		case t := <-ticker.C:
			data, err := sonic.Marshal(PingCommand(t))
			if err != nil {
				continue
			}
			c.enqueue(outFrame{msgType: websocket.TextMessage, data: data, label: CommandPing, heartbeat: true})
		}
	}
}

func (c *Channel) readLoop(l *link) {
	var closed Event
	for {
		msgType, data, err := l.ws.ReadMessage()
		if err != nil {
			closed = c.closeEvent(l, err)
			break
		}

		var ev Event
		if msgType == websocket.BinaryMessage {
			ev = Event{Type: EventBinary, Raw: data}
		} else {
			ev = decodeEvent(data)
		}
		c.metrics.RecordRealtimeFrame("in", ev.Type)
		select {
		case l.events <- ev:
		case <-l.done:
			// 连接已拆除且无人读取，丢弃剩余帧
		}
	}

	c.finish(l)

	// 调用方可能已停止读取；最多等待 CloseTimeout 投递终止事件
	select {
	case l.events <- closed:
	case <-time.After(c.cfg.CloseTimeout):
		log.Printf("[realtime] events not drained, dropping closed event")
	}
	close(l.events)
}

// closeEvent 根据读错误生成终止事件；1008 视为认证失败并清除会话
func (c *Channel) closeEvent(l *link, err error) Event {
	c.mu.Lock()
	stopping := l.stopping
	c.mu.Unlock()

	ev := Event{Type: EventClosed}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		ev.CloseCode = ce.Code
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ev
		case websocket.CloseAbnormalClosure:
			if stopping {
				return ev
			}
			ev.Err = &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
			return ev
		case websocket.ClosePolicyViolation:
			c.store.ClearToken(l.token, session.ReasonUnauthorized)
			ev.Err = &CloseError{Code: ce.Code, Reason: ce.Text, Err: transport.ErrUnauthorized}
			log.Printf("[realtime] server closed the channel: policy violation, session cleared")
			return ev
		default:
			ev.Err = &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
			return ev
		}
	}

	if stopping {
		return ev
	}
	ev.CloseCode = websocket.CloseAbnormalClosure
	ev.Err = fmt.Errorf("realtime connection lost: %w", err)
	return ev
}

// finish 拆除连接，只执行一次
func (c *Channel) finish(l *link) {
	l.finishOnce.Do(func() {
		c.mu.Lock()
		if c.cur == l {
			c.state = Closed
		}
		c.mu.Unlock()

		close(l.done)
		l.ws.Close()
		c.metrics.RealtimeClosed()
		log.Printf("[realtime] channel closed")
	})
}
