package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/asr-client/internal/service/session"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

type recordedFrame struct {
	msgType int
	data    []byte
}

// fakeServer 模拟实时转写端点，记录收到的每一帧
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	frames []recordedFrame

	connects   atomic.Int32
	handshakes atomic.Int32
	finished   chan struct{}

	// 可选行为
	rejectStatus int
	afterUpgrade func(conn *websocket.Conn) bool // 返回 false 时结束连接
	readDelay    time.Duration                   // 问候之后延迟开始读取
	greetings    int                             // 额外推送的 ready 事件数
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, finished: make(chan struct{}, 8)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.handshakes.Add(1)
	if r.URL.Path != DefaultPath {
		http.NotFound(w, r)
		return
	}
	if fs.rejectStatus != 0 {
		http.Error(w, "rejected", fs.rejectStatus)
		return
	}
	if r.URL.Query().Get("token") != "good" {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	defer func() { fs.finished <- struct{}{} }()
	fs.connects.Add(1)

	if fs.afterUpgrade != nil && !fs.afterUpgrade(conn) {
		return
	}

	conn.WriteJSON(map[string]any{"type": "connection_established", "user_id": "alice"})
	conn.WriteJSON(map[string]any{"type": "ready"})
	for i := 0; i < fs.greetings; i++ {
		conn.WriteJSON(map[string]any{"type": "ready"})
	}
	time.Sleep(fs.readDelay)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.frames = append(fs.frames, recordedFrame{msgType: msgType, data: data})
		fs.mu.Unlock()

		if msgType != websocket.TextMessage {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case CommandPing:
			conn.WriteJSON(map[string]any{"type": "pong", "timestamp": cmd.Timestamp})
		case CommandStop:
			conn.WriteJSON(map[string]any{
				"type": "transcription_result",
				"data": map[string]any{"text": "你好", "is_final": true, "confidence": 0.95},
			})
		}
	}
}

func (fs *fakeServer) recorded() []recordedFrame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]recordedFrame(nil), fs.frames...)
}

func (fs *fakeServer) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-fs.finished:
	case <-time.After(3 * time.Second):
		t.Fatal("server connection did not finish")
	}
}

func newTestChannel(t *testing.T, fs *fakeServer, store *session.Store, mutate func(*Config)) *Channel {
	t.Helper()
	cfg := Config{BaseURL: fs.srv.URL, CloseTimeout: 2 * time.Second, WriteTimeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	ch, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return ch
}

func loggedIn() *session.Store {
	store := session.NewStore(nil)
	store.SetSession("good")
	return store
}

// waitEvent 读取事件直到出现 want 类型
func waitEvent(t *testing.T, events <-chan Event, want string) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before %q", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func drainEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("events channel was not closed")
		}
	}
}

func TestStartSendStop(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if ch.State() != Open {
		t.Fatalf("expected open, got %s", ch.State())
	}

	events := ch.Events()
	if ev := waitEvent(t, events, EventConnectionEstablished); ev.UserID != "alice" {
		t.Fatalf("unexpected user id: %q", ev.UserID)
	}
	waitEvent(t, events, EventReady)

	if !ch.SendCommand(StopCommand()) {
		t.Fatal("SendCommand should succeed while open")
	}
	result := waitEvent(t, events, EventTranscription)
	if result.Result == nil || !result.Result.IsFinal || result.Result.Text != "你好" {
		t.Fatalf("unexpected result: %+v", result.Result)
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	if ch.SendCommand(StopCommand()) {
		t.Fatal("SendCommand after Stop must be a no-op")
	}

	rest := drainEvents(t, events)
	last := rest[len(rest)-1]
	if last.Type != EventClosed || last.Err != nil {
		t.Fatalf("expected clean closed event, got %+v", last)
	}

	fs.waitFinished(t)
	frames := fs.recorded()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	if string(frames[0].data) != `{"type":"stop","is_speaking":false}` {
		t.Fatalf("unexpected frame: %s", frames[0].data)
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("second Stop err: %v", err)
	}
}

func TestSecondStartLeavesConnectionAlone(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), nil)
	defer ch.Stop()

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	events := ch.Events()

	if err := ch.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if ch.Events() != events {
		t.Fatal("second Start must not replace the event stream")
	}

	if !ch.SendCommand(PingCommand(time.UnixMilli(42))) {
		t.Fatal("first connection should still accept commands")
	}
	if ev := waitEvent(t, events, EventPong); ev.Timestamp != 42 {
		t.Fatalf("unexpected pong timestamp: %d", ev.Timestamp)
	}
	if n := fs.connects.Load(); n != 1 {
		t.Fatalf("expected one connection, got %d", n)
	}
}

func TestStartWithoutSession(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, session.NewStore(nil), nil)

	err := ch.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrConnectionFailed wrapping ErrNoSession, got %v", err)
	}
	if fs.handshakes.Load() != 0 {
		t.Fatal("no dial should happen without a session")
	}
}

func TestHandshakeUnauthorizedClearsSession(t *testing.T) {
	fs := newFakeServer(t)
	store := session.NewStore(nil)
	store.SetSession("expired")
	ch := newTestChannel(t, fs, store, nil)

	var invalidations int32
	store.OnInvalidated(func(session.Invalidation) { atomic.AddInt32(&invalidations, 1) })

	err := ch.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, transport.ErrUnauthorized) {
		t.Fatalf("expected unauthorized connection failure, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected ConnectionError with status 401, got %v", err)
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	if store.Valid() || atomic.LoadInt32(&invalidations) != 1 {
		t.Fatal("expected the session to be cleared once")
	}
}

func TestHandshakeServerErrorKeepsSession(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectStatus = http.StatusServiceUnavailable
	store := loggedIn()
	ch := newTestChannel(t, fs, store, nil)

	err := ch.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) || errors.Is(err, transport.ErrUnauthorized) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.Valid() {
		t.Fatal("a 503 handshake must not clear the session")
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
}

func TestPolicyViolationClearsSession(t *testing.T) {
	fs := newFakeServer(t)
	fs.afterUpgrade = func(conn *websocket.Conn) bool {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "认证失败")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.ReadMessage()
		return false
	}
	store := loggedIn()
	ch := newTestChannel(t, fs, store, nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	events := drainEvents(t, ch.Events())
	last := events[len(events)-1]
	if last.Type != EventClosed || last.CloseCode != websocket.ClosePolicyViolation {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	if !errors.Is(last.Err, transport.ErrUnauthorized) {
		t.Fatalf("expected unauthorized close error, got %v", last.Err)
	}
	if store.Valid() {
		t.Fatal("session should be cleared")
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
}

func TestAbruptLoss(t *testing.T) {
	fs := newFakeServer(t)
	fs.afterUpgrade = func(conn *websocket.Conn) bool {
		conn.UnderlyingConn().Close()
		return false
	}
	store := loggedIn()
	ch := newTestChannel(t, fs, store, nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	events := drainEvents(t, ch.Events())
	last := events[len(events)-1]
	if last.Type != EventClosed || last.Err == nil {
		t.Fatalf("expected closed event with error, got %+v", last)
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	if !store.Valid() {
		t.Fatal("connection loss must not clear the session")
	}
	if ch.SendAudio([]byte{1, 2}) {
		t.Fatal("SendAudio after loss must be a no-op")
	}
}

func TestRestartAfterClose(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), nil)

	for i := 0; i < 2; i++ {
		if err := ch.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d err: %v", i, err)
		}
		waitEvent(t, ch.Events(), EventReady)
		if err := ch.Stop(); err != nil {
			t.Fatalf("Stop #%d err: %v", i, err)
		}
	}
	if n := fs.connects.Load(); n != 2 {
		t.Fatalf("expected two connections, got %d", n)
	}
}

func TestHeartbeat(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), func(cfg *Config) {
		cfg.HeartbeatInterval = 20 * time.Millisecond
	})
	defer ch.Stop()

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	waitEvent(t, ch.Events(), EventPong)

	if ch.LastHeartbeat().IsZero() {
		t.Fatal("expected a heartbeat to be recorded")
	}

	var ping Command
	if err := json.Unmarshal(fs.recorded()[0].data, &ping); err != nil {
		t.Fatalf("decode ping err: %v", err)
	}
	if ping.Type != CommandPing || ping.Timestamp == 0 {
		t.Fatalf("unexpected heartbeat frame: %+v", ping)
	}
}

func TestSendAudioOrder(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	ch.SendCommand(StartCommand(StreamOptions{WavName: "demo"}))
	for i := byte(0); i < 5; i++ {
		if !ch.SendAudio([]byte{i, i}) {
			t.Fatalf("SendAudio %d failed", i)
		}
	}
	ch.SendCommand(StopCommand())
	ch.Stop()
	fs.waitFinished(t)

	frames := fs.recorded()
	if len(frames) != 7 {
		t.Fatalf("expected 7 frames, got %d", len(frames))
	}
	if frames[0].msgType != websocket.TextMessage || frames[6].msgType != websocket.TextMessage {
		t.Fatal("expected start and stop as text frames")
	}
	for i := 1; i <= 5; i++ {
		if frames[i].msgType != websocket.BinaryMessage || frames[i].data[0] != byte(i-1) {
			t.Fatalf("frame %d out of order: %+v", i, frames[i])
		}
	}
}

func TestSendWhenIdle(t *testing.T) {
	fs := newFakeServer(t)
	ch := newTestChannel(t, fs, loggedIn(), nil)

	if ch.State() != Idle {
		t.Fatalf("expected idle, got %s", ch.State())
	}
	if ch.SendCommand(StopCommand()) || ch.SendAudio([]byte{1}) {
		t.Fatal("sends must be dropped while idle")
	}
	if ch.Events() != nil {
		t.Fatal("expected no event stream before Start")
	}
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop on idle err: %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
		ok   bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/asr/transcribe/realtime", true},
		{"https://asr.example.com/", "wss://asr.example.com/ws/asr/transcribe/realtime", true},
		{"ws://127.0.0.1:9000", "ws://127.0.0.1:9000/ws/asr/transcribe/realtime", true},
		{"ftp://example.com", "", false},
		{"not a url", "", false},
	}

	for _, tc := range cases {
		u, err := websocketURL(tc.base, "")
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.base)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.base, err)
		}
		if u.String() != tc.want {
			t.Fatalf("%s: got %s want %s", tc.base, u, tc.want)
		}
	}
}

func TestSendersBlockedOnFullQueueAreFlushedBeforeClose(t *testing.T) {
	fs := newFakeServer(t)
	fs.readDelay = 300 * time.Millisecond
	ch := newTestChannel(t, fs, loggedIn(), func(cfg *Config) {
		cfg.QueueSize = 1
		cfg.WriteTimeout = 5 * time.Second
		cfg.CloseTimeout = 5 * time.Second
	})

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	events := ch.Events()
	waitEvent(t, events, EventReady)
	go func() {
		for range events {
		}
	}()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ch.SendAudio(make([]byte, 2<<20)) {
				accepted.Add(1)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	wg.Wait()
	fs.waitFinished(t)

	var written int32
	for _, f := range fs.recorded() {
		if f.msgType == websocket.BinaryMessage {
			written++
		}
	}
	if written != accepted.Load() {
		t.Fatalf("accepted %d frames but the server received %d", accepted.Load(), written)
	}
}

func TestUndrainedEventsDoNotBlockShutdown(t *testing.T) {
	fs := newFakeServer(t)
	fs.greetings = 10
	ch := newTestChannel(t, fs, loggedIn(), func(cfg *Config) {
		cfg.QueueSize = 1
		cfg.CloseTimeout = 100 * time.Millisecond
	})

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	events := ch.Events()

	// 不读取事件直接关闭，读协程必须自行退出并关闭事件通道
	time.Sleep(50 * time.Millisecond)
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if ch.State() != Closed {
		t.Fatalf("expected closed, got %s", ch.State())
	}

	time.Sleep(300 * time.Millisecond)
	drainEvents(t, events)
}
