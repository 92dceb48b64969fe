package api_test

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/asr-client/internal/handler"
	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/api"
	"github.com/zhouzirui/asr-client/internal/service/backend"
	"github.com/zhouzirui/asr-client/internal/service/session"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type env struct {
	svc   *backend.Service
	srv   *httptest.Server
	store *session.Store
	api   *api.Client

	mu   sync.Mutex
	auth []string // Authorization header of every request the server saw
}

func (e *env) lastAuth() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.auth) == 0 {
		return ""
	}
	return e.auth[len(e.auth)-1]
}

func newEnv(t *testing.T, opts handler.RouterOptions, apiOpts ...api.Option) *env {
	t.Helper()
	svc := backend.NewService(backend.WithBcryptCost(bcrypt.MinCost), backend.WithProcessDelay(5*time.Millisecond))
	e := &env{svc: svc}
	router := handler.NewRouter(svc, opts)
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.auth = append(e.auth, r.Header.Get("Authorization"))
		e.mu.Unlock()
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(e.srv.Close)

	e.store = session.NewStore(nil)
	tc, err := transport.NewClient(transport.Config{BaseURL: e.srv.URL}, e.store)
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}
	e.api = api.New(tc, apiOpts...)
	return e
}

// loginAs registers a user and stores the token, the way the login page does.
func (e *env) loginAs(t *testing.T, username string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.api.Auth.Register(ctx, username, "secret123"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	token, err := e.api.Auth.Login(ctx, username, "secret123")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	e.store.SetSession(token.AccessToken)
}

func TestLoginCreateDeleteHotword(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()
	e.loginAs(t, "alice")

	hw, err := e.api.Hotwords.Create(ctx, "测试", 5)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if hw.Word != "测试" || hw.Weight != 5 || hw.ID == "" {
		t.Fatalf("unexpected hotword: %+v", hw)
	}

	if err := e.api.Hotwords.Delete(ctx, hw.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}

	list, err := e.api.Hotwords.List(ctx, 0, 100)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	for _, item := range list {
		if item.ID == hw.ID {
			t.Fatal("deleted hotword is still listed")
		}
	}
}

func TestHotwordErrors(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()
	e.loginAs(t, "alice")

	if _, err := e.api.Hotwords.Create(ctx, "重复", 5); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if _, err := e.api.Hotwords.Create(ctx, "重复", 5); !errors.Is(err, transport.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := e.api.Hotwords.Create(ctx, "越界", 11); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected ErrValidation for weight 11, got %v", err)
	}
	if _, err := e.api.Hotwords.Create(ctx, "  ", 5); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if err := e.api.Hotwords.Delete(ctx, "missing"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHotwordUpdateAndImport(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()
	e.loginAs(t, "alice")

	hw, err := e.api.Hotwords.Create(ctx, "语音", 3)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	word, weight := "语音识别", 8
	updated, err := e.api.Hotwords.Update(ctx, hw.ID, asr.HotwordPatch{Word: &word, Weight: &weight})
	if err != nil {
		t.Fatalf("Update err: %v", err)
	}
	if updated.Word != word || updated.Weight != weight {
		t.Fatalf("unexpected update: %+v", updated)
	}

	summary, err := e.api.Hotwords.Import(ctx, asr.File{Name: "words.csv", Data: []byte("语音识别,2\n人工智能,9\n机器学习\n")})
	if err != nil {
		t.Fatalf("Import err: %v", err)
	}
	if summary.AddedCount != 2 || summary.SkippedCount != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	_, err = e.api.Hotwords.Import(ctx, asr.File{Name: "words.xlsx", Data: []byte("x")})
	if !errors.Is(err, api.ErrUnsupportedFormat) || !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	list, err := e.api.Hotwords.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(list) != 1 || list[0].Word != "人工智能" {
		t.Fatalf("unexpected page: %+v", list)
	}
}

func TestUnauthorizedTearsDownSession(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()
	e.loginAs(t, "alice")

	var invalidated []session.Invalidation
	var mu sync.Mutex
	e.store.OnInvalidated(func(ev session.Invalidation) {
		mu.Lock()
		invalidated = append(invalidated, ev)
		mu.Unlock()
	})

	token, _ := e.store.Token()
	e.svc.RevokeToken(token)

	if _, err := e.api.Hotwords.List(ctx, 0, 10); !errors.Is(err, transport.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := e.lastAuth(); got != "Bearer "+token {
		t.Fatalf("rejected call should have carried the revoked token, got %q", got)
	}
	if e.store.Valid() {
		t.Fatal("store should be empty after 401")
	}

	// The next call carries no Authorization header and fails as well.
	if _, err := e.api.Auth.Me(ctx); !errors.Is(err, transport.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := e.lastAuth(); got != "" {
		t.Fatalf("expected no Authorization header after teardown, got %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(invalidated) != 1 || invalidated[0].Reason != session.ReasonUnauthorized {
		t.Fatalf("expected one unauthorized invalidation, got %+v", invalidated)
	}
}

func TestLoginErrors(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()

	if _, err := e.api.Auth.Register(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if _, err := e.api.Auth.Register(ctx, "alice", "secret123"); !errors.Is(err, api.ErrUsernameTaken) || !errors.Is(err, transport.ErrConflict) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := e.api.Auth.Register(ctx, "bob", "123"); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := e.api.Auth.Login(ctx, "alice", "wrong-pass"); !errors.Is(err, api.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := e.api.Auth.Login(ctx, "", "x"); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected local validation error, got %v", err)
	}
}

func TestLoginFormAndMe(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{}, api.WithLoginForm(true))
	ctx := context.Background()

	if _, err := e.api.Auth.Register(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	token, err := e.api.Auth.Login(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("form Login err: %v", err)
	}
	e.store.SetSession(token.AccessToken)

	user, err := e.api.Auth.Me(ctx)
	if err != nil {
		t.Fatalf("Me err: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestLoginFallsBackToTokenEndpoint(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path != "/auth/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"t-1","token_type":"bearer"}`)
	}))
	defer srv.Close()

	tc, err := transport.NewClient(transport.Config{BaseURL: srv.URL}, session.NewStore(nil))
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}

	token, err := api.New(tc).Auth.Login(context.Background(), "alice", "secret123")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if token.AccessToken != "t-1" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if strings.Join(paths, ",") != "/auth/login,/auth/token" {
		t.Fatalf("unexpected call sequence: %v", paths)
	}
}

func TestSubmitMultipart(t *testing.T) {
	type captured struct {
		filename string
		data     string
		listID   string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
			return
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		var c captured
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			body, _ := io.ReadAll(part)
			switch part.FormName() {
			case "file":
				c.filename = part.FileName()
				c.data = string(body)
			case "hotword_list_id":
				c.listID = string(body)
			}
		}
		got <- c
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"task-1","filename":"a.wav","status":"pending","created_at":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	tc, err := transport.NewClient(transport.Config{BaseURL: srv.URL}, session.NewStore(nil))
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}

	task, err := api.New(tc).Tasks.Submit(context.Background(), asr.File{Name: "a.wav", Data: []byte("RIFF")}, "42")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if task.ID != "task-1" || task.Status != asr.TaskPending {
		t.Fatalf("unexpected task: %+v", task)
	}

	c := <-got
	if c.filename != "a.wav" || c.data != "RIFF" || c.listID != "42" {
		t.Fatalf("unexpected multipart payload: %+v", c)
	}
}

func TestSubmitErrors(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{MaxUploadBytes: 1024})
	ctx := context.Background()
	e.loginAs(t, "alice")

	if _, err := e.api.Tasks.Submit(ctx, asr.File{Name: "big.wav", Data: make([]byte, 4096)}, ""); !errors.Is(err, api.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := e.api.Tasks.Submit(ctx, asr.File{Name: "notes.txt", Data: []byte("hi")}, ""); !errors.Is(err, api.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := e.api.Tasks.Submit(ctx, asr.File{Name: "empty.wav"}, ""); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if _, err := e.api.Tasks.Get(ctx, "missing"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskListingFallback(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{DisableTaskListing: true})
	ctx := context.Background()
	e.loginAs(t, "alice")

	if !e.api.Tasks.ListingSupported() {
		t.Fatal("listing should be assumed supported before the first call")
	}

	tasks, err := e.api.Tasks.List(ctx, 0, 20)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tasks)
	}
	if e.api.Tasks.ListingSupported() {
		t.Fatal("expected listing to be reported unsupported after 501")
	}
	if !e.store.Valid() {
		t.Fatal("501 must not clear the session")
	}
}

func TestSubmitAndPollTask(t *testing.T) {
	e := newEnv(t, handler.RouterOptions{})
	ctx := context.Background()
	e.loginAs(t, "alice")

	task, err := e.api.Tasks.Submit(ctx, asr.File{Name: "song.mp3", Data: []byte("ID3")}, "")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := e.api.Tasks.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get err: %v", err)
		}
		if got.Done() {
			if got.Status != asr.TaskCompleted || len(got.Segments) == 0 {
				t.Fatalf("unexpected finished task: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	tasks, err := e.api.Tasks.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("unexpected task list: %+v", tasks)
	}
	if !e.api.Tasks.ListingSupported() {
		t.Fatal("listing should be supported")
	}
}
