package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid authentication credentials")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicateHotword   = errors.New("hotword already exists")
	ErrHotwordLimit       = errors.New("hotword limit reached")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6

	// MaxHotwordsPerUser caps each user's hotword list.
	MaxHotwordsPerUser = 100
	maxWordLen         = 255
)

type account struct {
	user asr.User
	hash []byte
}

// Service is the in-memory state behind the development server.
type Service struct {
	mu       sync.RWMutex
	accounts map[string]*account // by username
	tokens   map[string]string   // token -> username
	tasks    map[string]*taskRecord
	hotwords map[string][]asr.Hotword // by username, insertion order

	processDelay time.Duration
	bcryptCost   int
}

// Option customizes a Service.
type Option func(*Service)

// WithProcessDelay sets how long a submitted task stays pending.
func WithProcessDelay(d time.Duration) Option {
	return func(s *Service) { s.processDelay = d }
}

// WithBcryptCost lowers the hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService bootstraps an empty backend.
func NewService(opts ...Option) *Service {
	s := &Service{
		accounts:     make(map[string]*account),
		tokens:       make(map[string]string),
		tasks:        make(map[string]*taskRecord),
		hotwords:     make(map[string][]asr.Hotword),
		processDelay: 200 * time.Millisecond,
		bcryptCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and returns its first token.
func (s *Service) Register(_ context.Context, username, password string) (asr.Token, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return asr.Token{}, ErrInvalidInput
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return asr.Token{}, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return asr.Token{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return asr.Token{}, ErrUsernameTaken
	}
	s.accounts[username] = &account{
		user: asr.User{
			ID:        uuid.NewString(),
			Username:  username,
			CreatedAt: time.Now().UTC(),
		},
		hash: hash,
	}
	return s.issueTokenLocked(username), nil
}

// Login verifies the password and issues a fresh token.
func (s *Service) Login(_ context.Context, username, password string) (asr.Token, error) {
	s.mu.RLock()
	acc, ok := s.accounts[strings.TrimSpace(username)]
	s.mu.RUnlock()
	if !ok {
		return asr.Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return asr.Token{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokenLocked(acc.user.Username), nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(_ context.Context, token string) (asr.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username, ok := s.tokens[token]
	if !ok {
		return asr.User{}, ErrInvalidToken
	}
	acc, ok := s.accounts[username]
	if !ok {
		return asr.User{}, ErrInvalidToken
	}
	return acc.user, nil
}

// RevokeToken makes token unusable. Used to simulate expiry.
func (s *Service) RevokeToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *Service) issueTokenLocked(username string) asr.Token {
	token := uuid.NewString()
	s.tokens[token] = username
	return asr.Token{AccessToken: token, TokenType: "bearer"}
}

func page[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	out := make([]T, end-skip)
	copy(out, items[skip:end])
	return out
}
