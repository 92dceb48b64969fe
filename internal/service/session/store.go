package session

import (
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

// Reason explains why a session was invalidated.
type Reason string

const (
	ReasonLogout       Reason = "logout"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonExternal     Reason = "external"
)

// Invalidation is delivered to subscribers when a present session is cleared.
type Invalidation struct {
	Reason Reason
	At     time.Time
}

// Store is the single source of truth for the client's credential.
// The zero value is not usable; call NewStore.
type Store struct {
	// persistMu orders storage writes the same way as the in-memory changes.
	persistMu sync.Mutex

	mu      sync.RWMutex
	token   string
	user    *asr.User
	storage Storage

	listenerMu sync.Mutex
	listeners  map[int]func(Invalidation)
	nextID     int
}

// NewStore restores any persisted session from storage. A nil storage keeps
// the session in memory only.
func NewStore(storage Storage) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}

	s := &Store{
		storage:   storage,
		listeners: make(map[int]func(Invalidation)),
	}

	snap, err := storage.Load()
	if err != nil {
		log.Printf("[session] failed to restore session: %v", err)
		return s
	}
	s.token = snap.Token
	if snap.Token != "" {
		s.user = snap.User
	}
	return s
}

// SetSession stores token and drops any profile cached for a previous token.
func (s *Store) SetSession(token string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.token != token {
		s.user = nil
	}
	s.token = token
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
}

// SetUser caches the profile of the current session. It is ignored when no
// session is present.
func (s *Store) SetUser(user asr.User) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	u := user
	s.user = &u
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
}

// Clear removes the token and cached profile. It reports whether a session
// was present; subscribers are notified only in that case.
func (s *Store) Clear(reason Reason) bool {
	return s.clear(reason, func(string) bool { return true })
}

// ClearToken clears the session only while it still holds token. A 401 for a
// token that has since been replaced leaves the newer session alone.
func (s *Store) ClearToken(token string, reason Reason) bool {
	return s.clear(reason, func(current string) bool { return current == token })
}

func (s *Store) clear(reason Reason, match func(current string) bool) bool {
	s.persistMu.Lock()
	s.mu.Lock()
	if s.token == "" || !match(s.token) {
		s.mu.Unlock()
		s.persistMu.Unlock()
		return false
	}
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.storage.Remove(); err != nil {
		log.Printf("[session] failed to remove persisted session: %v", err)
	}
	s.persistMu.Unlock()

	log.Printf("[session] session cleared reason=%s", reason)
	s.notify(Invalidation{Reason: reason, At: time.Now()})
	return true
}

// Token returns the current token, if any.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// User returns the cached profile, if any.
func (s *Store) User() (asr.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return asr.User{}, false
	}
	return *s.user, true
}

// Valid is what navigation guards consult.
func (s *Store) Valid() bool {
	_, ok := s.Token()
	return ok
}

// OnInvalidated subscribes fn to session invalidation. The returned func
// cancels the subscription.
func (s *Store) OnInvalidated(fn func(Invalidation)) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

func (s *Store) notify(ev Invalidation) {
	s.listenerMu.Lock()
	fns := make([]func(Invalidation), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Token: s.token}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

func (s *Store) persist(snap Snapshot) {
	if err := s.storage.Save(snap); err != nil {
		log.Printf("[session] failed to persist session: %v", err)
	}
}

// reload re-reads storage after an external change and reconciles memory
// with it.
func (s *Store) reload() {
	s.persistMu.Lock()
	snap, err := s.storage.Load()
	if err != nil {
		s.persistMu.Unlock()
		log.Printf("[session] failed to reload session: %v", err)
		return
	}

	if snap.Token == "" {
		s.mu.Lock()
		had := s.token != ""
		s.token = ""
		s.user = nil
		s.mu.Unlock()
		s.persistMu.Unlock()

		if had {
			log.Printf("[session] session removed by another process")
			s.notify(Invalidation{Reason: ReasonExternal, At: time.Now()})
		}
		return
	}

	s.mu.Lock()
	if s.token != snap.Token {
		s.user = nil
	}
	s.token = snap.Token
	if snap.User != nil {
		s.user = snap.User
	}
	s.mu.Unlock()
	s.persistMu.Unlock()
}
