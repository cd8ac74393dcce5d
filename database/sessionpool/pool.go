package sessionpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacity is returned when a new session would exceed the pool size.
	ErrCapacity = errors.New("session pool capacity reached")
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
)

// Session holds one value for one client. Lock it while using Value.
type Session[T any] struct {
	ID        string
	Value     T
	CreatedAt time.Time
	LastUsed  time.Time
	sync.Mutex
}

// Pool keeps per-client values alive between requests and expires them after
// an idle timeout or an absolute lifetime.
type Pool[T any] struct {
	sessions    map[string]*Session[T]
	mu          sync.Mutex
	idleTimeout time.Duration
	absTimeout  time.Duration
	maxSessions int
	logger      *slog.Logger
	now         func() time.Time
	cleanupStop chan struct{}
	closeOnce   sync.Once
	onEvict     func(T)
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) { p.logger = logger }
}

// WithEvict is called with the value of every removed session.
func WithEvict[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) { p.onEvict = fn }
}

func withClock[T any](now func() time.Time) Option[T] {
	return func(p *Pool[T]) { p.now = now }
}

// New creates a pool. maxSessions <= 0 means unlimited; zero timeouts never
// expire. A cleanup routine runs every interval until Close when interval > 0.
func New[T any](maxSessions int, idleTimeout, absTimeout, interval time.Duration, opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{
		sessions:    make(map[string]*Session[T]),
		idleTimeout: idleTimeout,
		absTimeout:  absTimeout,
		maxSessions: maxSessions,
		logger:      slog.Default(),
		now:         time.Now,
		cleanupStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if interval > 0 {
		p.startCleanupRoutine(interval)
	}
	return p
}

// Close stops the cleanup routine and evicts every session.
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.cleanupStop)
		p.mu.Lock()
		defer p.mu.Unlock()
		for sid, s := range p.sessions {
			p.remove(sid, s)
		}
	})
}

func (p *Pool[T]) startCleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				p.Cleanup()
			case <-p.cleanupStop:
				ticker.Stop()
				return
			}
		}
	}()
}

// Cleanup removes expired sessions and returns how many were removed.
func (p *Pool[T]) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for sid, s := range p.sessions {
		if p.expired(s, now) {
			p.logger.Info("Cleaning up expired session", "session", sid)
			p.remove(sid, s)
			removed++
		}
	}
	return removed
}

func (p *Pool[T]) expired(s *Session[T], now time.Time) bool {
	if p.absTimeout > 0 && now.Sub(s.CreatedAt) > p.absTimeout {
		return true
	}
	return p.idleTimeout > 0 && now.Sub(s.LastUsed) > p.idleTimeout
}

func (p *Pool[T]) remove(sid string, s *Session[T]) {
	delete(p.sessions, sid)
	if p.onEvict != nil {
		p.onEvict(s.Value)
	}
}

// Get returns the live session sid and marks it used.
func (p *Pool[T]) Get(sid string) (*Session[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	now := p.now()
	if p.expired(s, now) {
		p.remove(sid, s)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	s.LastUsed = now
	return s, nil
}

// Create stores value under a new session id.
func (p *Pool[T]) Create(value T) (*Session[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxSessions > 0 && len(p.sessions) >= p.maxSessions {
		return nil, fmt.Errorf("%w (max %d)", ErrCapacity, p.maxSessions)
	}

	now := p.now()
	s := &Session[T]{
		ID:        uuid.New().String(),
		Value:     value,
		CreatedAt: now,
		LastUsed:  now,
	}
	p.sessions[s.ID] = s
	p.logger.Debug("Created session", "session", s.ID, "active", len(p.sessions))
	return s, nil
}

// GetOrCreate returns the session sid, or a new one built by create when sid
// is empty, unknown or expired.
func (p *Pool[T]) GetOrCreate(sid string, create func() (T, error)) (*Session[T], error) {
	if sid != "" {
		if s, err := p.Get(sid); err == nil {
			return s, nil
		}
	}
	value, err := create()
	if err != nil {
		return nil, err
	}
	return p.Create(value)
}

// Delete removes sid. Unknown ids are ignored.
func (p *Pool[T]) Delete(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[sid]; ok {
		p.remove(sid, s)
	}
}

// Len is the number of sessions held, expired ones included until cleanup.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
