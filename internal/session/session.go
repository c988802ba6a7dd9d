// Package session keeps per-user browsing state: the selected set, when the user was
// last active, and the user's own fetch caches.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mswatii/pokedex-prices/internal/cache"
	"github.com/mswatii/pokedex-prices/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultSetTTL   = 2 * time.Hour
	DefaultImageTTL = 24 * time.Hour
	DefaultIdleTTL  = 30 * time.Minute
)

// TTLs configures cache lifetimes for new sessions
type TTLs struct {
	Sets   time.Duration
	Images time.Duration
	Idle   time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Sets <= 0 {
		t.Sets = DefaultSetTTL
	}
	if t.Images <= 0 {
		t.Images = DefaultImageTTL
	}
	if t.Idle <= 0 {
		t.Idle = DefaultIdleTTL
	}
	return t
}

// Session is the state of one user. Requests for the same session may run concurrently,
// so the mutable fields are guarded; the caches carry their own locks.
type Session struct {
	ID string

	Sets     *cache.TTL[[]models.Set]
	SetCards *cache.TTL[[]models.Card]
	Images   *cache.TTL[[]byte]

	mu          sync.RWMutex
	selectedSet *models.Set
	lastActive  time.Time
}

func newSession(ttls TTLs, now time.Time) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Sets:       cache.New[[]models.Set](ttls.Sets),
		SetCards:   cache.New[[]models.Card](ttls.Sets),
		Images:     cache.New[[]byte](ttls.Images),
		lastActive: now,
	}
}

// New creates a standalone session, for callers without a Manager (the CLI)
func New(ttls TTLs) *Session {
	return newSession(ttls.withDefaults(), time.Now())
}

// SelectedSet returns the set the user picked, if any
func (s *Session) SelectedSet() (models.Set, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedSet == nil {
		return models.Set{}, false
	}
	return *s.selectedSet, true
}

// Select records the user's chosen set
func (s *Session) Select(set models.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedSet = &set
}

// LastActive returns the time of the last request in this session
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
}

// Manager owns every live session
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttls     TTLs
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates an empty session manager
func NewManager(ttls TTLs, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttls:     ttls.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
}

// Create starts a new session
func (m *Manager) Create() *Session {
	s := newSession(m.ttls, m.now())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Debug("session created", zap.String("session", s.ID))
	return s
}

// Get returns a live session and marks it active
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch(m.now())
	return s, true
}

// GetOrCreate returns the session for id, or a new one when id is empty or unknown
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, false
		}
	}
	return m.Create(), true
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the idle TTL and purges expired cache entries
// in the rest. It returns the number of sessions removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.ttls.Idle {
			delete(m.sessions, id)
			removed++
			continue
		}
		s.Sets.Purge()
		s.SetCards.Purge()
		s.Images.Purge()
	}
	return removed
}

// Run sweeps idle sessions on every tick until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("session sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session sweeper stopping")
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("expired idle sessions", zap.Int("removed", n), zap.Int("live", m.Len()))
			}
		}
	}
}
