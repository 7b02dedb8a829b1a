// Package session groups temporally-related file observations under one
// classification target. At most one session is active at a time; the
// manager owns its lifecycle and the fusion engine only reads it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/events"
)

// Session is one time-bounded grouping of downloads.
type Session struct {
	ID              string        `json:"id"`
	GroupName       string        `json:"group_name"`
	StartTime       time.Time     `json:"start_time"`
	LastActivity    time.Time     `json:"last_activity"`
	Timeout         time.Duration `json:"timeout"`
	ConfidenceScore float64       `json:"confidence_score"`
	FileCount       int           `json:"file_count"`
	IsActive        bool          `json:"is_active"`
}

// FileRecord is one file added to a session.
type FileRecord struct {
	Name    string    `json:"name"`
	Path    string    `json:"path,omitempty"`
	Size    int64     `json:"size,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Stats summarizes persisted session history.
type Stats struct {
	TotalSessions int     `json:"total_sessions"`
	TotalFiles    int     `json:"total_files"`
	AvgFileCount  float64 `json:"avg_file_count"`
}

// Store is the durable backing for sessions. The manager only keeps the
// "current" pointer in memory.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	RecentSessions(ctx context.Context, limit int) ([]Session, error)
	SessionStats(ctx context.Context) (Stats, error)
}

// Config holds session lifecycle settings.
type Config struct {
	// Timeout ends a session after this much inactivity (via SweepTimedOut).
	Timeout time.Duration
	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration
}

// Manager creates, reuses, times out, and ends sessions.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	current *Session
	files   []FileRecord

	store  Store
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a session manager over the durable store.
func NewManager(cfg Config, store Store, bus *events.Bus, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Active returns a copy of the current active session, or ok=false.
func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return Session{}, false
	}
	return *m.current, true
}

// IsActive reports whether a session is currently active.
func (m *Manager) IsActive() bool {
	_, ok := m.Active()
	return ok
}

// Start begins a session for groupName, reusing the active one when the
// group matches and ending it first when it differs. hint is recorded in
// the log only; confidence seeds the session's score (1.0 when <= 0).
func (m *Manager) Start(groupName, hint string, confidence float64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(groupName, hint, confidence)
}

// AddFile routes a file to the active session when its group matches
// fallbackGroupName; otherwise a session for fallbackGroupName is started
// first. Returns the session the file landed in.
func (m *Manager) AddFile(fileName, fallbackGroupName, path string, size int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.IsActive || m.current.GroupName != fallbackGroupName {
		m.startLocked(fallbackGroupName, fileName, 1.0)
	}

	now := m.now()
	m.current.LastActivity = now
	m.current.FileCount++
	m.files = append(m.files, FileRecord{Name: fileName, Path: path, Size: size, AddedAt: now})
	m.persistLocked(m.current)
	return *m.current
}

// End ends the session with the given id. Ending a session that is not the
// current active one is an error.
func (m *Manager) End(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.IsActive || m.current.ID != sessionID {
		return fmt.Errorf("session: no active session with id %s", sessionID)
	}
	m.endLocked()
	return nil
}

// EndCurrent ends the active session, if any.
func (m *Manager) EndCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.IsActive {
		m.endLocked()
	}
}

// SweepTimedOut ends the active session when its inactivity exceeds the
// timeout and returns how many sessions were ended. Intended to run on a
// fixed cadence, not per file event.
func (m *Manager) SweepTimedOut() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.IsActive {
		return 0
	}
	if m.now().Sub(m.current.LastActivity) <= m.current.Timeout {
		return 0
	}
	m.logger.Debug("session timed out",
		zap.String("session_id", m.current.ID),
		zap.String("group", m.current.GroupName))
	m.endLocked()
	return 1
}

// Files returns a copy of the current session's file records.
func (m *Manager) Files() []FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FileRecord(nil), m.files...)
}

// History returns recent persisted sessions, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]Session, error) {
	return m.store.RecentSessions(ctx, limit)
}

// Stats returns aggregate statistics over persisted sessions.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.SessionStats(ctx)
}

func (m *Manager) startLocked(groupName, hint string, confidence float64) Session {
	now := m.now()

	if m.current != nil && m.current.IsActive {
		if m.current.GroupName == groupName {
			m.current.LastActivity = now
			m.persistLocked(m.current)
			return *m.current
		}
		// A different group supersedes the running batch.
		m.endLocked()
	}

	if confidence <= 0 {
		confidence = 1.0
	}
	m.current = &Session{
		ID:              uuid.NewString(),
		GroupName:       groupName,
		StartTime:       now,
		LastActivity:    now,
		Timeout:         m.cfg.Timeout,
		ConfidenceScore: confidence,
		IsActive:        true,
	}
	m.files = nil
	m.logger.Info("session started",
		zap.String("session_id", m.current.ID),
		zap.String("group", groupName),
		zap.String("hint", hint))
	m.persistLocked(m.current)
	m.bus.Publish(events.TopicSession, events.KindSessionStarted, *m.current)
	return *m.current
}

func (m *Manager) endLocked() {
	m.current.IsActive = false
	m.current.LastActivity = m.now()
	m.logger.Info("session ended",
		zap.String("session_id", m.current.ID),
		zap.String("group", m.current.GroupName),
		zap.Int("file_count", m.current.FileCount))
	m.persistLocked(m.current)
	m.bus.Publish(events.TopicSession, events.KindSessionEnded, *m.current)
}

// persistLocked writes through to the durable store with a bounded timeout.
// Persistence failures never interrupt the session lifecycle.
func (m *Manager) persistLocked(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.SaveSession(ctx, s); err != nil {
		m.logger.Debug("session persistence failed", zap.Error(err))
	}
}
