package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/browserbridge/pkg/session"
)

// Manager tracks active browser sessions for a runtime. Sessions handed out
// by Acquire release themselves from the manager exactly once, whichever of
// the owner or Manager.Close gets there first.
type Manager struct {
	runtime  Runtime
	metrics  *Metrics
	sessions map[string]*managedSession
	closed   bool
	mu       sync.Mutex
}

// NewManager creates a Manager backed by the provided runtime. metrics may
// be nil.
func NewManager(runtime Runtime, metrics *Metrics) *Manager {
	return &Manager{
		runtime:  runtime,
		metrics:  metrics,
		sessions: make(map[string]*managedSession),
	}
}

// Acquire launches a new browser session. The caller owns the returned
// session and must Close it; repeated Close calls are no-ops.
func (m *Manager) Acquire(ctx context.Context, cfg Config) (Session, error) {
	if m == nil || m.runtime == nil {
		return nil, ErrUnavailable
	}
	if cfg.SessionID == "" {
		cfg.SessionID = session.GenerateSessionID("browser")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	if _, exists := m.sessions[cfg.SessionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session already exists: %s", cfg.SessionID)
	}
	m.mu.Unlock()

	sess, err := m.runtime.NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	managed := &managedSession{inner: sess, id: cfg.SessionID, manager: m}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sess.Close()
		return nil, ErrUnavailable
	}
	m.sessions[cfg.SessionID] = managed
	m.mu.Unlock()

	m.metrics.RecordSessionCreated(cfg.SessionID)
	return managed, nil
}

// Ready reports whether Acquire can be expected to succeed: the manager is
// open and, when the runtime implements Checker, its check passes.
func (m *Manager) Ready(ctx context.Context) error {
	if m == nil || m.runtime == nil {
		return ErrUnavailable
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: manager closed", ErrUnavailable)
	}
	if checker, ok := m.runtime.(Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}

// Active returns the number of sessions not yet released.
func (m *Manager) Active() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes all sessions and releases the runtime.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*managedSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	var lastErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			lastErr = err
		}
	}
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.metrics.RecordSessionClosed(id)
}

// managedSession instruments an adapter session and makes Close idempotent.
type managedSession struct {
	inner   Session
	id      string
	manager *Manager

	closeOnce sync.Once
	closeErr  error
	closedMu  sync.RWMutex
	closed    bool
}

func (s *managedSession) ID() string {
	return s.id
}

func (s *managedSession) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

func (s *managedSession) Navigate(ctx context.Context, url string) (*Observation, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	start := time.Now()
	obs, err := s.inner.Navigate(ctx, url)
	s.manager.metrics.RecordNavigate(s.id, err == nil, time.Since(start))
	return obs, err
}

func (s *managedSession) Observe(ctx context.Context, opts ObserveOptions) (*Observation, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	start := time.Now()
	obs, err := s.inner.Observe(ctx, opts)
	s.manager.metrics.RecordObserve(s.id, time.Since(start), opts)
	return obs, err
}

func (s *managedSession) Act(ctx context.Context, action Action) (*ActionResult, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	start := time.Now()
	res, err := s.inner.Act(ctx, action)
	s.manager.metrics.RecordAction(s.id, action.Type, err == nil, time.Since(start))
	return res, err
}

// Close releases the underlying session once and returns that first result
// on every call.
func (s *managedSession) Close() error {
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.closed = true
		s.closedMu.Unlock()

		s.closeErr = s.inner.Close()
		s.manager.release(s.id)
	})
	return s.closeErr
}
