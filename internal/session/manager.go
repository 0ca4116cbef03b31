package session

import (
	"context"
	"sync"
	"time"

	"resumeforge/internal/document"
)

// Manager keeps the open sessions of this process, keyed by document id.
// Sessions are in memory only; after a restart they are rebuilt from the stored row.
type Manager struct {
	wf *Workflow

	mu       sync.Mutex
	sessions map[uint]*Session
}

func NewManager(wf *Workflow) *Manager {
	return &Manager{wf: wf, sessions: make(map[uint]*Session)}
}

func (m *Manager) Workflow() *Workflow { return m.wf }

// Open returns the existing session of docID or resumes one from storage and schedules
// a preview of the restored snapshot.
// A session owned by another user is reported as document.ErrNotFound.
func (m *Manager) Open(ctx context.Context, userID string, docID uint) (*Session, error) {
	if s, ok := m.Get(userID, docID); ok {
		return s, nil
	}
	m.mu.Lock()
	if s, ok := m.sessions[docID]; ok && s.UserID != userID {
		m.mu.Unlock()
		return nil, document.ErrNotFound
	}
	m.mu.Unlock()

	s, err := m.wf.Resume(ctx, userID, docID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[docID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[docID] = s
	m.mu.Unlock()

	// 会话入表后再排预览，渲染结果回调才能找到它
	m.wf.previewRestored(s)
	return s, nil
}

// Get returns the open session of docID when it belongs to userID.
func (m *Manager) Get(userID string, docID uint) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[docID]
	if !ok || s.UserID != userID {
		return nil, false
	}
	return s, true
}

// Close drops the session and releases its preview.
func (m *Manager) Close(userID string, docID uint) bool {
	m.mu.Lock()
	s, ok := m.sessions[docID]
	if !ok || s.UserID != userID {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, docID)
	m.mu.Unlock()

	m.wf.previews.Release(docID)
	return true
}

// Evict closes sessions idle for longer than ttl and reports how many were closed.
func (m *Manager) Evict(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.wf.previews.Release(s.DocumentID)
	}
	return len(stale)
}

// RunEvictor calls Evict every interval until ctx is done.
func (m *Manager) RunEvictor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Evict(ttl); n > 0 {
				m.wf.logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}
