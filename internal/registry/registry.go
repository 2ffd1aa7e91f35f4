package registry

import (
	"sync"
	"time"

	"github.com/syncmarks/syncmarks/internal/domain"
)

// Registry tracks active client sessions per account. Liveness is
// heartbeat-driven: a session missing two consecutive intervals is
// evicted by the sweeper. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.ClientSession
	byAccount map[string]map[string]*domain.ClientSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*domain.ClientSession),
		byAccount: make(map[string]map[string]*domain.ClientSession),
	}
}

// Register adds a session. Registration assumes the caller already
// holds a validated account/device identity.
func (r *Registry) Register(s *domain.ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.SessionID] = s
	acct, ok := r.byAccount[s.AccountID]
	if !ok {
		acct = make(map[string]*domain.ClientSession)
		r.byAccount[s.AccountID] = acct
	}
	acct[s.SessionID] = s
}

// Unregister removes a session. Idempotent; reports whether the
// session was present.
func (r *Registry) Unregister(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	delete(r.sessions, sessionID)
	if acct := r.byAccount[s.AccountID]; acct != nil {
		delete(acct, sessionID)
		if len(acct) == 0 {
			delete(r.byAccount, s.AccountID)
		}
	}
	return true
}

// Heartbeat refreshes a session's liveness timestamp.
func (r *Registry) Heartbeat(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.LastHeartbeatAt = time.Now()
	}
}

// UpdateAck records the highest revision a session has confirmed
// receiving. The retention sweep reads these cursors.
func (r *Registry) UpdateAck(sessionID string, revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok && revision > s.LastAckedRevision {
		s.LastAckedRevision = revision
	}
}

// ListByAccount returns the live sessions of one account.
func (r *Registry) ListByAccount(accountID string) []domain.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct := r.byAccount[accountID]
	out := make([]domain.ClientSession, 0, len(acct))
	for _, s := range acct {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of live sessions across all accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// MinAckedRevision returns the lowest acked cursor among an account's
// live sessions. ok is false when the account has no sessions.
func (r *Registry) MinAckedRevision(accountID string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct := r.byAccount[accountID]
	if len(acct) == 0 {
		return 0, false
	}
	first := true
	var min uint64
	for _, s := range acct {
		if first || s.LastAckedRevision < min {
			min = s.LastAckedRevision
			first = false
		}
	}
	return min, true
}

// EvictStale removes every session whose last heartbeat is older than
// maxAge and returns the evicted session ids. Idempotent per session.
func (r *Registry) EvictStale(now time.Time, maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		last := s.LastHeartbeatAt
		if last.IsZero() {
			last = s.ConnectedAt
		}
		if now.Sub(last) <= maxAge {
			continue
		}
		delete(r.sessions, id)
		if acct := r.byAccount[s.AccountID]; acct != nil {
			delete(acct, id)
			if len(acct) == 0 {
				delete(r.byAccount, s.AccountID)
			}
		}
		evicted = append(evicted, id)
	}
	return evicted
}
