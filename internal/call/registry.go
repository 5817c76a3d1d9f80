// Package call tracks the live bridge sessions by call ID so the HTTP
// surface and the shutdown path can reach them.
package call

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sipsorcery/sipspeech/internal/bridge"
)

// Info is the registry's external view of one session.
type Info struct {
	CallID    string    `json:"call_id"`
	StartedAt time.Time `json:"started_at"`
	Closed    bool      `json:"closed"`
}

type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*bridge.Session
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, sessions: make(map[string]*bridge.Session)}
}

// Add registers a session. Call IDs are unique; a duplicate is a signaling
// bug and gets rejected.
func (r *Registry) Add(s *bridge.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.CallID()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("call: duplicate call id %q", id)
	}
	r.sessions[id] = s
	r.logger.Info("call registered", slog.String("call_id", id), slog.Int("active", len(r.sessions)))
	return nil
}

func (r *Registry) Get(id string) (*bridge.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the session from the registry without closing it; the caller
// owns teardown ordering.
func (r *Registry) Remove(id string) (*bridge.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot lists the registered sessions for the /calls endpoint.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{CallID: s.CallID(), StartedAt: s.StartedAt(), Closed: s.Closed()})
	}
	return out
}

// CloseAll tears every session down and empties the registry; used on
// process shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	sessions := make([]*bridge.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*bridge.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
	}
	if len(sessions) > 0 {
		r.logger.Info("all calls closed", slog.Int("count", len(sessions)), slog.String("reason", reason))
	}
}
