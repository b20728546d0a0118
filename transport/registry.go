package transport

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Registry tracks the open SSE sessions by id.
//
// An id is inserted once when its stream opens and removed at most once when it closes.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*SSEConn
	logger *zap.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// RegistryWithLogger settings the logger.
func RegistryWithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		conns:  make(map[string]*SSEConn),
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Open mints a new session id for conn and registers it.
func (r *Registry) Open(conn *SSEConn) (string, error) {
	id := ulid.Make().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return "", ErrDuplicateSession
	}
	conn.id = id
	r.conns[id] = conn
	r.logger.Debug("session opened", zap.String("session_id", id), zap.Int("sessions", len(r.conns)))
	return id, nil
}

// Has reports whether id is an open session.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Forward delivers message to the session id.
//
// It blocks until the session accepts the message, the session closes or ctx is done.
func (r *Registry) Forward(ctx context.Context, id string, message []byte) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	return conn.deliver(ctx, message)
}

// Close removes the session id and closes its connection. It reports whether the session
// was open.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	conn.Close()
	r.logger.Debug("session closed", zap.String("session_id", id))
	return true
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*SSEConn)
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	if len(conns) > 0 {
		r.logger.Info("closed all sessions", zap.Int("sessions", len(conns)))
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
