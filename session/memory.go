package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
)

// MemoryStore keeps sessions in process memory. It is the default backend
// and the one tests run against; everything is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	closed   bool
	logger   *zap.Logger
}

type memoryEntry struct {
	record contextRecord
	turns  []conversation.Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		logger:   logger.With(zap.String("component", "session.memory")),
	}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*conversation.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rejoin(entry.record, entry.turns), nil
}

// AppendTurn implements Store.
func (m *MemoryStore) AppendTurn(_ context.Context, sessionID string, turn conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{record: contextRecord{SessionID: sessionID}}
		m.sessions[sessionID] = entry
	}
	entry.turns = append(entry.turns, turn)
	return nil
}

// Commit implements Store.
func (m *MemoryStore) Commit(_ context.Context, sessionID string, convo *conversation.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{}
		m.sessions[sessionID] = entry
	}
	entry.record = split(sessionID, convo)
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = nil
	return nil
}

// Len reports the number of stored sessions. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// split separates a context into its committed record; turns travel through
// AppendTurn separately.
func split(sessionID string, convo *conversation.Context) contextRecord {
	return contextRecord{
		SessionID: sessionID,
		Slots:     convo.Slots.Clone(),
		Active:    convo.Active,
		TurnCount: convo.TurnCount,
		CreatedAt: convo.CreatedAt.UnixMilli(),
		UpdatedAt: convo.UpdatedAt.UnixMilli(),
	}
}

// rejoin rebuilds a full context from the committed record and turn history.
func rejoin(rec contextRecord, turns []conversation.Turn) *conversation.Context {
	convo := &conversation.Context{
		SessionID: rec.SessionID,
		Slots:     rec.Slots.Clone(),
		Active:    rec.Active,
		TurnCount: rec.TurnCount,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(rec.UpdatedAt).UTC(),
	}
	if convo.Slots == nil {
		convo.Slots = conversation.NewSlotSet()
	}
	convo.Turns = make([]conversation.Turn, len(turns))
	copy(convo.Turns, turns)
	return convo
}
