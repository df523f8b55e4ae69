// Package session persists and restores conversation contexts and turn
// history across process lifetimes.
//
// The contract is small: Load, AppendTurn, Commit. For a given
// session ID the three operations are observed atomically with respect to
// other readers and writers of that session; distinct sessions require no
// coordination. Backends: memory (default, tests), redis (distributed
// deployments), database (gorm: sqlite, postgres, mysql).
package session

import (
	"context"
	"errors"

	"github.com/finagents/loanflow/agent/conversation"
)

// Common errors
var (
	ErrNotFound    = errors.New("session not found")
	ErrStoreClosed = errors.New("session store is closed")
)

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// Store is the persistence contract the orchestrator depends on. A turn is
// not complete until Commit succeeds; a restarted process loading the same
// session ID recovers the last committed context and full turn history.
type Store interface {
	// Load restores the committed context for a session, including turn
	// history. Returns ErrNotFound for unknown sessions.
	Load(ctx context.Context, sessionID string) (*conversation.Context, error)

	// AppendTurn durably records one turn of the session's history.
	AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn) error

	// Commit durably records the session's current context (slots, state,
	// counters). Turn history is written via AppendTurn.
	Commit(ctx context.Context, sessionID string, convo *conversation.Context) error

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// contextRecord is the committed context without turn history; turns are
// stored append-only alongside it and rejoined on Load.
type contextRecord struct {
	SessionID string               `json:"session_id"`
	Slots     conversation.SlotSet `json:"slots"`
	Active    string               `json:"active"`
	TurnCount int                  `json:"turn_count"`
	CreatedAt int64                `json:"created_at_unix_ms"`
	UpdatedAt int64                `json:"updated_at_unix_ms"`
}
