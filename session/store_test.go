package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finagents/loanflow/agent/conversation"
)

// roundTripSuite exercises the Store contract against any backend.
func roundTripSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	convo := conversation.New("s-1")
	convo.Active = "profiling"
	convo.TurnCount = 2
	convo.Slots[conversation.SlotPurpose] = conversation.StringValue("car_purchase")
	convo.Slots[conversation.SlotAmount] = conversation.NumberValue(15000)
	convo.Slots[conversation.SlotCollateral] = conversation.BoolValue(true)

	turns := []conversation.Turn{
		{Index: 0, Role: conversation.RoleUser, Text: "I want a car loan", State: "routing", Verdict: "allow", Timestamp: time.Now().UTC()},
		{Index: 1, Role: conversation.RoleAssistant, Text: "Great, let's begin.", AgentID: "intent_router", State: "profiling", Verdict: "allow", Directive: "agent->profiling", Timestamp: time.Now().UTC()},
	}
	for _, turn := range turns {
		require.NoError(t, store.AppendTurn(ctx, "s-1", turn))
	}
	require.NoError(t, store.Commit(ctx, "s-1", convo))

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", loaded.SessionID)
	assert.Equal(t, "profiling", loaded.Active)
	assert.Equal(t, 2, loaded.TurnCount)
	assert.Equal(t, "car_purchase", loaded.Slots[conversation.SlotPurpose].Text)
	assert.Equal(t, float64(15000), loaded.Slots[conversation.SlotAmount].Number)
	assert.True(t, loaded.Slots[conversation.SlotCollateral].Flag)

	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, conversation.RoleUser, loaded.Turns[0].Role)
	assert.Equal(t, "I want a car loan", loaded.Turns[0].Text)
	assert.Equal(t, "agent->profiling", loaded.Turns[1].Directive)

	// Recommit with changed state, no turn growth.
	convo.Active = "evaluating"
	convo.TurnCount = 3
	require.NoError(t, store.Commit(ctx, "s-1", convo))
	loaded, err = store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "evaluating", loaded.Active)
	assert.Len(t, loaded.Turns, 2)

	require.NoError(t, store.Ping(ctx))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(nil)
	roundTripSuite(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore(nil)
	require.NoError(t, store.Close())

	_, err := store.Load(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:session:", nil)
	defer store.Close()

	roundTripSuite(t, store)

	assert.True(t, mr.Exists("test:session:ctx:s-1"))
	assert.True(t, mr.Exists("test:session:turns:s-1"))
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:session:", nil)
	store.ttl = time.Hour
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.AppendTurn(ctx, "s-1", conversation.Turn{Role: conversation.RoleUser, Text: "hi"}))
	require.NoError(t, store.Commit(ctx, "s-1", conversation.New("s-1")))

	assert.Greater(t, mr.TTL("test:session:ctx:s-1"), time.Duration(0))
	assert.Greater(t, mr.TTL("test:session:turns:s-1"), time.Duration(0))
}

func TestGormStoreRoundTrip(t *testing.T) {
	store, err := NewGormStore(DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()

	roundTripSuite(t, store)
}

func TestGormStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewGormStore(DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, Config{Type: StoreTypeMemory}, nil)
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok)

	store, err = New(ctx, Config{
		Type:     StoreTypeDatabase,
		Database: DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
	}, nil)
	require.NoError(t, err)
	_, ok = store.(*GormStore)
	assert.True(t, ok)

	_, err = New(ctx, Config{Type: "etcd"}, nil)
	assert.Error(t, err)
}
