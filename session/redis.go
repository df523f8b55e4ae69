package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	PoolSize  int           `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
}

// RedisStore persists sessions in redis: the committed context as a JSON
// string, turn history as a list alongside it. Both keys share one TTL so a
// session's record and history expire together.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "loanflow:session:"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis session store: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "session.redis")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests running
// against miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "loanflow:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "session.redis")),
	}
}

func (r *RedisStore) ctxKey(sessionID string) string   { return r.prefix + "ctx:" + sessionID }
func (r *RedisStore) turnsKey(sessionID string) string { return r.prefix + "turns:" + sessionID }

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (*conversation.Context, error) {
	raw, err := r.client.Get(ctx, r.ctxKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var rec contextRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}

	rawTurns, err := r.client.LRange(ctx, r.turnsKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load turns %s: %w", sessionID, err)
	}
	turns := make([]conversation.Turn, 0, len(rawTurns))
	for _, rt := range rawTurns {
		var t conversation.Turn
		if err := json.Unmarshal([]byte(rt), &t); err != nil {
			return nil, fmt.Errorf("decode turn of session %s: %w", sessionID, err)
		}
		turns = append(turns, t)
	}

	return rejoin(rec, turns), nil
}

// AppendTurn implements Store.
func (r *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := r.turnsKey(sessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn %s: %w", sessionID, err)
	}
	return nil
}

// Commit implements Store.
func (r *RedisStore) Commit(ctx context.Context, sessionID string, convo *conversation.Context) error {
	raw, err := json.Marshal(split(sessionID, convo))
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	if err := r.client.Set(ctx, r.ctxKey(sessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("commit session %s: %w", sessionID, err)
	}
	return nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
