package mio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore records single-use token hashes. MarkUsed must be atomic:
// the first caller wins, every later caller for the same hash sees a
// replay. Hashes expire so the table stays bounded.
type ReplayStore interface {
	// MarkUsed records the hash with the given TTL. Returns false when the
	// hash was already present (replay detected).
	MarkUsed(ctx context.Context, tokenHash string, ttl time.Duration) (bool, error)
}

// ExecutionTokenHash derives the replay key for one MIO execution.
func ExecutionTokenHash(mioID, sessionID, deviceID string) string {
	sum := sha256.Sum256([]byte(mioID + ":" + sessionID + ":" + deviceID))
	return hex.EncodeToString(sum[:])
}

// TouchTokenHash derives the replay key for a single-use touch token.
func TouchTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RedisReplayStore backs the replay table with redis SETNX + expiry, which
// gives atomic first-writer-wins across nodes.
type RedisReplayStore struct {
	client *redis.Client
}

// NewRedisReplayStore creates a replay store over the shared client.
func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

func (s *RedisReplayStore) MarkUsed(ctx context.Context, tokenHash string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "replay:"+tokenHash, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay store: %w", err)
	}
	return ok, nil
}

// MemoryReplayStore is the in-memory replay table for tests and
// single-node runs.
type MemoryReplayStore struct {
	mu   sync.Mutex
	used map[string]time.Time // hash -> expiry
	now  func() time.Time
}

// NewMemoryReplayStore creates an empty replay table.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{
		used: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryReplayStore) MarkUsed(_ context.Context, tokenHash string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.used[tokenHash]; ok && exp.After(now) {
		return false, nil
	}
	s.used[tokenHash] = now.Add(ttl)
	return true, nil
}
