package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry maps conversation ids to vector index ids
type Registry interface {
	// Get returns the index registered for a conversation
	Get(ctx context.Context, conversationID string) (string, bool, error)
	// PutIfAbsent registers indexID unless the conversation already has an
	// index. It returns the registered id and whether indexID won.
	PutIfAbsent(ctx context.Context, conversationID, indexID string) (string, bool, error)
}

type memoryEntry struct {
	indexID string
	expires time.Time
}

// MemoryRegistry is a process-local Registry with sliding expiry
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	onEvict func(indexID string)
	now     func() time.Time
}

// NewMemoryRegistry creates a registry. ttl <= 0 disables expiry. onEvict,
// when set, is called outside the lock for each expired index.
func NewMemoryRegistry(ttl time.Duration, onEvict func(indexID string)) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		onEvict: onEvict,
		now:     time.Now,
	}
}

func (r *MemoryRegistry) Get(ctx context.Context, conversationID string) (string, bool, error) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if ok && r.expired(e) {
		delete(r.entries, conversationID)
		r.mu.Unlock()
		r.evict(e.indexID)
		return "", false, nil
	}
	if ok && r.ttl > 0 {
		e.expires = r.now().Add(r.ttl)
		r.entries[conversationID] = e
	}
	r.mu.Unlock()
	return e.indexID, ok, nil
}

func (r *MemoryRegistry) PutIfAbsent(ctx context.Context, conversationID, indexID string) (string, bool, error) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	var stale string
	if ok && r.expired(e) {
		stale = e.indexID
		ok = false
	}
	if ok {
		r.mu.Unlock()
		return e.indexID, false, nil
	}
	r.entries[conversationID] = memoryEntry{indexID: indexID, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	if stale != "" {
		r.evict(stale)
	}
	return indexID, true, nil
}

// Sweep drops every expired entry and returns how many were evicted
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	var expired []string
	for conv, e := range r.entries {
		if r.expired(e) {
			expired = append(expired, e.indexID)
			delete(r.entries, conv)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.evict(id)
	}
	return len(expired)
}

// Len returns the number of registered conversations
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *MemoryRegistry) expired(e memoryEntry) bool {
	return r.ttl > 0 && r.now().After(e.expires)
}

func (r *MemoryRegistry) evict(indexID string) {
	if r.onEvict != nil {
		r.onEvict(indexID)
	}
}

const defaultRedisPrefix = "legalchat:rag:index:"

// RedisRegistry shares the conversation to index mapping between server
// instances. Keys expire after ttl and are refreshed on every hit.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisRegistry creates a registry on client
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl, prefix: defaultRedisPrefix}
}

func (r *RedisRegistry) key(conversationID string) string {
	return r.prefix + conversationID
}

func (r *RedisRegistry) Get(ctx context.Context, conversationID string) (string, bool, error) {
	key := r.key(conversationID)
	id, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if r.ttl > 0 {
		_ = r.client.Expire(ctx, key, r.ttl).Err()
	}
	return id, true, nil
}

func (r *RedisRegistry) PutIfAbsent(ctx context.Context, conversationID, indexID string) (string, bool, error) {
	key := r.key(conversationID)
	ok, err := r.client.SetNX(ctx, key, indexID, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		return indexID, true, nil
	}

	winner, found, err := r.Get(ctx, conversationID)
	if err != nil {
		return "", false, err
	}
	if !found {
		// expired between SETNX and GET
		return r.PutIfAbsent(ctx, conversationID, indexID)
	}
	return winner, false, nil
}

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*RedisRegistry)(nil)
)
