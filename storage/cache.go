package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

// Cache wraps a Store with a Redis-backed board snapshot. Board reads are
// served from a per-user hash; every commit for the user evicts it. Redis
// failures fall back to the backing store.
type Cache struct {
	domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) SnapshotTaskLists(ctx context.Context, userID string) ([]domain.TaskList, error) {
	var lists []domain.TaskList
	if c.load(ctx, userID, listsField, &lists) {
		return lists, nil
	}
	gen, ok := c.generation(ctx, userID)
	lists, err := c.Store.ListTaskLists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, userID, listsField, gen, lists)
	}
	return lists, nil
}

func (c *Cache) SnapshotTasks(ctx context.Context, userID, listID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, userID, tasksField(listID), &tasks) {
		return tasks, nil
	}
	gen, ok := c.generation(ctx, userID)
	tasks, err := c.Store.ListTasks(ctx, userID, listID, 0)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, userID, tasksField(listID), gen, tasks)
	}
	return tasks, nil
}

// Commit forwards to the backing store and evicts the user's snapshot
// whatever the outcome.
func (c *Cache) Commit(ctx context.Context, userID string, b *domain.Batch) error {
	err := c.Store.Commit(ctx, userID, b)
	c.Evict(ctx, userID)
	return err
}

func (c *Cache) load(ctx context.Context, userID, field string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.HGet(ctx, boardCacheKey(userID), field).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		return false
	}
	return true
}

// generation returns the user's board generation. It must be read before
// the backing store so a commit that lands in between is detected.
func (c *Cache) generation(ctx context.Context, userID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, boardGenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

// store writes a snapshot field unless the generation moved past gen.
func (c *Cache) store(ctx context.Context, userID, field string, gen int64, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	key, genKey := boardCacheKey(userID), boardGenKey(userID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// Evict drops the cached board of a user and bumps its generation so reads
// that started before the eviction do not store their snapshot.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	genKey := boardGenKey(userID)
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	pipe.Del(ctx, boardCacheKey(userID))
	_, _ = pipe.Exec(ctx)
}

const (
	listsField = "lists"

	// generationTTL outlives any in-flight board read.
	generationTTL = 24 * time.Hour
)

var errStaleSnapshot = errors.New("board changed while reading")

func tasksField(listID string) string {
	return "tasks:" + listID
}

func boardCacheKey(userID string) string {
	return "board:" + userID
}

func boardGenKey(userID string) string {
	return "board:gen:" + userID
}
