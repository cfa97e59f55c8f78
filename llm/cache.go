package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a ResponseCache when the key is absent.
var ErrCacheMiss = errors.New("llm: cache miss")

// ResponseCache stores serialized responses by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a ResponseCache backed by Redis.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb, prefix: "papergraph:llm:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

type cachedProvider struct {
	next  Provider
	cache ResponseCache
	ttl   time.Duration
	// model keys embeddings, which carry no per-request model.
	model string
}

// WithCache memoizes deterministic calls to p. Only chat requests with
// zero temperature are cached; embeddings are cached per text. Cache
// failures are logged and fall through to p.
func WithCache(p Provider, cache ResponseCache, model string, ttl time.Duration) Provider {
	if cache == nil {
		return p
	}
	return &cachedProvider{next: p, cache: cache, ttl: ttl, model: model}
}

func hashKey(kind string, v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(append([]byte(kind+":"), b...))
	return kind + ":" + hex.EncodeToString(sum[:])
}

func (c *cachedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Temperature != 0 {
		return c.next.Chat(ctx, req)
	}
	keyReq := req
	if keyReq.Model == "" {
		keyReq.Model = c.model
	}
	key := hashKey("chat", keyReq)

	if b, err := c.cache.Get(ctx, key); err == nil {
		var resp ChatResponse
		if json.Unmarshal(b, &resp) == nil {
			return &resp, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("llm: cache read failed", "error", err)
	}

	resp, err := c.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(resp); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			slog.Warn("llm: cache write failed", "error", err)
		}
	}
	return resp, nil
}

func (c *cachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		b, err := c.cache.Get(ctx, hashKey("embed", [2]string{c.model, t}))
		if err == nil && json.Unmarshal(b, &out[i]) == nil {
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j >= len(fresh) {
			break
		}
		out[i] = fresh[j]
		if b, err := json.Marshal(fresh[j]); err == nil {
			if err := c.cache.Set(ctx, hashKey("embed", [2]string{c.model, texts[i]}), b, c.ttl); err != nil {
				slog.Warn("llm: cache write failed", "error", err)
			}
		}
	}
	return out, nil
}
