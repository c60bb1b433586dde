package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "authkit:"

// RedisStore keeps clients and grants in Redis. Grants expire with their
// key TTL and are consumed with GETDEL.
type RedisStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// OpenRedis connects to redisURL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb), nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) CreateClient(ctx context.Context, c *Client) error {
	return s.put(ctx, "client:"+c.ID, c, 0)
}

func (s *RedisStore) GetClient(ctx context.Context, id string) (*Client, error) {
	data, err := s.rdb.Get(ctx, redisPrefix+"client:"+id).Bytes()
	if err != nil {
		return nil, s.notFound(err)
	}
	var c Client
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) SaveCode(ctx context.Context, code *AuthCode) error {
	ttl := code.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.put(ctx, "code:"+code.Code, code, ttl)
}

func (s *RedisStore) ConsumeCode(ctx context.Context, code string) (*AuthCode, error) {
	var c AuthCode
	if err := s.take(ctx, "code:"+code, &c); err != nil {
		return nil, err
	}
	if s.now().After(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *RedisStore) SaveRefresh(ctx context.Context, grant *RefreshGrant) error {
	ttl := grant.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.put(ctx, "refresh:"+grant.Token, grant, ttl)
}

func (s *RedisStore) ConsumeRefresh(ctx context.Context, token string) (*RefreshGrant, error) {
	var g RefreshGrant
	if err := s.take(ctx, "refresh:"+token, &g); err != nil {
		return nil, err
	}
	if s.now().After(g.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &g, nil
}

// put stores v as JSON; a zero ttl keeps the key until deleted.
func (s *RedisStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, redisPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) take(ctx context.Context, key string, v any) error {
	data, err := s.rdb.GetDel(ctx, redisPrefix+key).Bytes()
	if err != nil {
		return s.notFound(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) notFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return err
}
