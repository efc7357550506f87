// Package redis stores refresh tokens in Redis. Each token lives under its own
// key with a TTL matching its expiry; a per-user set indexes a user's tokens
// so they can be revoked together.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gamehub/internal/account"
	"github.com/Tyrowin/gamehub/internal/auth"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "gamehub:refresh:"

// Options configures a client for NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// RefreshTokenStore implements auth.RefreshStore on Redis.
type RefreshTokenStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRefreshTokenStore returns a store writing keys under prefix, or
// DefaultPrefix when prefix is empty.
func NewRefreshTokenStore(client redis.UniversalClient, prefix string) *RefreshTokenStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RefreshTokenStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RefreshTokenStore) tokenKey(hash string) string {
	return s.prefix + "token:" + hash
}

func (s *RefreshTokenStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

// Create stores t until its expiry. A token that is already expired is not
// written.
func (s *RefreshTokenStore) Create(ctx context.Context, t *auth.RefreshToken) error {
	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(record{ID: t.ID, UserID: t.UserID, ExpiresAt: t.ExpiresAt, CreatedAt: t.CreatedAt})
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.tokenKey(t.TokenHash), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return account.ErrDuplicate
	}

	userKey := s.userKey(t.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, userKey, t.TokenHash)
		// The index lives as long as the newest token.
		pipe.ExpireGT(ctx, userKey, ttl)
		pipe.ExpireNX(ctx, userKey, ttl)
		return nil
	})
	return err
}

// GetByHash returns the token with hash, or nil if not found.
func (s *RefreshTokenStore) GetByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	data, err := s.client.Get(ctx, s.tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(hash, data)
}

// TakeByHash removes the token with hash using GETDEL and returns it, or nil
// if not found. Only one concurrent caller can observe a given token.
func (s *RefreshTokenStore) TakeByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	data, err := s.client.GetDel(ctx, s.tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := decodeRecord(hash, data)
	if err != nil {
		return nil, err
	}
	// The token is already claimed; a stale index entry is pruned by DeleteExpired.
	_ = s.client.SRem(ctx, s.userKey(t.UserID), hash).Err()
	return t, nil
}

func decodeRecord(hash string, data []byte) (*auth.RefreshToken, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return &auth.RefreshToken{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: hash,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *RefreshTokenStore) DeleteByHash(ctx context.Context, hash string) error {
	t, err := s.GetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tokenKey(hash))
		pipe.SRem(ctx, s.userKey(t.UserID), hash)
		return nil
	})
	return err
}

// DeleteByUser removes every live token of userID and returns how many existed.
func (s *RefreshTokenStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	userKey := s.userKey(userID)
	hashes, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, s.tokenKey(h))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted.Val(), nil
}

// DeleteExpired deletes tokens whose recorded expiry is before before and
// returns how many it removed, matching the SQL store. Redis normally drops
// expired keys on its own through their TTL, so the count is usually zero.
// Index entries pointing at keys that are already gone are pruned without
// being counted.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, s.prefix+"user:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		hashes, err := s.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, err
		}
		for _, h := range hashes {
			t, err := s.GetByHash(ctx, h)
			if err != nil {
				return removed, err
			}
			if t != nil && !t.ExpiresAt.Before(before) {
				continue
			}
			if t != nil {
				n, err := s.client.Del(ctx, s.tokenKey(h)).Result()
				if err != nil {
					return removed, err
				}
				removed += n
			}
			if err := s.client.SRem(ctx, userKey, h).Err(); err != nil {
				return removed, err
			}
		}
	}
	return removed, iter.Err()
}
