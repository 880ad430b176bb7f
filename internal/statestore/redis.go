// internal/statestore/redis.go
package statestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "onb:state:"

type redisStore struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedis returns a store shared across instances. GETDEL gives the same
// one-shot consumption guarantee the in-memory variant provides.
func NewRedis(cli *redis.Client, ttl time.Duration) Store {
	return &redisStore{cli: cli, ttl: ttl}
}

func (s *redisStore) Issue(redirectURI string) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.cli.Set(context.Background(), redisKeyPrefix+tok, redirectURI, s.ttl).Err(); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *redisStore) Consume(token string) (string, error) {
	v, err := s.cli.GetDel(context.Background(), redisKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
