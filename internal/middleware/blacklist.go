package middleware

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/sha3"
)

// RedisTokenBlacklist implements TokenBlacklist using Redis. Tokens are
// stored by digest so the keyspace never holds usable credentials.
type RedisTokenBlacklist struct {
	client *redis.Client
}

func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client}
}

func (b *RedisTokenBlacklist) Blacklist(ctx context.Context, token string, expiration time.Duration) error {
	return b.client.Set(ctx, revokedKey(token), "revoked", expiration).Err()
}

func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	exists, err := b.client.Exists(ctx, revokedKey(token)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func revokedKey(token string) string {
	sum := sha3.Sum256([]byte(token))
	return "vault:revoked:" + hex.EncodeToString(sum[:])
}
