package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", s.err)
}

func TestPing(t *testing.T) {
	require.NoError(t, Ping(context.Background(), stubPinger{}))

	err := Ping(context.Background(), stubPinger{err: fmt.Errorf("dial tcp: connection refused")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
	assert.Contains(t, err.Error(), "connection refused")
}
