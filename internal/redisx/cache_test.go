package redisx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvRedis answers GET, SET and PING from a map; every other command panics
// through the nil embedded interface.
type kvRedis struct {
	redis.Cmdable
	kv   map[string]string
	down error
}

func (f *kvRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	v, ok := f.kv[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *kvRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.kv[key] = fmt.Sprint(value)
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	cmd.SetVal("OK")
	return cmd
}

func (f *kvRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if f.down != nil {
		cmd.SetErr(f.down)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func TestIdempotency_ScopedToStudent(t *testing.T) {
	rdb := &kvRedis{kv: map[string]string{}}
	idem := NewIdempotency(rdb)
	ctx := context.Background()

	require.NoError(t, idem.Remember(ctx, "s1", "k1", "booking-1"))
	assert.Contains(t, rdb.kv, "idem:booking:create:s1:k1")

	id, ok, err := idem.Lookup(ctx, "s1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "booking-1", id)

	_, ok, err = idem.Lookup(ctx, "s2", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	rdb := &kvRedis{kv: map[string]string{}}
	check := Ping(rdb)
	assert.NoError(t, check(context.Background()))

	rdb.down = errors.New("connection refused")
	assert.Error(t, check(context.Background()))
}
