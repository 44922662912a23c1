package infrastructure

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/redis"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

const testSeqKey = "orderbot:order:seq"

func newTestRedisIDGenerator(t *testing.T) (*RedisIDGenerator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClientWith(context.Background(), goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	gen, err := NewRedisIDGenerator(context.Background(), c, testSeqKey, "CS")
	require.NoError(t, err)
	return gen, mr
}

func TestRedisIDGenerator_Next(t *testing.T) {
	gen, mr := newTestRedisIDGenerator(t)
	ctx := context.Background()

	for _, want := range []string{"CS0001", "CS0002"} {
		id, err := gen.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	got, err := mr.Get(testSeqKey)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestRedisIDGenerator_RestoreOnlyRaises(t *testing.T) {
	gen, mr := newTestRedisIDGenerator(t)
	ctx := context.Background()

	require.NoError(t, gen.Restore(ctx, 41))
	id, err := gen.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CS0042", id)

	// 较小的值不会把计数器拉回去
	require.NoError(t, gen.Restore(ctx, 5))
	got, err := mr.Get(testSeqKey)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	id, err = gen.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CS0043", id)
}

func TestRedisIDGenerator_StoreLoadRaisesCounter(t *testing.T) {
	gen, _ := newTestRedisIDGenerator(t)
	ctx := context.Background()

	backend := &memSnapshotter{snap: &domain.Snapshot{Sequence: 9, Orders: map[string]*domain.Order{}}}
	s := NewSnapshotStore(backend, gen, nil)
	require.NoError(t, s.Load(ctx))

	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "CS0010", id, "ids continue after the snapshot sequence")
}

func TestRedisIDGenerator_NextFailsWhenServerGone(t *testing.T) {
	gen, mr := newTestRedisIDGenerator(t)
	mr.Close()

	_, err := gen.Next(context.Background())
	assert.Error(t, err)
}
