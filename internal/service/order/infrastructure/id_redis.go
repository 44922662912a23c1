package infrastructure

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/redis"
)

const (
	nextIDScriptName    = "order_next_id"
	restoreIDScriptName = "order_restore_id"
)

// RedisIDGenerator 使用 Redis 计数器分配订单号，多个副本共享同一序列。
type RedisIDGenerator struct {
	redisClient *redis.Client
	key         string
	prefix      string
}

// NewRedisIDGenerator 创建生成器并加载所需的 Lua 脚本。
func NewRedisIDGenerator(ctx context.Context, redisClient *redis.Client, key, prefix string) (*RedisIDGenerator, error) {
	if err := redisClient.LoadScriptFromContent(ctx, nextIDScriptName, nextIDScript); err != nil {
		return nil, err
	}
	if err := redisClient.LoadScriptFromContent(ctx, restoreIDScriptName, restoreIDScript); err != nil {
		return nil, err
	}
	return &RedisIDGenerator{redisClient: redisClient, key: key, prefix: prefix}, nil
}

func (g *RedisIDGenerator) Next(ctx context.Context) (string, error) {
	result, err := g.redisClient.RunScript(ctx, nextIDScriptName, []string{g.key})
	if err != nil {
		return "", errors.Wrap(err, "redis id generator: next")
	}
	seq, ok := result.(int64)
	if !ok || seq <= 0 {
		return "", errors.Errorf("unexpected result from id script: %v", result)
	}
	return formatID(g.prefix, uint64(seq)), nil
}

// Restore 把计数器抬高到 seq，用于从本地快照迁移到 Redis 时避免撞号。
func (g *RedisIDGenerator) Restore(ctx context.Context, seq uint64) error {
	if _, err := g.redisClient.RunScript(ctx, restoreIDScriptName, []string{g.key}, seq); err != nil {
		return errors.Wrap(err, "redis id generator: restore")
	}
	return nil
}

// Sequence is not tracked locally; the counter lives in Redis.
func (g *RedisIDGenerator) Sequence() uint64 { return 0 }

var nextIDScript = `
-- KEYS[1]: 订单序号计数器
return redis.call('incr', KEYS[1])
`

var restoreIDScript = `
-- KEYS[1]: 订单序号计数器
-- ARGV[1]: 快照中记录的最大序号
local cur = tonumber(redis.call('get', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
    redis.call('set', KEYS[1], floor)
    return floor
end
return cur
`
