// internal/pkg/redis/client.go
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 的 UniversalClient，单节点与集群地址都可以使用，
// 并缓存按名字注册的 Lua 脚本。
type Client struct {
	client goredis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 连接 addrs 并做一次 PING 校验。
func NewClient(ctx context.Context, addrs []string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}
	uc := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        addrs,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return NewClientWith(ctx, uc)
}

// NewClientWith wraps a client built by the caller.
func NewClientWith(ctx context.Context, uc goredis.UniversalClient) (*Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := uc.Ping(pingCtx).Err(); err != nil {
		_ = uc.Close()
		return nil, errors.Wrap(err, "redis: ping")
	}
	return &Client{client: uc, scripts: make(map[string]*goredis.Script)}, nil
}

// LoadScriptFromContent 注册脚本并预先加载到服务端，之后通过 EVALSHA 执行。
func (c *Client) LoadScriptFromContent(ctx context.Context, name, src string) error {
	script := goredis.NewScript(src)
	if err := script.Load(ctx, c.client).Err(); err != nil {
		return errors.Wrapf(err, "redis: load script %s", name)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本。脚本缓存被清空时 go-redis 会自动退回 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("redis: script %s not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

func (c *Client) GetClient() goredis.UniversalClient { return c.client }

func (c *Client) Close() error { return c.client.Close() }
