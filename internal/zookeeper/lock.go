// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	lockRoot   = "/distributed_locks" // 所有分布式锁的根节点
	nodePrefix = "lock-"
)

// Conn 是 DistributedLock 需要的 ZooKeeper 操作子集，*zk.Conn 直接满足。
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// Connect 连接 ZooKeeper 集群
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper: connect")
	}
	return conn, nil
}

// DistributedLock 基于临时顺序节点的分布式锁，用于截止监控的主备选举
type DistributedLock struct {
	conn     Conn
	path     string // 锁的路径，例如 /distributed_locks/order-bot-deadline-monitor
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁实例，并确保根节点和锁节点存在
func NewDistributedLock(conn Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "zookeeper: check %s", path)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return errors.Wrapf(err, "zookeeper: create %s", path)
	}
	return nil
}

// Acquire 阻塞直到获得锁或 ctx 结束
func (l *DistributedLock) Acquire(ctx context.Context) error {
	if l.lockNode == "" {
		// 在锁路径下创建一个临时顺序节点
		nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+nodePrefix, nil, zk.WorldACL(zk.PermAll))
		if err != nil {
			return errors.Wrap(err, "zookeeper: create sequential node")
		}
		l.lockNode = nodePath
	}
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return errors.Wrap(err, "zookeeper: list lock nodes")
		}
		// protected 节点名带有 _c_<guid>- 前缀，只能按序号排序
		sort.Slice(children, func(i, j int) bool { return sequenceOf(children[i]) < sequenceOf(children[j]) })

		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			// 会话过期导致节点丢失
			l.lockNode = ""
			return errors.New("zookeeper: own lock node disappeared")
		case idx == 0:
			log.Info().Str("lock", l.path).Str("node", myNodeName).Msg("Acquired distributed lock")
			return nil
		}

		// 不是最小节点，监听前一个节点
		prevNodePath := l.path + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			return errors.Wrap(err, "zookeeper: watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			_ = l.Release()
			return ctx.Err()
		}
	}
}

// Release 释放锁
func (l *DistributedLock) Release() error {
	if l.lockNode == "" {
		return nil
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrap(err, "zookeeper: delete lock node")
	}
	l.lockNode = ""
	return nil
}

// sequenceOf 取节点名末尾的 10 位序号
func sequenceOf(name string) string {
	if len(name) < 10 {
		return name
	}
	return name[len(name)-10:]
}
