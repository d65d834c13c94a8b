// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// Connect 建立 ZooKeeper 会话。
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	return conn, nil
}

// DistributedLock 是基于临时顺序节点的分布式锁
type DistributedLock struct {
	conn     *zk.Conn
	path     string // 锁的路径，例如 /distributed_locks/order-retry-job
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁实例，并确保锁路径存在。
func NewDistributedLock(conn *zk.Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		_, err := conn.Create(p, []byte(""), 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, errors.Wrapf(err, "create lock node %s", p)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 获取锁，阻塞直到成功、ctx 结束，或超时返回 ErrLockTimeout。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	for {
		// 2. 获取所有子节点并按序号排序（protected 前缀不参与比较）
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "get children nodes")
		}
		sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

		// 3. 自己是最小节点即获得锁
		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		if idx == 0 {
			return nil
		}
		if idx < 0 {
			l.abandon()
			return errors.New("own lock node disappeared")
		}

		// 4. 监听前一个节点
		prevNodePath := l.path + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			continue
		case <-ctx.Done():
			l.abandon()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrLockTimeout
			}
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

// sequence 取顺序节点末尾的 10 位序号。
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
