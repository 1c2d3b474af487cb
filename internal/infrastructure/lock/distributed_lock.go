package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 用于在请求入口挡掉明显的重复提交（比如同一张卡被连点两次兑换），
// 减少无谓的数据库争用。注意这只是前置的薄保护：
// 兑换/扣款的最终一致性由数据库事务内的条件更新兜底，
// 即使锁失效或 Redis 不可用，也不会出现重复入账或超扣。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本先校验 value 再删除，避免误删他人持有的锁
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 锁持有者标识，释放时验证
	expiration time.Duration // 过期时间，防止持有者崩溃导致死锁
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本保证"检查+删除"的原子性：锁过期后被他人持有时不会误删
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewRedeemLock 创建卡密兑换锁（按卡密维度）
// 同一张卡的并发兑换在这里先串行化，不同卡互不影响
func NewRedeemLock(client *redis.Client, code string) *DistributedLock {
	key := fmt.Sprintf("credit:lock:card:%s", code)
	return NewDistributedLock(client, key, code, 10*time.Second)
}

// NewChargeLock 创建扣费锁（按用户维度）
// holder 标识持有请求，便于排查是哪个操作拿着锁
func NewChargeLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("credit:lock:user:%d", userID)
	return NewDistributedLock(client, key, holder, 10*time.Second)
}
