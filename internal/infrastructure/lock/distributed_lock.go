package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：会员A的客户端因网络抖动对同一次升级重复提交两次
//
// 如果没有分布式锁：
//   goroutine1: 校验等级=0 -> 升级 -> 等级=1   OK
//   goroutine2: 校验等级=0 -> 升级 -> 等级又变1，但钱包被扣了两次！
//
// 加了分布式锁（按会员维度）：
//   goroutine1: 获取锁 -> 升级成功 -> 释放锁
//   goroutine2: 等锁 -> 获取锁 -> 校验发现等级已是1 -> 顺序错误，拒绝
//
// 加锁：SET key value NX EX timeout
// 释放锁：Lua 脚本先验 value 再删 key，防止误删他人持有的锁
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 锁持有者标识（释放时验证）
	expiration time.Duration
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
	// NX: 只有 key 不存在时才设置
	// EX: 设置过期时间，防止持锁进程崩溃造成死锁
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
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本保证"检查+删除"的原子性：A 超时后 B 拿到锁，A 迟到的
// Unlock 发现 value 不是自己的就不会删掉 B 的锁。
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

// ============================================================================
// 便捷函数：按会员维度的操作锁
// ============================================================================

// NewMemberLock 创建会员操作锁
// 升级、网关捐赠核验、提现审批共用同一把会员锁：三者都会改动该会员的
// 钱包余额与等级，同一会员的资金操作必须串行，不同会员互不影响。
func NewMemberLock(client *redis.Client, memberID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("member:lock:%d", memberID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
