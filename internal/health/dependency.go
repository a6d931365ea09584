package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type DBChecker struct {
	db *gorm.DB
}

func NewDBChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return &DBChecker{db: db}
}

func (c *DBChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "db", Healthy: true}
	sqlDB, err := c.db.DB()
	if err != nil {
		return unhealthy(res, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unhealthy(res, err)
	}
	return res
}

type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	if client == nil {
		return nil
	}
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "redis", Healthy: true}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unhealthy(res, err)
	}
	return res
}

// QueueDepth is satisfied by the notification outbox.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// OutboxChecker turns unhealthy once undelivered notifications pile up past
// maxBacklog, which usually means the worker is down.
type OutboxChecker struct {
	queue      QueueDepth
	maxBacklog int64
}

func NewOutboxChecker(queue QueueDepth, maxBacklog int64) Checker {
	if queue == nil || maxBacklog <= 0 {
		return nil
	}
	return &OutboxChecker{queue: queue, maxBacklog: maxBacklog}
}

func (c *OutboxChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "notification_outbox", Healthy: true}
	n, err := c.queue.Len(ctx)
	if err != nil {
		return unhealthy(res, err)
	}
	if n > c.maxBacklog {
		return unhealthy(res, fmt.Errorf("backlog %d exceeds %d", n, c.maxBacklog))
	}
	return res
}

func unhealthy(res CheckResult, err error) CheckResult {
	res.Healthy = false
	res.Error = err.Error()
	return res
}
