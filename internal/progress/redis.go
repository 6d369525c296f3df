package progress

import (
	"context"
	"time"

	"postcode-polygons/internal/logger"

	"github.com/redis/go-redis/v9"
)

// keyPrefix：进度哈希键前缀，后接 run_id
const keyPrefix = "postcode-polygons:progress:"

// 文档注释：把进度写入 Redis 哈希，供外部面板轮询
// 背景：字段为 <phase>:total / <phase>:done / <phase>:failed / <phase>:finished_at。
// 约束：Redis 错误只记录日志，不影响批处理；rc 为 nil 时所有方法为空操作。
type Redis struct {
	rc  *redis.Client
	key string
	ttl time.Duration
}

// NewRedis：rc 为 nil 时返回 nil（Multi 会忽略 nil 成员）
func NewRedis(rc *redis.Client, runID string, ttl time.Duration) Reporter {
	if rc == nil {
		return nil
	}
	return &Redis{rc: rc, key: keyPrefix + runID, ttl: ttl}
}

func (r *Redis) Start(phase string, total int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key, phase+":total", total, phase+":done", 0, phase+":failed", 0)
		if r.ttl > 0 {
			p.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	r.warn(err)
}

func (r *Redis) Done(phase, key string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err != nil {
		r.warn(r.rc.HIncrBy(ctx, r.key, phase+":failed", 1).Err())
	}
	r.warn(r.rc.HIncrBy(ctx, r.key, phase+":done", 1).Err())
}

func (r *Redis) Finish(phase string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.warn(r.rc.HSet(ctx, r.key, phase+":finished_at", time.Now().UTC().Format(time.RFC3339)).Err())
}

func (r *Redis) warn(err error) {
	if err != nil {
		logger.L().Warn("progress_redis_error", "key", r.key, "err", err)
	}
}
