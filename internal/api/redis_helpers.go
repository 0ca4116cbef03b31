package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resumeforge/internal/api/middleware"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// LLMQuota 按用户、按小时限制模型调用次数。处理器在请求校验通过、即将调用模型时计数，
// 因此无效请求不会消耗额度。Redis 不可用时放行。
type LLMQuota struct {
	client  redisRateCounter
	perHour int
}

func NewLLMQuota(client redisRateCounter, perHour int) *LLMQuota {
	return &LLMQuota{client: client, perHour: perHour}
}

// Allow 记一次调用；超过上限时写入 429 并返回 false。
func (q *LLMQuota) Allow(c *gin.Context) bool {
	if q == nil || q.client == nil || q.perHour <= 0 {
		return true
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		return true
	}

	window := time.Now().UTC().Format("2006010215")
	key := fmt.Sprintf("rate:llm:%s:%s", userID, window)
	count, err := incrWithTTL(c.Request.Context(), q.client, key, time.Hour)
	if err != nil {
		middleware.LoggerFromContext(c).Warn("rate limit counter unavailable", "error", err)
		return true
	}
	if count > int64(q.perHour) {
		c.Header("Retry-After", "3600")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "too many requests, try again later",
		})
		return false
	}
	return true
}
