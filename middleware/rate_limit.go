package middleware

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/adwatch/rewards_api/services"
	"github.com/adwatch/rewards_api/shared"
)

// RateLimitMiddleware is a fixed-window per-user limiter over redis, applied
// to the reward-bearing endpoints.
type RateLimitMiddleware struct {
	context.DefaultService

	redisSvc *services.RedisService

	window   time.Duration
	maxCalls int64
}

const RATE_LIMIT_MIDDLEWARE_SVC = "rate_limit"

func (svc RateLimitMiddleware) Id() string {
	return RATE_LIMIT_MIDDLEWARE_SVC
}

func (svc *RateLimitMiddleware) Configure(ctx *context.Context) error {
	svc.redisSvc = ctx.Service(services.REDIS_SVC).(*services.RedisService)

	svc.window = time.Minute
	svc.maxCalls = 60
	if raw := os.Getenv("RATE_LIMIT_PER_MINUTE"); raw != "" {
		if limit, err := strconv.ParseInt(raw, 10, 64); err == nil && limit > 0 {
			svc.maxCalls = limit
		}
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitMiddleware) Start() error {
	return nil
}

func (svc *RateLimitMiddleware) Limit(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		telegramID, ok := c.Locals(shared.TelegramID).(int64)
		if !ok {
			return c.Next()
		}

		key := fmt.Sprintf("rate:%s:%d:%d", scope, telegramID, time.Now().Unix()/int64(svc.window.Seconds()))

		count, err := svc.redisSvc.Increment(c.Context(), key)
		if err != nil {
			// Limiter faults must not take the endpoint down.
			log.WithError(err).Debug("Rate limiter unavailable")
			return c.Next()
		}
		if count == 1 {
			if err := svc.redisSvc.Expire(c.Context(), key, svc.window); err != nil {
				log.WithError(err).Debug("Failed to set rate limit window expiry")
			}
		}

		if count > svc.maxCalls {
			return shared.NewTooManyRequestsError(errors.New("rate limit exceeded"), "Too many requests, slow down")
		}

		return c.Next()
	}
}
