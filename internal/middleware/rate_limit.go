package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:postings:"

// ActorRateLimit caps write requests per initiating actor (or client IP when the body
// names none) to maxPerMin using a fixed one-minute window in Redis. It fails open
// when Redis is absent or erroring.
func ActorRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 {
			return c.Next()
		}
		var req struct {
			ActorType string `json:"actor_type"`
			ActorID   string `json:"actor_id"`
		}
		_ = c.BodyParser(&req)
		subject := c.IP()
		if id := strings.TrimSpace(req.ActorID); id != "" {
			subject = strings.TrimSpace(req.ActorType) + ":" + id
		}
		key := rateLimitPrefix + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many postings, try again later")
		}
		return c.Next()
	}
}
