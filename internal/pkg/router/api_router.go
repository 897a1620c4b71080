package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/studyhall-app/studyhall/app/controllers"
	"github.com/studyhall-app/studyhall/internal/pkg/cache"
	"github.com/studyhall-app/studyhall/internal/pkg/env"
	"github.com/studyhall-app/studyhall/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")

	// Webhook endpoints are rate limited across instances via Redis-backed
	// storage; provider retries must never be rejected by a per-instance
	// in-memory limiter after a rolling deploy.
	webhooks := api.Group("/webhooks", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	webhooks.Post("/dodo", controllers.HandleDodoWebhook)
	webhooks.Get("/dodo", controllers.HandleWebhookHealth)
	webhooks.Post("/paypal", controllers.HandlePayPalWebhook)
	webhooks.Get("/paypal", controllers.HandleWebhookHealth)

	internal := api.Group("/internal", middleware.InternalKeyMiddleware())
	internal.Get("/webhooks/status", controllers.HandleWebhookStatus)
	internal.Get("/webhooks/audit/:userID", controllers.HandleSubscriptionAudit)
	internal.Get("/users/:userID/entitlements", controllers.HandleUserEntitlements)
}

// newLimiterStorage reuses the cache server for limiter state, on a separate
// database so flushes of one never touch the other.
func newLimiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
