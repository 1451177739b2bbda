// Package fiber provides Fiber adapters for serving billing webhooks
package fiber

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Webhook adapts a provider's net/http webhook handler to Fiber
func Webhook(provider billing.Provider) fiber.Handler {
	return adaptor.HTTPHandler(provider.WebhookHandler())
}

// Register mounts the provider's webhook as a POST route.
func Register(router fiber.Router, path string, provider billing.Provider) {
	router.Post(path, Webhook(provider))
}

// AccessLog logs one line per request through a billing.Logger
func AccessLog(logger billing.Logger) fiber.Handler {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		fields := []billing.Field{
			billing.F("method", c.Method()),
			billing.F("path", c.Path()),
			billing.F("status", status),
			billing.F("duration", time.Since(start)),
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
		return err
	}
}
