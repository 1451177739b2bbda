// Package echo provides Echo adapters for serving billing webhooks
package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Webhook adapts a provider's webhook handler to Echo
func Webhook(provider billing.Provider) echo.HandlerFunc {
	return echo.WrapHandler(provider.WebhookHandler())
}

// Register mounts the provider's webhook as a POST route on an Echo instance or group.
func Register(routes interface {
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}, path string, provider billing.Provider) {
	routes.POST(path, Webhook(provider))
}

// AccessLog logs one line per request through a billing.Logger
func AccessLog(logger billing.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []billing.Field{
				billing.F("method", c.Request().Method),
				billing.F("path", c.Request().URL.Path),
				billing.F("status", status),
				billing.F("duration", time.Since(start)),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
			return nil
		}
	}
}
