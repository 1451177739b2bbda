// Package gin provides Gin adapters for serving billing webhooks
package gin

import (
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Webhook adapts a provider's webhook handler to Gin. The raw request body is
// passed through untouched so signature verification still works.
func Webhook(provider billing.Provider) gongin.HandlerFunc {
	return gongin.WrapH(provider.WebhookHandler())
}

// Register mounts the provider's webhook as a POST route.
func Register(routes gongin.IRoutes, path string, provider billing.Provider) {
	routes.POST(path, Webhook(provider))
}

// AccessLog logs one line per request through a billing.Logger
func AccessLog(logger billing.Logger) gongin.HandlerFunc {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(c *gongin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []billing.Field{
			billing.F("method", c.Request.Method),
			billing.F("path", c.Request.URL.Path),
			billing.F("status", status),
			billing.F("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, billing.F("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
