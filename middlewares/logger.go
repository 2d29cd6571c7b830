package middlewares

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request with method, path, status and latency.
// Requests admitted by Idempotent also carry their idempotency key.
func RequestLogger(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The app error handler runs after us; report the status it will pick.
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if id := UserID(c); id != "" {
			fields = append(fields, zap.String("user_id", id))
		}
		if key, err := IdempotencyKeyFromCtx(c); err == nil {
			fields = append(fields, zap.String("idempotency_key", key.String()))
		}
		if status >= fiber.StatusInternalServerError {
			log.Warn("request failed", fields...)
		} else {
			log.Info("request", fields...)
		}
		return err
	}
}
