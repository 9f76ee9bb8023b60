package http

import (
	"net/http"
	"time"

	"order-engine/internal/infra"
	"order-engine/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderUserName       = "X-User-Name"
	HeaderUserPhone      = "X-User-Phone"
	HeaderUserEmail      = "X-User-Email"
	HeaderIdempotencyKey = "Idempotency-Key"
)

func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		evt := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Error()
		}
		if last := c.Errors.Last(); last != nil {
			evt = evt.Err(last.Err)
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// currentUser reads the identity the gateway forwards in headers.
func currentUser(c *gin.Context) services.CustomerInfo {
	return services.CustomerInfo{
		ID:    c.GetHeader(HeaderUserID),
		Name:  c.GetHeader(HeaderUserName),
		Phone: c.GetHeader(HeaderUserPhone),
		Email: c.GetHeader(HeaderUserEmail),
	}
}

// rateLimit and idempotent resolve their dependency on every request, so
// the handler can be reconfigured after routes are registered.
func rateLimit(limiter func() *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l := limiter(); l != nil && !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many requests",
				Code:  "rate-limited",
			})
			return
		}
		c.Next()
	}
}

// idempotent rejects a request whose Idempotency-Key was already seen. The
// key is released when the request fails so the client can try again.
func idempotent(storeFn func() infra.IdempotencyStoreInterface, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := storeFn()
		key := c.GetHeader(HeaderIdempotencyKey)
		if store == nil || key == "" {
			c.Next()
			return
		}

		ok, err := store.Reserve(c.Request.Context(), key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("idempotency store unavailable")
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
				Error: "duplicate request",
				Code:  "conflict",
			})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			if err := store.Release(c.Request.Context(), key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release idempotency key")
			}
		}
	}
}
