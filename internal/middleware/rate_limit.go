package middleware

import (
	"net/http"
	"strconv"
	"time"

	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/ratelimit"
)

// RateLimitMiddleware создает middleware для ограничения частоты запросов.
// Поддерживает лимиты по IP адресу и по пользователю.
// Ограничивает общий поток запросов вызывающего; лимиты конкретных
// API ключей проверяются отдельно внутри валидации ключа.
func RateLimitMiddleware(rateLimiter ratelimit.RateLimiter, limit int, window time.Duration, byUser bool, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string

			if byUser {
				if userID, ok := r.Context().Value(service.UserIDKey).(string); ok && userID != "" {
					key = "user:" + userID
				} else {
					key = "ip:" + ClientIP(r)
				}
			} else {
				key = "ip:" + ClientIP(r)
			}

			result, err := rateLimiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Проверка лимита не является авторизацией:
				// при недоступном Redis запрос пропускается
				log.Error("rate limit check failed",
					logger.Error(err),
					logger.String("key", key))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				log.Warn("rate limit exceeded",
					logger.String("key", key),
					logger.Int("limit", limit),
					logger.String("window", window.String()))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":"Rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
