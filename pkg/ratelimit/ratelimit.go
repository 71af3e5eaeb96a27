package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Result представляет результат проверки лимита
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// Allow проверяет лимит для заданного ключа в фиксированном окне.
	// Remaining — оставшееся число запросов, ResetTime — момент сброса окна.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// RedisRateLimiter реализация RateLimiter с использованием Redis
// Использует fixed window алгоритм: счетчик хранится в ключе,
// привязанном к началу окна, поэтому сброс происходит на границе окна.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Allow проверяет, не превышен ли лимит запросов для заданного ключа
// Алгоритм:
// 1. Вычисляем начало текущего окна (время, округленное вниз до длины окна)
// 2. Атомарно увеличиваем счетчик в ключе окна (INCR)
// 3. На первом запросе окна устанавливаем TTL
// 4. Сравниваем значение счетчика с лимитом
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	// Начало текущего окна
	windowStart := time.Now().UTC().Truncate(window)
	resetTime := windowStart.Add(window)

	// Формируем ключ для Redis, привязанный к окну
	redisKey := fmt.Sprintf("rate_limit:%s:%d", key, windowStart.Unix())

	// Атомарно увеличиваем счетчик и устанавливаем TTL в одной транзакции
	tx := r.client.TxPipeline()
	incr := tx.Incr(ctx, redisKey)
	tx.Expire(ctx, redisKey, window+time.Second)

	if _, err := tx.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute rate limit transaction: %w", err)
	}

	count := incr.Val()

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   int(count) <= limit,
		Remaining: remaining,
		ResetTime: resetTime,
	}, nil
}
